// Package colonel is the top-level entry point: it wires a storage root,
// a document.Index, and a search.Provider into every Document it opens or
// creates.
//
// Colonel | Versioned structured-content store with a publishing pipeline
package colonel

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"lab.nexedi.com/kirr/colonel/document"
	"lab.nexedi.com/kirr/colonel/gitstore"
	"lab.nexedi.com/kirr/colonel/search"
)

// Config is the configuration surface a Store needs, plus the ambient
// ones (logging, search) every Document built through a Store inherits.
type Config struct {
	// StoragePath is the root directory under which per-document object
	// stores and the DocumentIndex file live.
	StoragePath string

	// ObjectStoreBackend optionally overrides the default on-disk
	// gitstore.Store for every Document a Store opens or creates. Mainly
	// for tests; nil means each Document gets its own
	// <StoragePath>/<id> bare repository.
	ObjectStoreBackend gitstore.Backend

	// IndexName is the default search index name EnsureSearchIndex declares
	// mappings under. Document notifications do not carry it.
	IndexName string

	// Logger defaults to hclog.NewNullLogger() if nil.
	Logger hclog.Logger

	// Search defaults to search.NoOp{} if nil.
	Search search.Provider
}

// Store is an opened colonel: a storage root plus the document.Index and
// search.Provider every Document it hands out shares.
type Store struct {
	cfg   Config
	index *document.Index
}

// Open validates and wires cfg into a Store, creating the storage root and
// its DocumentIndex file location if absent.
func Open(cfg Config) (*Store, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("colonel: storage path required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("colonel: create storage path: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Search == nil {
		cfg.Search = search.NoOp{}
	}

	idx, err := document.OpenIndex(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	return &Store{cfg: cfg, index: idx}, nil
}

// storeWiring assembles the Options every Document this Store hands out
// shares, independent of id (NewDocument's random default or OpenDocument's
// caller-supplied one).
func (s *Store) storeWiring() []document.Option {
	opts := []document.Option{
		document.WithStoragePath(s.cfg.StoragePath),
		document.WithLogger(s.cfg.Logger),
		document.WithSearch(s.cfg.Search),
		document.WithIndex(s.index),
	}
	if s.cfg.ObjectStoreBackend != nil {
		opts = append(opts, document.WithObjectStoreBackend(s.cfg.ObjectStoreBackend))
	}
	return opts
}

// NewDocument builds a new Document wired to this Store's index and search
// provider. opts are applied after the Store's own wiring, so callers can
// still override id/type/etc.
func (s *Store) NewDocument(opts ...document.Option) *Document {
	d := document.New(append(s.storeWiring(), opts...)...)
	return &Document{Document: d, store: s}
}

// OpenDocument resolves an existing document by id, failing with
// document.ErrNotFound if it has never been written. With an
// ObjectStoreBackend configured, that backend is used as-is and no such
// check is made.
func (s *Store) OpenDocument(id string) (*Document, error) {
	d, err := document.Open(s.cfg.StoragePath, id, s.storeWiring()...)
	if err != nil {
		return nil, err
	}
	return &Document{Document: d, store: s}, nil
}

// Documents lists every (id, type) pair ever registered under this Store.
func (s *Store) Documents() ([]document.Entry, error) {
	return s.index.Documents()
}

// IndexName returns the Store's configured default search index name.
func (s *Store) IndexName() string { return s.cfg.IndexName }

// Document is a document.Document wired into a Store, re-exported so
// callers working against a Store never need to import the document
// package directly for the common path.
type Document struct {
	*document.Document
	store *Store
}

// EnsureSearchIndex declares typ's attribute mapping with the Store's
// search provider, under the Store's configured IndexName.
func (s *Store) EnsureSearchIndex(ctx context.Context, typ string, mapping search.Mapping) error {
	return s.cfg.Search.EnsureIndex(ctx, s.cfg.IndexName, typ, mapping)
}
