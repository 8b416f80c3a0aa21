// Package document implements Document: the owner of one per-id object
// store, the in-memory content buffer staged between writes, and the
// save/save_in/promote/history write protocol.
//
// Document | One versioned piece of content, plus its write protocol
package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"lab.nexedi.com/kirr/colonel/content"
	"lab.nexedi.com/kirr/colonel/gitstore"
	"lab.nexedi.com/kirr/colonel/revision"
	"lab.nexedi.com/kirr/colonel/search"
)

// DefaultType is the search type tag a Document uses unless overridden.
const DefaultType = "document"

// rootAuthor is the sentinel author every document's root revision is
// committed under.
var rootAuthor = revision.Author{Name: "The Colonel", Email: "colonel@example.com"}

const rootMessage = "First Commit"

// Indexer is the registration capability Document notifies after every
// successful write. A second pluggable sink alongside search.Provider,
// following the same "explicit no-op, no null checks" shape.
type Indexer interface {
	Register(id, typ string) error
}

// noopIndexer satisfies Indexer for Documents built outside a colonel.Store,
// e.g. in this package's own tests.
type noopIndexer struct{}

func (noopIndexer) Register(string, string) error { return nil }

// Option configures a Document at construction time (New or Open).
type Option func(*Document)

// WithID overrides the default random id.
func WithID(id string) Option { return func(d *Document) { d.id = id } }

// WithType overrides the default search type tag.
func WithType(typ string) Option { return func(d *Document) { d.typ = typ } }

// WithStoragePath sets the root directory under which this document's
// object store lives, at <storage_path>/<id>.
func WithStoragePath(path string) Option { return func(d *Document) { d.storagePath = path } }

// WithObjectStoreBackend injects an already-open backend, bypassing the
// storage-path-derived gitstore.Store. Mainly for tests and for
// colonel.Config.ObjectStoreBackend.
func WithObjectStoreBackend(backend gitstore.Backend) Option {
	return func(d *Document) { d.store = backend }
}

// WithLogger overrides the default null logger.
func WithLogger(l hclog.Logger) Option { return func(d *Document) { d.logger = l } }

// WithSearch overrides the default no-op search provider.
func WithSearch(p search.Provider) Option { return func(d *Document) { d.search = p } }

// WithIndex overrides the default no-op DocumentIndex registration sink.
func WithIndex(idx Indexer) Option { return func(d *Document) { d.index = idx } }

// newID returns a 128-bit random hex id with no dashes.
func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Document is the aggregate: one id, one type tag, one lazily-opened
// object store, and an in-memory content buffer holding edits not yet
// persisted by Save/SaveIn/Promote.
type Document struct {
	id          string
	typ         string
	storagePath string
	logger      hclog.Logger
	search      search.Provider
	index       Indexer

	mu      sync.Mutex
	store   gitstore.Backend
	content content.Value
}

// New constructs a Document, applying opts over the defaults: a random id,
// type "document", a null logger, a no-op search provider, and a no-op
// index sink.
func New(opts ...Option) *Document {
	d := &Document{
		id:      newID(),
		typ:     DefaultType,
		logger:  hclog.NewNullLogger(),
		search:  search.NoOp{},
		index:   noopIndexer{},
		content: content.Null(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open resolves an existing document's object store at
// <storagePath>/<id>, failing with ErrNotFound if it has never been
// written. If opts already inject a backend (WithObjectStoreBackend),
// that backend is used as-is instead of opening one on disk.
func Open(storagePath, id string, opts ...Option) (*Document, error) {
	opts = append([]Option{WithID(id), WithStoragePath(storagePath)}, opts...)
	d := New(opts...)
	if d.store == nil {
		store, err := gitstore.Open(filepath.Join(storagePath, id))
		if err != nil {
			return nil, fmt.Errorf("document: open %s: %w", id, err)
		}
		d.store = store
	}
	return d, nil
}

// ID returns the document's opaque identifier.
func (d *Document) ID() string { return d.id }

// Type returns the document's search type tag.
func (d *Document) Type() string { return d.typ }

// SetContent replaces the in-memory content buffer. Takes effect on the
// next Save/SaveIn/Promote call; does not itself write anything.
func (d *Document) SetContent(v content.Value) { d.content = v }

// Content returns the in-memory content buffer (not necessarily the latest
// persisted revision — callers that want that must go through Revisions()).
func (d *Document) Content() content.Value { return d.content }

// Revisions returns an accessor over this document's persisted revisions,
// opening the object store on first use.
func (d *Document) Revisions() (*revision.Collection, error) {
	store, err := d.ensureStore()
	if err != nil {
		return nil, err
	}
	return revision.NewCollection(store, revision.WithCollectionLogger(d.logger)), nil
}

// History walks a state's (or a bare revision id's) previous-chain back to
// the root.
func (d *Document) History(stateOrID string) (*revision.HistoryIter, error) {
	coll, err := d.Revisions()
	if err != nil {
		return nil, err
	}
	return coll.History(stateOrID)
}

// Close releases the underlying object store handle, if one was opened.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil
	}
	err := d.store.Close()
	d.store = nil
	return err
}

func (d *Document) ensureStore() (gitstore.Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		return d.store, nil
	}
	if d.storagePath == "" {
		return nil, fmt.Errorf("document: %s has no storage path and no injected backend", d.id)
	}
	store, err := gitstore.Init(filepath.Join(d.storagePath, d.id))
	if err != nil {
		return nil, fmt.Errorf("document: init store for %s: %w", d.id, err)
	}
	d.store = store
	return store, nil
}

// ensureRoot creates the document's root revision on first write if it
// doesn't already exist: empty content, sentinel author/message, no
// parents, and points the root ref at it.
func ensureRoot(store gitstore.Backend, at time.Time) (gitstore.Oid, error) {
	if id, ok, err := store.ResolveRef(revision.RootRefName); err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: resolve root: %w", err)
	} else if ok {
		return id, nil
	}

	id, err := writeContentCommit(store, content.Null(), rootAuthor, rootMessage, at)
	if err != nil {
		return gitstore.Oid{}, err
	}
	if err := store.UpdateRef(revision.RootRefName, id, gitstore.Oid{}); err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: point root ref: %w", err)
	}
	return id, nil
}

// writeContentCommit serializes v, builds its tree, and creates a commit
// with the given parents. Shared by root creation and Save/SaveIn.
func writeContentCommit(store gitstore.Backend, v content.Value, author revision.Author, message string, at time.Time, parents ...gitstore.Oid) (gitstore.Oid, error) {
	raw, err := v.ToJSON()
	if err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: %w: %v", revision.ErrInvalidContent, err)
	}
	blob, err := store.WriteBlob(raw)
	if err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: write content blob: %w", err)
	}
	tree, err := store.WriteTree(map[string]gitstore.Oid{"content": blob})
	if err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: write content tree: %w", err)
	}
	return writeTreeCommit(store, tree, author, message, at, parents...)
}

// writeTreeCommit creates a commit directly from an existing tree id,
// without re-serializing content. Promotion uses this to reuse the origin's
// tree verbatim.
func writeTreeCommit(store gitstore.Backend, tree gitstore.Oid, author revision.Author, message string, at time.Time, parents ...gitstore.Oid) (gitstore.Oid, error) {
	sig := gitstore.Signature{Name: author.Name, Email: author.Email}
	id, err := store.WriteCommit(tree, parents, sig, message, at)
	if err != nil {
		return gitstore.Oid{}, fmt.Errorf("document: write commit: %w", err)
	}
	return id, nil
}

// refName builds the ref path for a state branch, escaping the
// caller-supplied state name the same way revision.refName does.
func refName(state string) string {
	return "refs/heads/" + gitstore.EscapeRefComponent(state)
}

// Save is equivalent to SaveIn("master", ...).
func (d *Document) Save(author revision.Author, message string, at time.Time) (*revision.Revision, error) {
	return d.SaveIn("master", author, message, at)
}

// SaveIn commits the buffered content onto state, linked to state's
// current tip as its previous revision.
func (d *Document) SaveIn(state string, author revision.Author, message string, at time.Time) (*revision.Revision, error) {
	store, err := d.ensureStore()
	if err != nil {
		return nil, err
	}

	rootID, err := ensureRoot(store, at)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("resolving state ref", "document", d.id, "state", state)
	previous, exists, err := store.ResolveRef(refName(state))
	if err != nil {
		return nil, fmt.Errorf("document: resolve state %s: %w", state, err)
	}
	expect := gitstore.Oid{}
	if !exists {
		previous = rootID
	} else {
		expect = previous
	}

	commit, err := writeContentCommit(store, d.content, author, message, at, previous)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateRef(refName(state), commit, expect); err != nil {
		if errors.Is(err, gitstore.ErrConcurrentWrite) {
			return nil, fmt.Errorf("document: save %s to %s: %w", d.id, state, ErrConcurrentWrite)
		}
		return nil, fmt.Errorf("document: save %s to %s: %w", d.id, state, err)
	}

	d.logger.Info("saved revision", "document", d.id, "state", state, "revision", commit)
	rev := revision.New(store, rootID, commit, state, revision.WithLogger(d.logger))
	return rev, d.afterWrite(rev, search.Event{Name: "save", To: state})
}

// Promote carries from's current revision onto to as a new revision with
// two parents (to's previous tip and from's tip as origin), reusing
// origin's tree verbatim rather than re-serializing content.
func (d *Document) Promote(from, to string, author revision.Author, message string, at time.Time) (*revision.Revision, error) {
	store, err := d.ensureStore()
	if err != nil {
		return nil, err
	}

	rootID, err := ensureRoot(store, at)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("resolving source ref", "document", d.id, "from", from)
	originID, ok, err := store.ResolveRef(refName(from))
	if err != nil {
		return nil, fmt.Errorf("document: resolve source %s: %w", from, err)
	}
	if !ok {
		return nil, fmt.Errorf("document: promote %s -> %s: %w", from, to, ErrMissingSource)
	}

	d.logger.Debug("resolving destination ref", "document", d.id, "to", to)
	previous, exists, err := store.ResolveRef(refName(to))
	if err != nil {
		return nil, fmt.Errorf("document: resolve destination %s: %w", to, err)
	}
	expect := gitstore.Oid{}
	if !exists {
		previous = rootID
	} else {
		expect = previous
	}

	originCommit, err := store.LookupCommit(originID)
	if err != nil {
		return nil, fmt.Errorf("document: promote %s -> %s: %w", from, to, err)
	}

	commit, err := writeTreeCommit(store, originCommit.Tree, author, message, at, previous, originID)
	if err != nil {
		return nil, err
	}

	if err := store.UpdateRef(refName(to), commit, expect); err != nil {
		if errors.Is(err, gitstore.ErrConcurrentWrite) {
			return nil, fmt.Errorf("document: promote %s -> %s: %w", from, to, ErrConcurrentWrite)
		}
		return nil, fmt.Errorf("document: promote %s -> %s: %w", from, to, err)
	}

	d.logger.Info("promoted revision", "document", d.id, "from", from, "to", to, "revision", commit)
	rev := revision.New(store, rootID, commit, to, revision.WithLogger(d.logger))
	return rev, d.afterWrite(rev, search.Event{Name: "promotion", To: to})
}

// afterWrite registers the document in the index, then notifies search,
// best-effort, after a successful save or promotion. A
// failed index registration or search call never undoes rev's commit: it
// surfaces as a wrapped IndexingFailedError alongside the successful write.
func (d *Document) afterWrite(rev *revision.Revision, event search.Event) error {
	var result *multierror.Error

	if err := d.index.Register(d.id, d.typ); err != nil {
		result = multierror.Append(result, fmt.Errorf("index register: %w", err))
	}

	if err := d.search.Index(context.Background(), search.DocumentRef{ID: d.id, Type: d.typ}, search.RevisionRef{ID: rev.ID()}, event.To, event); err != nil {
		result = multierror.Append(result, fmt.Errorf("search index: %w", err))
	}

	if result == nil {
		return nil
	}
	d.logger.Warn("post-write notification failed, commit stands", "document", d.id, "revision", rev.ID(), "error", result)
	return &IndexingFailedError{RevisionID: rev.ID(), Err: result}
}
