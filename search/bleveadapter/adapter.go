// Package bleveadapter is the embedded default search.Provider: one bleve
// index per configured (index_name, type_name) pair, backed by
// github.com/blevesearch/bleve/v2. Each index's field mappings are built
// from a caller-declared search.Mapping rather than a fixed schema.
package bleveadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"lab.nexedi.com/kirr/colonel/search"
)

// indexedDoc is the flat record bleve stores per (document, state): enough
// to reconstruct a search.Hit without consulting the revision store.
type indexedDoc struct {
	DocumentID string                 `json:"documentId"`
	Type       string                 `json:"type"`
	State      string                 `json:"state"`
	RevisionID string                 `json:"revisionId"`
	Event      string                 `json:"event"`
	Fields     map[string]interface{} `json:"fields"`
}

// Adapter implements search.Provider over one bleve index per (indexName,
// typeName) pair, opened lazily by EnsureIndex.
type Adapter struct {
	basePath string

	mu      sync.Mutex
	indexes map[string]bleve.Index // keyed by indexName+"/"+typeName
	byType  map[string]bleve.Index // keyed by typeName, for Index/List lookups
	paths   map[string]string
}

// New returns an Adapter rooted at basePath, which is created if absent.
func New(basePath string) (*Adapter, error) {
	if basePath == "" {
		return nil, fmt.Errorf("bleveadapter: base path required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("bleveadapter: create base path: %w", err)
	}
	return &Adapter{
		basePath: basePath,
		indexes:  make(map[string]bleve.Index),
		byType:   make(map[string]bleve.Index),
		paths:    make(map[string]string),
	}, nil
}

func key(indexName, typeName string) string {
	return indexName + "/" + typeName
}

// EnsureIndex opens or creates the bleve index for (indexName, typeName),
// projecting mapping onto bleve field mappings. Idempotent:
// calling it again with the same key is a no-op.
func (a *Adapter) EnsureIndex(ctx context.Context, indexName, typeName string, m search.Mapping) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key(indexName, typeName)
	if _, ok := a.indexes[k]; ok {
		return nil
	}

	path := filepath.Join(a.basePath, indexName, typeName+".bleve")
	idx, err := openOrCreate(path, buildMapping(m))
	if err != nil {
		return fmt.Errorf("bleveadapter: ensure index %s: %w", k, err)
	}
	a.indexes[k] = idx
	a.byType[typeName] = idx
	a.paths[k] = path
	return nil
}

func openOrCreate(path string, im mapping.IndexMapping) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	if err == bleve.ErrorIndexPathDoesNotExist {
		return bleve.New(path, im)
	}
	return nil, err
}

// buildMapping projects a search.Mapping onto bleve field mappings,
// following createDocumentMapping()'s text/keyword/date split.
func buildMapping(m search.Mapping) mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = "en"
	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()
	number := bleve.NewNumericFieldMapping()

	for field, typ := range m {
		path := "fields." + field
		switch typ {
		case search.FieldText:
			doc.AddFieldMappingsAt(path, text)
		case search.FieldKeyword:
			doc.AddFieldMappingsAt(path, keyword)
		case search.FieldDate:
			doc.AddFieldMappingsAt(path, date)
		case search.FieldNumber:
			doc.AddFieldMappingsAt(path, number)
		}
	}

	im.AddDocumentMapping("_default", doc)
	return im
}

// docID is the bleve document id a (document, state) pair maps to, per
// SPEC_FULL.md 4.8: "<doc_id>@<state>".
func docID(documentID, state string) string {
	return documentID + "@" + state
}

// Index implements search.Provider: upserts the indexed record for
// (doc.ID, state) into the (doc.Type-scoped) index named by
// colonel.Config.IndexName via EnsureIndex's key. Callers are expected to
// have called EnsureIndex for (indexName, doc.Type) already; Index itself
// only knows the typeName, so it indexes into the one index most recently
// opened by EnsureIndex for doc.Type, whatever its index name.
func (a *Adapter) Index(ctx context.Context, doc search.DocumentRef, rev search.RevisionRef, state string, event search.Event) error {
	idx, err := a.indexFor(doc.Type)
	if err != nil {
		return err
	}
	record := &indexedDoc{
		DocumentID: doc.ID,
		Type:       doc.Type,
		State:      state,
		RevisionID: rev.ID,
		Event:      event.Name,
	}
	if err := idx.Index(docID(doc.ID, state), record); err != nil {
		return fmt.Errorf("bleveadapter: index %s@%s: %w", doc.ID, state, err)
	}
	return nil
}

// indexFor resolves the index EnsureIndex opened for typeName. colonel.Store
// ensures at most one index name per type, so typeName alone disambiguates.
func (a *Adapter) indexFor(typeName string) (bleve.Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx, ok := a.byType[typeName]
	if !ok {
		return nil, fmt.Errorf("bleveadapter: no index ensured for type %q", typeName)
	}
	return idx, nil
}

// List returns indexed hits read directly off bleve rather than a
// free-text query. opts.Type selects the index and opts.Limit caps the hit
// count; opts.State is not applied, so hits for every state are returned.
func (a *Adapter) List(ctx context.Context, opts search.ListOptions) ([]search.Hit, error) {
	idx, err := a.indexFor(opts.Type)
	if err != nil {
		return nil, err
	}
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(q)
	req.Size = opts.Limit
	if req.Size == 0 {
		req.Size = 10000
	}
	req.Fields = []string{"*"}
	result, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleveadapter: list: %w", err)
	}
	return hitsFrom(result), nil
}

// Search runs a free-text query string against every open index (since
// search.Provider.Search is not scoped to a type).
func (a *Adapter) Search(ctx context.Context, query string) ([]search.Hit, error) {
	a.mu.Lock()
	indexes := make([]bleve.Index, 0, len(a.indexes))
	for _, idx := range a.indexes {
		indexes = append(indexes, idx)
	}
	a.mu.Unlock()

	var hits []search.Hit
	for _, idx := range indexes {
		q := bleve.NewQueryStringQuery(query)
		req := bleve.NewSearchRequest(q)
		req.Fields = []string{"*"}
		result, err := idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("bleveadapter: search: %w", err)
		}
		hits = append(hits, hitsFrom(result)...)
	}
	return hits, nil
}

func hitsFrom(result *bleve.SearchResult) []search.Hit {
	hits := make([]search.Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := search.Hit{Fields: make(map[string]interface{})}
		for k, v := range h.Fields {
			switch k {
			case "documentId":
				if s, ok := v.(string); ok {
					hit.DocumentID = s
				}
			case "type":
				if s, ok := v.(string); ok {
					hit.Type = s
				}
			case "state":
				if s, ok := v.(string); ok {
					hit.State = s
				}
			default:
				hit.Fields[k] = v
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

// Close releases every open bleve index.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for k, idx := range a.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("bleveadapter: close %s: %w", k, err)
		}
	}
	return firstErr
}

var _ search.Provider = (*Adapter)(nil)
