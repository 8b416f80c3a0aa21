// Package search defines the pluggable indexing sink a Document notifies
// after every successful write: a capability set rather
// than a concrete client, so the core never needs a nil check at its
// notification points.
//
// Search provider | External indexing/search back-end
package search

import "context"

// FieldType names a back-end-agnostic field kind for a Mapping entry.
type FieldType int

const (
	FieldText FieldType = iota
	FieldKeyword
	FieldDate
	FieldNumber
)

// Mapping is a document subtype's declared attribute schema.
type Mapping map[string]FieldType

// DocumentRef identifies the document a revision belongs to, without
// pulling in the document package (which itself depends on search).
type DocumentRef struct {
	ID   string
	Type string
}

// RevisionRef identifies the revision being indexed.
type RevisionRef struct {
	ID string
}

// Event is the notification payload passed to Index: which
// write operation produced the revision, and which state it landed on.
type Event struct {
	Name string // "save" | "promotion"
	To   string
}

// Hit is one result row from List or Search. Deliberately loose (a bag of
// named fields) since the core never interprets hit contents itself.
type Hit struct {
	DocumentID string
	Type       string
	State      string
	Fields     map[string]interface{}
}

// ListOptions narrows List to a subtype and/or state.
type ListOptions struct {
	Type  string
	State string
	Limit int
}

// Provider is the minimum surface a search back-end implements. Index is
// called after every successful Save/SaveIn/Promote; List and Search are
// read paths delegated entirely to the provider.
type Provider interface {
	EnsureIndex(ctx context.Context, indexName, typeName string, mapping Mapping) error
	Index(ctx context.Context, doc DocumentRef, rev RevisionRef, state string, event Event) error
	List(ctx context.Context, opts ListOptions) ([]Hit, error)
	Search(ctx context.Context, query string) ([]Hit, error)
}

// NoOp satisfies Provider by doing nothing, successfully. The default
// search.Provider for a colonel.Config that does not configure one.
type NoOp struct{}

func (NoOp) EnsureIndex(context.Context, string, string, Mapping) error { return nil }

func (NoOp) Index(context.Context, DocumentRef, RevisionRef, string, Event) error { return nil }

func (NoOp) List(context.Context, ListOptions) ([]Hit, error) { return nil, nil }

func (NoOp) Search(context.Context, string) ([]Hit, error) { return nil, nil }

var _ Provider = NoOp{}
