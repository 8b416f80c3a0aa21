// Package revision implements the immutable per-document DAG node: a
// Revision carries a Content snapshot, authorship, and links to its
// previous (same-branch parent) and origin (promotion source) revisions.
//
// Revision | One node in a document's history
package revision

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"lab.nexedi.com/kirr/colonel/content"
	"lab.nexedi.com/kirr/colonel/gitstore"
)

// Author identifies who wrote a revision.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func (a Author) signature() gitstore.Signature {
	return gitstore.Signature{Name: a.Name, Email: a.Email}
}

func authorFrom(sig gitstore.Signature) Author {
	return Author{Name: sig.Name, Email: sig.Email}
}

// Type is the derived revision kind.
type Type int

const (
	// TypeOrphan has no parents: the document's root revision.
	TypeOrphan Type = iota
	// TypeSave has only a previous link.
	TypeSave
	// TypePromotion has both a previous (destination branch) and an
	// origin (source branch) link.
	TypePromotion
)

func (t Type) String() string {
	switch t {
	case TypeOrphan:
		return "orphan"
	case TypeSave:
		return "save"
	case TypePromotion:
		return "promotion"
	default:
		return "invalid"
	}
}

// ErrInvalidContent is returned when a revision's content blob cannot be
// parsed as content.Value.
var ErrInvalidContent = errors.New("revision: content is not valid")

// Revision is a node in a document's history. It is always constructible
// from a bare id (a "lazy" revision) without touching the store; metadata
// is resolved on first access, at most once.
//
// Revision holds a non-owning handle to the document's object store
// (gitstore.Backend) and the document's root revision id, rather than a
// reference to the owning Document itself, so it stays the narrowest
// handle that can resolve a ref or look up a commit.
type Revision struct {
	id      gitstore.Oid
	backend gitstore.Backend
	rootID  gitstore.Oid
	state   string // traversal hint, not part of identity
	logger  hclog.Logger

	once    sync.Once
	loadErr error
	tree    gitstore.Oid
	parents []gitstore.Oid
	author  Author
	message string
	at      time.Time

	contentOnce sync.Once
	contentVal  content.Value
	contentErr  error
}

// Option configures a Revision at construction time.
type Option func(*Revision)

// WithLogger overrides the default null logger.
func WithLogger(l hclog.Logger) Option { return func(r *Revision) { r.logger = l } }

// New constructs a lazy Revision bound to id. backend and rootID identify
// the document it belongs to; state is an optional traversal hint.
func New(backend gitstore.Backend, rootID, id gitstore.Oid, state string, opts ...Option) *Revision {
	r := &Revision{backend: backend, rootID: rootID, id: id, state: state, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the revision's content-addressed id. This never touches the
// store.
func (r *Revision) ID() string {
	return r.id.String()
}

func (r *Revision) load() error {
	r.once.Do(func() {
		r.logger.Debug("loading commit", "revision", r.id)
		c, err := r.backend.LookupCommit(r.id)
		if err != nil {
			r.loadErr = fmt.Errorf("revision %s: %w", r.id, err)
			return
		}
		r.tree = c.Tree
		r.parents = c.Parents
		r.author = authorFrom(c.Author)
		r.message = c.Message
		r.at = c.Timestamp
	})
	return r.loadErr
}

// Author returns the revision's author, loading the commit on first access.
func (r *Revision) Author() (Author, error) {
	if err := r.load(); err != nil {
		return Author{}, err
	}
	return r.author, nil
}

// Message returns the revision's commit message.
func (r *Revision) Message() (string, error) {
	if err := r.load(); err != nil {
		return "", err
	}
	return r.message, nil
}

// Timestamp returns the revision's creation time.
func (r *Revision) Timestamp() (time.Time, error) {
	if err := r.load(); err != nil {
		return time.Time{}, err
	}
	return r.at, nil
}

// Content returns the revision's content snapshot, resolved from the
// commit's tree's single "content" blob.
func (r *Revision) Content() (content.Value, error) {
	if err := r.load(); err != nil {
		return content.Value{}, err
	}
	r.contentOnce.Do(func() {
		blobID, err := r.blobStore().ContentBlob(r.tree)
		if err != nil {
			r.contentErr = fmt.Errorf("revision %s: %w", r.id, err)
			return
		}
		raw, err := r.backend.ReadBlob(blobID)
		if err != nil {
			r.contentErr = fmt.Errorf("revision %s: %w", r.id, err)
			return
		}
		v, err := content.FromJSON(raw)
		if err != nil {
			r.contentErr = fmt.Errorf("revision %s: %w: %w", r.id, ErrInvalidContent, err)
			return
		}
		r.contentVal = v
	})
	return r.contentVal, r.contentErr
}

// blobStore narrows r.backend to the tree-entry lookup gitstore.Store
// exposes. Backend implementations that embed *gitstore.Store satisfy this
// automatically; a hand-rolled test Backend must provide it too.
type contentBlobResolver interface {
	ContentBlob(treeID gitstore.Oid) (gitstore.Oid, error)
}

func (r *Revision) blobStore() contentBlobResolver {
	if cr, ok := r.backend.(contentBlobResolver); ok {
		return cr
	}
	panic(fmt.Sprintf("revision: backend %T does not implement ContentBlob", r.backend))
}

// Previous returns the same-branch parent, or nil if r has none (only the
// root revision has no previous).
func (r *Revision) Previous() (*Revision, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	if len(r.parents) == 0 {
		return nil, nil
	}
	return New(r.backend, r.rootID, r.parents[0], r.state, WithLogger(r.logger)), nil
}

// Origin returns the promotion source, or nil if r is not a promotion.
func (r *Revision) Origin() (*Revision, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	if len(r.parents) < 2 {
		return nil, nil
	}
	// origin carries no state hint of its own state by default: it is
	// reached by its own ref, not the state r was reached through.
	return New(r.backend, r.rootID, r.parents[1], "", WithLogger(r.logger)), nil
}

// State returns the traversal hint attached when this Revision was reached
// via a state ref. It is not part of identity.
func (r *Revision) State() string {
	return r.state
}

// Type returns the derived revision kind.
func (r *Revision) Type() (Type, error) {
	if err := r.load(); err != nil {
		return 0, err
	}
	switch len(r.parents) {
	case 0:
		return TypeOrphan, nil
	case 1:
		return TypeSave, nil
	default:
		return TypePromotion, nil
	}
}

// IsRoot reports whether r is the document's designated root revision.
func (r *Revision) IsRoot() bool {
	return r.id.Equal(r.rootID)
}

// Equal reports identity equality: two Revisions are equal iff their ids
// match. State hints are not part of identity.
func (r *Revision) Equal(other *Revision) bool {
	if other == nil {
		return false
	}
	return r.id.Equal(other.id)
}

// HasBeenPromotedTo reports whether there exists a promotion commit on
// state whose origin chain is r or a descendant of r.
// Operationally: walk state's branch backwards; for each promotion commit
// found there, check whether r is an ancestor of (or equal to) that
// commit's origin by walking origin's own previous chain.
func (r *Revision) HasBeenPromotedTo(state string) (bool, error) {
	r.logger.Debug("resolving ref for has-been-promoted-to", "revision", r.id, "state", state)
	tip, ok, err := r.backend.ResolveRef(refName(state))
	if err != nil {
		return false, fmt.Errorf("revision %s: has-been-promoted-to %s: %w", r.id, state, err)
	}
	if !ok {
		return false, nil
	}

	seen := make(gitstore.OidSet)
	cur := New(r.backend, r.rootID, tip, state, WithLogger(r.logger))
	for {
		r.logger.Debug("walking branch for has-been-promoted-to", "revision", r.id, "state", state, "at", cur.id)
		if seen.Contains(cur.id) {
			return false, fmt.Errorf("revision %s: has-been-promoted-to %s: %w", r.id, state, gitstore.ErrCorruption)
		}
		seen.Add(cur.id)

		typ, err := cur.Type()
		if err != nil {
			return false, err
		}
		if typ == TypePromotion {
			origin, err := cur.Origin()
			if err != nil {
				return false, err
			}
			ancestor, err := ancestorOrEqual(r, origin)
			if err != nil {
				return false, err
			}
			if ancestor {
				return true, nil
			}
		}

		prev, err := cur.Previous()
		if err != nil {
			return false, err
		}
		if prev == nil {
			return false, nil
		}
		cur = prev
	}
}

// ancestorOrEqual reports whether r is target or one of target's ancestors
// reached by walking Previous links.
func ancestorOrEqual(r, target *Revision) (bool, error) {
	seen := make(gitstore.OidSet)
	cur := target
	for cur != nil {
		if cur.Equal(r) {
			return true, nil
		}
		if seen.Contains(cur.id) {
			return false, fmt.Errorf("revision %s: ancestor walk: %w", r.id, gitstore.ErrCorruption)
		}
		seen.Add(cur.id)
		var err error
		cur, err = cur.Previous()
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// refName builds the ref path for a state branch. State names
// are caller-supplied and may contain characters git disallows in ref
// components, so they are escaped first (gitstore.EscapeRefComponent).
func refName(state string) string {
	return "refs/heads/" + gitstore.EscapeRefComponent(state)
}

// RootRefName is the dedicated ref the document's root revision lives
// under.
const RootRefName = "refs/tags/root"
