package revision

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/colonel/content"
	"lab.nexedi.com/kirr/colonel/gitstore"
)

func newTestBackend(t *testing.T) *gitstore.Store {
	t.Helper()
	s, err := gitstore.Init(filepath.Join(t.TempDir(), "doc.git"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var testAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func writeRevision(t *testing.T, s *gitstore.Store, v content.Value, author Author, msg string, parents ...gitstore.Oid) gitstore.Oid {
	t.Helper()
	raw, err := v.ToJSON()
	require.NoError(t, err)
	blob, err := s.WriteBlob(raw)
	require.NoError(t, err)
	tree, err := s.WriteTree(map[string]gitstore.Oid{"content": blob})
	require.NoError(t, err)
	commit, err := s.WriteCommit(tree, parents, author.signature(), msg, testAt)
	require.NoError(t, err)
	return commit
}

func TestLazyRevisionDoesNotTouchStoreUntilAccessed(t *testing.T) {
	s := newTestBackend(t)
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	counting := &countingBackend{Store: s}
	r := New(counting, root, root, "")

	// constructing and reading the id must not touch the store (property 7).
	assert.Equal(t, root.String(), r.ID())
	assert.Equal(t, 0, counting.lookups)

	msg, err := r.Message()
	require.NoError(t, err)
	assert.Equal(t, "First Commit", msg)
	assert.Equal(t, 1, counting.lookups, "accessing metadata must trigger exactly one lookup")

	// further metadata access must not add lookups.
	_, err = r.Timestamp()
	require.NoError(t, err)
	assert.Equal(t, 1, counting.lookups)
}

type countingBackend struct {
	*gitstore.Store
	lookups int
}

func (c *countingBackend) LookupCommit(id gitstore.Oid) (gitstore.Commit, error) {
	c.lookups++
	return c.Store.LookupCommit(id)
}

func TestRootUniquenessAndType(t *testing.T) {
	s := newTestBackend(t)
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	r := New(s, root, root, "")
	assert.True(t, r.IsRoot())
	typ, err := r.Type()
	require.NoError(t, err)
	assert.Equal(t, TypeOrphan, typ)

	prev, err := r.Previous()
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestSaveThenSaveLinearHistory(t *testing.T) {
	s := newTestBackend(t)
	author := Author{Name: "A", Email: "a@x"}
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	s1 := writeRevision(t, s, content.NewMap(map[string]content.Value{"title": content.NewString("hi")}), author, "m1", root)
	require.NoError(t, s.UpdateRef("refs/heads/master", s1, gitstore.Oid{}))

	s2 := writeRevision(t, s, content.NewMap(map[string]content.Value{"title": content.NewString("hi2")}), author, "m2", s1)
	require.NoError(t, s.UpdateRef("refs/heads/master", s2, s1))

	coll := NewCollection(s)
	tip, ok, err := coll.ByState("master")
	require.NoError(t, err)
	require.True(t, ok)

	hist, err := coll.History("master")
	require.NoError(t, err)
	revs, err := hist.All()
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, s2.String(), revs[0].ID())
	assert.Equal(t, s1.String(), revs[1].ID())
	assert.Equal(t, root.String(), revs[2].ID())
	assert.True(t, revs[2].IsRoot())

	assert.Equal(t, tip.ID(), s2.String())
	prev, err := tip.Previous()
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, s1.String(), prev.ID())
	root1Prev, err := prev.Previous()
	require.NoError(t, err)
	require.NotNil(t, root1Prev)
	assert.True(t, root1Prev.IsRoot())
}

func TestPromotionPreservesContentAndProvenance(t *testing.T) {
	s := newTestBackend(t)
	author := Author{Name: "A", Email: "a@x"}
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	v := content.NewMap(map[string]content.Value{"title": content.NewString("hi")})
	s1 := writeRevision(t, s, v, author, "m1", root)
	require.NoError(t, s.UpdateRef("refs/heads/master", s1, gitstore.Oid{}))

	p1 := writeRevision(t, s, v, author, "promote", root, s1)
	require.NoError(t, s.UpdateRef("refs/heads/published", p1, gitstore.Oid{}))

	coll := NewCollection(s)
	promoted, ok, err := coll.ByState("published")
	require.NoError(t, err)
	require.True(t, ok)

	typ, err := promoted.Type()
	require.NoError(t, err)
	assert.Equal(t, TypePromotion, typ)

	origin, err := promoted.Origin()
	require.NoError(t, err)
	require.NotNil(t, origin)
	assert.Equal(t, s1.String(), origin.ID())
	assert.NotEqual(t, s1.String(), promoted.ID())

	promotedContent, err := promoted.Content()
	require.NoError(t, err)
	assert.True(t, promotedContent.Equal(v))

	prev, err := promoted.Previous()
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.True(t, prev.IsRoot())
}

func TestHasBeenPromotedTo(t *testing.T) {
	s := newTestBackend(t)
	author := Author{Name: "A", Email: "a@x"}
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	m1 := writeRevision(t, s, content.NewString("v1"), author, "m1", root)
	require.NoError(t, s.UpdateRef("refs/heads/master", m1, gitstore.Oid{}))

	m2 := writeRevision(t, s, content.NewString("v2"), author, "m2", m1)
	require.NoError(t, s.UpdateRef("refs/heads/master", m2, m1))

	coll := NewCollection(s)

	// S4: draft-only document, no published branch -> false.
	m2Rev, ok, err := coll.ByState("master")
	require.NoError(t, err)
	require.True(t, ok)
	promoted, err := m2Rev.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.False(t, promoted)

	// publish m2.
	p1 := writeRevision(t, s, content.NewString("v2"), author, "promote", root, m2)
	require.NoError(t, s.UpdateRef("refs/heads/published", p1, gitstore.Oid{}))

	m3 := writeRevision(t, s, content.NewString("v3"), author, "m3", m2)
	require.NoError(t, s.UpdateRef("refs/heads/master", m3, m2))

	m3Rev, ok, err := coll.ByState("master")
	require.NoError(t, err)
	require.True(t, ok)

	m1Rev, err := m3Rev.previousN(2)
	require.NoError(t, err)

	// S5: m1 (ancestor of the promoted m2) -> true.
	promoted, err = m1Rev.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.True(t, promoted)

	// S5: m3 (a later save, never itself promoted) -> false.
	promoted, err = m3Rev.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestCollectionByIDAndHistoryByID(t *testing.T) {
	s := newTestBackend(t)
	author := Author{Name: "A", Email: "a@x"}
	root := writeRevision(t, s, content.Null(), Author{Name: "The Colonel", Email: "colonel@example.com"}, "First Commit")
	require.NoError(t, s.UpdateRef(RootRefName, root, gitstore.Oid{}))

	s1 := writeRevision(t, s, content.NewString("v1"), author, "m1", root)
	require.NoError(t, s.UpdateRef("refs/heads/master", s1, gitstore.Oid{}))

	s2 := writeRevision(t, s, content.NewString("v2"), author, "m2", s1)
	require.NoError(t, s.UpdateRef("refs/heads/master", s2, s1))

	coll := NewCollection(s)

	// ByID resolves a bare commit id, not just a state name; the returned
	// revision is lazy until its metadata is accessed.
	byID, err := coll.ByID(s1.String())
	require.NoError(t, err)
	assert.Equal(t, s1.String(), byID.ID())
	typ, err := byID.Type()
	require.NoError(t, err)
	assert.Equal(t, TypeSave, typ)

	// A string that is not a valid object id is rejected up front.
	_, err = coll.ByID("not-a-valid-oid")
	require.Error(t, err)

	// History falls through to the ByID branch when stateOrID does not
	// name an existing state ref.
	hist, err := coll.History(s2.String())
	require.NoError(t, err)
	revs, err := hist.All()
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, s2.String(), revs[0].ID())
	assert.Equal(t, s1.String(), revs[1].ID())
	assert.True(t, revs[2].IsRoot())
}

func (r *Revision) previousN(n int) (*Revision, error) {
	cur := r
	for i := 0; i < n; i++ {
		p, err := cur.Previous()
		if err != nil {
			return nil, err
		}
		cur = p
	}
	return cur, nil
}
