package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lab.nexedi.com/kirr/colonel/content"
	"lab.nexedi.com/kirr/colonel/gitstore"
	"lab.nexedi.com/kirr/colonel/revision"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestDoc(t *testing.T) *Document {
	t.Helper()
	return New(WithStoragePath(t.TempDir()))
}

// S1 - basic save/load.
func TestSaveLoadBasic(t *testing.T) {
	d := newTestDoc(t)
	d.SetContent(content.NewMap(map[string]content.Value{"title": content.NewString("hi")}))

	author := revision.Author{Name: "A", Email: "a@x"}
	rev, err := d.Save(author, "m", t0)
	require.NoError(t, err)

	reopened, err := Open(d.storagePath, d.id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	coll, err := reopened.Revisions()
	require.NoError(t, err)
	tip, ok, err := coll.ByState("master")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rev.ID(), tip.ID())

	c, err := tip.Content()
	require.NoError(t, err)
	assert.True(t, c.Equal(d.content))

	gotAuthor, err := tip.Author()
	require.NoError(t, err)
	assert.Equal(t, revision.Author{Name: "A", Email: "a@x"}, gotAuthor)

	prev, err := tip.Previous()
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.True(t, prev.IsRoot())
}

// S2 - two saves linear.
func TestSaveTwiceLinearHistory(t *testing.T) {
	d := newTestDoc(t)
	author := revision.Author{Name: "A", Email: "a@x"}

	d.SetContent(content.NewMap(map[string]content.Value{"title": content.NewString("hi")}))
	s1, err := d.Save(author, "m1", t0)
	require.NoError(t, err)

	d.SetContent(content.NewMap(map[string]content.Value{"title": content.NewString("hi2")}))
	s2, err := d.Save(author, "m2", t0.Add(time.Minute))
	require.NoError(t, err)

	hist, err := d.History("master")
	require.NoError(t, err)
	revs, err := hist.All()
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, s2.ID(), revs[0].ID())
	assert.Equal(t, s1.ID(), revs[1].ID())
	assert.True(t, revs[2].IsRoot())

	prev, err := s2.Previous()
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, s1.ID(), prev.ID())
}

// S3 - promotion preserves content.
func TestPromoteMasterToPublished(t *testing.T) {
	d := newTestDoc(t)
	author := revision.Author{Name: "A", Email: "a@x"}

	v := content.NewMap(map[string]content.Value{"title": content.NewString("hi")})
	d.SetContent(v)
	s1, err := d.Save(author, "m1", t0)
	require.NoError(t, err)

	p, err := d.Promote("master", "published", author, "go live", t0.Add(time.Minute))
	require.NoError(t, err)

	typ, err := p.Type()
	require.NoError(t, err)
	assert.Equal(t, revision.TypePromotion, typ)

	pContent, err := p.Content()
	require.NoError(t, err)
	assert.True(t, pContent.Equal(v))

	origin, err := p.Origin()
	require.NoError(t, err)
	require.NotNil(t, origin)
	assert.Equal(t, s1.ID(), origin.ID())
	assert.NotEqual(t, s1.ID(), p.ID())

	prev, err := p.Previous()
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.True(t, prev.IsRoot())
}

// S4 / S5 - has-been-promoted-to.
func TestHasBeenPromotedToAcrossSaves(t *testing.T) {
	d := newTestDoc(t)
	author := revision.Author{Name: "A", Email: "a@x"}

	d.SetContent(content.NewString("v1"))
	m1, err := d.Save(author, "m1", t0)
	require.NoError(t, err)

	d.SetContent(content.NewString("v2"))
	m2, err := d.Save(author, "m2", t0.Add(time.Minute))
	require.NoError(t, err)

	promoted, err := m2.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.False(t, promoted, "S4: no published branch yet")

	_, err = d.Promote("master", "published", author, "go live", t0.Add(2*time.Minute))
	require.NoError(t, err)

	d.SetContent(content.NewString("v3"))
	m3, err := d.Save(author, "m3", t0.Add(3*time.Minute))
	require.NoError(t, err)

	promoted, err = m1.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.True(t, promoted, "S5: m1 is an ancestor of the promoted m2")

	promoted, err = m3.HasBeenPromotedTo("published")
	require.NoError(t, err)
	assert.False(t, promoted, "S5: m3 was never the source of a promotion")
}

// Universal property 6: CAS safety under a simulated race.
func TestConcurrentSaveLoses(t *testing.T) {
	d := newTestDoc(t)
	author := revision.Author{Name: "A", Email: "a@x"}

	d.SetContent(content.NewString("base"))
	base, err := d.Save(author, "base", t0)
	require.NoError(t, err)

	store, err := d.ensureStore()
	require.NoError(t, err)

	baseID, err := gitstore.ParseOid(base.ID())
	require.NoError(t, err)

	// Two clients read the same tip and both attempt a write against it.
	commitA, err := writeContentCommit(store, content.NewString("a"), author, "a", t0.Add(time.Minute), baseID)
	require.NoError(t, err)
	commitB, err := writeContentCommit(store, content.NewString("b"), author, "b", t0.Add(time.Minute), baseID)
	require.NoError(t, err)

	require.NoError(t, store.UpdateRef(refName("master"), commitA, baseID))
	err = store.UpdateRef(refName("master"), commitB, baseID)
	require.Error(t, err)

	tip, ok, err := store.ResolveRef(refName("master"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, commitA.String(), tip.String())
}

// Promote against a never-saved source fails with ErrMissingSource.
func TestPromoteMissingSource(t *testing.T) {
	d := newTestDoc(t)
	author := revision.Author{Name: "A", Email: "a@x"}
	_, err := d.Promote("master", "published", author, "go live", t0)
	require.Error(t, err)
}

// Post-write notification failures wrap IndexingFailedError without
// disturbing the commit.
func TestIndexingFailureDoesNotUndoTheWrite(t *testing.T) {
	d := New(WithStoragePath(t.TempDir()), WithIndex(failingIndexer{}))
	author := revision.Author{Name: "A", Email: "a@x"}
	d.SetContent(content.NewString("v1"))

	rev, err := d.Save(author, "m", t0)
	require.Error(t, err)
	require.NotNil(t, rev, "the commit must still be returned alongside the indexing error")

	var idxErr *IndexingFailedError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, rev.ID(), idxErr.RevisionID)

	coll, err := d.Revisions()
	require.NoError(t, err)
	tip, ok, err := coll.ByState("master")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rev.ID(), tip.ID())
}

type failingIndexer struct{}

func (failingIndexer) Register(string, string) error {
	return assert.AnError
}
