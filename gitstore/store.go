// Package gitstore is a content-addressed, append-only object store
// layered directly on libgit2 through git2go. One Store wraps one bare
// repository, which in this module always means one document.
//
// This package talks to libgit2 directly rather than shelling out to the
// `git` binary, so that ref updates can use a true compare-and-swap
// (git2go's References.CreateMatching) instead of read-then-write.
//
// Every value that crosses this package's API boundary is copied out of
// git2go's buffers before the owning git2go object can be garbage
// collected, since libgit2 owns that memory in C.
package gitstore

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	git2go "github.com/libgit2/git2go/v31"
)

// Signature identifies who authored or committed a revision.
type Signature struct {
	Name  string
	Email string
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

// Commit is the materialized view of a commit object: exactly the fields
// the revision layer needs, copied out of libgit2's memory.
type Commit struct {
	ID        Oid
	Tree      Oid
	Parents   []Oid
	Author    Signature
	Message   string
	Timestamp time.Time
}

// Backend is the object-store capability surface Document and Revision
// need, abstracted so tests and the colonel.Config.ObjectStoreBackend seam
// can supply an alternative implementation without touching
// document/revision.
type Backend interface {
	WriteBlob(data []byte) (Oid, error)
	WriteTree(entries map[string]Oid) (Oid, error)
	WriteCommit(tree Oid, parents []Oid, author Signature, message string, at time.Time) (Oid, error)
	LookupCommit(id Oid) (Commit, error)
	ReadBlob(id Oid) ([]byte, error)
	ResolveRef(name string) (Oid, bool, error)
	UpdateRef(name string, id Oid, expectPrevious Oid) error
	Close() error
}

var _ Backend = (*Store)(nil)

// Store is the default on-disk Backend: a single bare git repository.
type Store struct {
	path string
	repo *git2go.Repository
}

// Init idempotently creates (or opens, if already present) a bare
// repository at path.
func Init(path string) (*Store, error) {
	if s, err := Open(path); err == nil {
		return s, nil
	}
	repo, err := git2go.InitRepository(path, true)
	if err != nil {
		return nil, fmt.Errorf("gitstore: init %s: %w", path, err)
	}
	return &Store{path: path, repo: repo}, nil
}

// Open opens an existing bare repository at path, failing with ErrNotFound
// if it does not exist.
func Open(path string) (*Store, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		if isNotFoundErr(err) {
			return nil, fmt.Errorf("gitstore: open %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("gitstore: open %s: %w", path, err)
	}
	return &Store{path: path, repo: repo}, nil
}

// Path returns the filesystem path the store was opened at.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying libgit2 repository handle. Go's GC does not
// know about libgit2's internal reference counts, so callers must Close a
// Store they are done with.
func (s *Store) Close() error {
	s.repo.Free()
	return nil
}

// WriteBlob writes a content-addressed blob and returns its id.
func (s *Store) WriteBlob(data []byte) (Oid, error) {
	odb, err := s.repo.Odb()
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: odb: %w", err)
	}
	oid, err := odb.Write(data, git2go.ObjectBlob)
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: write blob: %w", err)
	}
	id := fromGit(oid)
	runtime.KeepAlive(odb)
	return id, nil
}

// WriteTree builds a tree from a flat name -> blob-id mapping. A commit's
// tree holds exactly one entry named "content" in normal operation (the
// root revision included), but WriteTree itself is general over whatever
// entries are passed.
func (s *Store) WriteTree(entries map[string]Oid) (Oid, error) {
	tb, err := s.repo.TreeBuilder()
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: tree builder: %w", err)
	}
	defer tb.Free()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := tb.Insert(name, entries[name].toGit(), git2go.FilemodeBlob); err != nil {
			return Oid{}, fmt.Errorf("gitstore: tree insert %q: %w", name, err)
		}
	}

	oid, err := tb.Write()
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: write tree: %w", err)
	}
	id := fromGit(oid)
	runtime.KeepAlive(tb)
	return id, nil
}

// WriteCommit creates a commit object with the given tree and parents. It
// does NOT move any ref — that is UpdateRef's job, kept as a distinct step
// so a write is always serialize+assemble first, then a separate CAS of
// the ref.
func (s *Store) WriteCommit(tree Oid, parents []Oid, author Signature, message string, at time.Time) (Oid, error) {
	gtree, err := s.repo.LookupTree(tree.toGit())
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: lookup tree %s: %w", tree, err)
	}
	defer gtree.Free()

	parentCommits := make([]*git2go.Commit, 0, len(parents))
	for _, p := range parents {
		c, err := s.repo.LookupCommit(p.toGit())
		if err != nil {
			return Oid{}, fmt.Errorf("gitstore: lookup parent %s: %w", p, err)
		}
		defer c.Free()
		parentCommits = append(parentCommits, c)
	}

	sig := &git2go.Signature{Name: author.Name, Email: author.Email, When: at}
	oid, err := s.repo.CreateCommit("", sig, sig, message, gtree, parentCommits...)
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: create commit: %w", err)
	}
	return fromGit(oid), nil
}

// LookupCommit resolves a commit object, copying every field out of
// libgit2's memory before returning. Every accessor on c or tree that can
// alias libgit2's C-owned memory (Message, ParentId, a tree's Id) is
// copied out immediately, followed by runtime.KeepAlive so the owning
// object cannot be freed or garbage-collected while that copy runs.
func (s *Store) LookupCommit(id Oid) (Commit, error) {
	c, err := s.repo.LookupCommit(id.toGit())
	if err != nil {
		if isNotFoundErr(err) {
			return Commit{}, fmt.Errorf("gitstore: commit %s: %w", id, ErrNotFound)
		}
		return Commit{}, fmt.Errorf("gitstore: lookup commit %s: %w", id, ErrCorruption)
	}
	defer c.Free()

	tree, err := c.Tree()
	if err != nil {
		return Commit{}, fmt.Errorf("gitstore: commit %s tree: %w", id, ErrCorruption)
	}
	defer tree.Free()
	treeID := fromGit(tree.Id())
	runtime.KeepAlive(tree)

	parents := make([]Oid, 0, c.ParentCount())
	for i := uint(0); i < c.ParentCount(); i++ {
		parents = append(parents, fromGit(c.ParentId(i)))
	}
	author := signatureOf(c.Author())
	message := strings.Clone(c.Message())
	at := c.Author().When
	runtime.KeepAlive(c)

	return Commit{
		ID:        id,
		Tree:      treeID,
		Parents:   parents,
		Author:    author,
		Message:   message,
		Timestamp: at,
	}, nil
}

// signatureOf copies a git2go signature's fields out of libgit2's memory;
// sig.Name/sig.Email alias the owning commit's buffer until the caller
// runtime.KeepAlive()s it.
func signatureOf(sig *git2go.Signature) Signature {
	if sig == nil {
		return Signature{}
	}
	return Signature{Name: strings.Clone(sig.Name), Email: strings.Clone(sig.Email)}
}

// ReadBlob returns the raw bytes of the blob object named by id. obj.Data()
// aliases libgit2's C-owned buffer, so it is copied out immediately,
// followed by runtime.KeepAlive(obj) so obj cannot be freed or
// garbage-collected while that copy runs.
func (s *Store) ReadBlob(id Oid) ([]byte, error) {
	odb, err := s.repo.Odb()
	if err != nil {
		return nil, fmt.Errorf("gitstore: odb: %w", err)
	}
	obj, err := odb.Read(id.toGit())
	if err != nil {
		if isNotFoundErr(err) {
			return nil, fmt.Errorf("gitstore: blob %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("gitstore: read blob %s: %w", id, ErrCorruption)
	}
	data := obj.Data()
	out := make([]byte, len(data))
	copy(out, data)
	runtime.KeepAlive(obj)
	return out, nil
}

// ContentBlob resolves the "content" entry of the tree at treeID.
// tree.EntryByName's result aliases the owning tree's memory, so its id is
// copied out immediately, followed by runtime.KeepAlive(tree).
func (s *Store) ContentBlob(treeID Oid) (Oid, error) {
	tree, err := s.repo.LookupTree(treeID.toGit())
	if err != nil {
		return Oid{}, fmt.Errorf("gitstore: lookup tree %s: %w", treeID, ErrCorruption)
	}
	defer tree.Free()

	entry := tree.EntryByName("content")
	if entry == nil {
		return Oid{}, fmt.Errorf("gitstore: tree %s has no content entry: %w", treeID, ErrCorruption)
	}
	id := fromGit(entry.Id)
	runtime.KeepAlive(tree)
	return id, nil
}

// ResolveRef returns the current tip of a ref, or ok=false if it does not exist.
func (s *Store) ResolveRef(name string) (Oid, bool, error) {
	ref, err := s.repo.References.Lookup(name)
	if err != nil {
		if isNotFoundErr(err) {
			return Oid{}, false, nil
		}
		return Oid{}, false, fmt.Errorf("gitstore: resolve ref %s: %w", name, err)
	}
	defer ref.Free()
	id := fromGit(ref.Target())
	runtime.KeepAlive(ref)
	return id, true, nil
}

// UpdateRef moves name to point at id, failing with ErrConcurrentWrite if
// the ref's current value is not expectPrevious. expectPrevious is the zero
// Oid when the ref is expected not to exist yet (e.g. the very first save
// on a state, or the root ref's first write).
//
// This is implemented with git2go's References.CreateMatching, which is a
// true compare-and-swap at the libgit2 layer, not a read-then-write in
// this process, so concurrent writers to the same ref serialize correctly.
func (s *Store) UpdateRef(name string, id Oid, expectPrevious Oid) error {
	// With no expected value, force=false makes libgit2 refuse to overwrite
	// an existing ref (ErrorCodeExists) instead of skipping the check.
	var current *git2go.Oid
	force := false
	if !expectPrevious.IsZero() {
		current = expectPrevious.toGit()
		force = true
	}

	ref, err := s.repo.References.CreateMatching(name, id.toGit(), force, current, "")
	if err != nil {
		if isModifiedErr(err) {
			return ErrConcurrentWrite
		}
		return fmt.Errorf("gitstore: update ref %s: %w", name, err)
	}
	ref.Free()
	return nil
}
