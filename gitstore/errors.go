package gitstore

import (
	"errors"

	git2go "github.com/libgit2/git2go/v31"
)

// Error kinds surfaced by the object store adapter.
var (
	// ErrNotFound is returned by Open when the repository path does not exist.
	ErrNotFound = errors.New("gitstore: not found")

	// ErrConcurrentWrite is returned by UpdateRef when the CAS check fails:
	// the ref's live value no longer equals the caller's expectPrevious.
	ErrConcurrentWrite = errors.New("gitstore: ref updated concurrently")

	// ErrCorruption is returned when a commit or blob fails to parse.
	ErrCorruption = errors.New("gitstore: object corrupt")
)

func isNotFoundErr(err error) bool {
	var gitErr *git2go.GitError
	if errors.As(err, &gitErr) {
		return gitErr.Code == git2go.ErrorCodeNotFound
	}
	return false
}

func isModifiedErr(err error) bool {
	var gitErr *git2go.GitError
	if errors.As(err, &gitErr) {
		return gitErr.Code == git2go.ErrorCodeModified || gitErr.Code == git2go.ErrorCodeExists
	}
	return false
}
