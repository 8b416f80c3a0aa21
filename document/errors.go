package document

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"lab.nexedi.com/kirr/colonel/gitstore"
)

// Error kinds surfaced by Document, layered over gitstore's.
var (
	// ErrNotFound is returned by Open when id has no on-disk store yet.
	ErrNotFound = gitstore.ErrNotFound

	// ErrMissingSource is returned by Promote when from has no tip.
	ErrMissingSource = errors.New("document: promotion source state has no revisions")

	// ErrConcurrentWrite is returned by Save/SaveIn/Promote when the branch
	// ref moved between resolving previous and writing the new revision.
	ErrConcurrentWrite = gitstore.ErrConcurrentWrite

	// ErrIndexingFailed is the sentinel errors.Is(err, ErrIndexingFailed)
	// resolves to when the post-write index registration or search-provider
	// notification failed. The commit itself is never rolled back.
	ErrIndexingFailed = errors.New("document: search indexing failed")
)

// IndexingFailedError wraps the revision that was successfully committed
// alongside the (possibly multi-cause) index-registration and/or
// search-provider failure, so a caller
// that inspects errors.As(err, &IndexingFailedError{}) can recover both.
type IndexingFailedError struct {
	RevisionID string
	Err        *multierror.Error
}

func (e *IndexingFailedError) Error() string {
	return fmt.Sprintf("document: indexing revision %s failed: %s", e.RevisionID, e.Err)
}

func (e *IndexingFailedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIndexingFailed) succeed without callers having to
// name the concrete IndexingFailedError type.
func (e *IndexingFailedError) Is(target error) bool {
	return target == ErrIndexingFailed
}
