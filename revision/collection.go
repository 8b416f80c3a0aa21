package revision

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"lab.nexedi.com/kirr/colonel/gitstore"
)

// Collection is the accessor over one document's revisions, indexed by
// either a revision id or a state name.
type Collection struct {
	backend gitstore.Backend
	logger  hclog.Logger

	rootOnce sync.Once
	rootID   gitstore.Oid
	rootErr  error
}

// CollectionOption configures a Collection at construction time.
type CollectionOption func(*Collection)

// WithCollectionLogger overrides the default null logger.
func WithCollectionLogger(l hclog.Logger) CollectionOption {
	return func(c *Collection) { c.logger = l }
}

// NewCollection builds a Collection over backend.
func NewCollection(backend gitstore.Backend, opts ...CollectionOption) *Collection {
	c := &Collection{backend: backend, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collection) resolveRoot() (gitstore.Oid, bool, error) {
	c.rootOnce.Do(func() {
		id, ok, err := c.backend.ResolveRef(RootRefName)
		if err != nil {
			c.rootErr = fmt.Errorf("revision: resolve root ref: %w", err)
			return
		}
		if ok {
			c.rootID = id
		}
	})
	if c.rootErr != nil {
		return gitstore.Oid{}, false, c.rootErr
	}
	return c.rootID, !c.rootID.IsZero(), nil
}

// ByID returns a lazy Revision bound to the commit named by id. It does not
// look up that commit; its only store access is the Collection's one-time
// resolution of the root ref.
func (c *Collection) ByID(id string) (*Revision, error) {
	c.logger.Debug("resolving revision by id", "id", id)
	oid, err := gitstore.ParseOid(id)
	if err != nil {
		return nil, fmt.Errorf("revision: %w", err)
	}
	rootID, _, err := c.resolveRoot()
	if err != nil {
		return nil, err
	}
	return New(c.backend, rootID, oid, "", WithLogger(c.logger)), nil
}

// ByState returns the tip Revision of a state branch, or ok=false if the
// branch ref does not exist. The returned Revision carries state as its
// traversal hint.
func (c *Collection) ByState(state string) (rev *Revision, ok bool, err error) {
	c.logger.Debug("resolving state ref", "state", state)
	tip, exists, err := c.backend.ResolveRef(refName(state))
	if err != nil {
		return nil, false, fmt.Errorf("revision: resolve state %s: %w", state, err)
	}
	if !exists {
		return nil, false, nil
	}
	rootID, _, err := c.resolveRoot()
	if err != nil {
		return nil, false, err
	}
	return New(c.backend, rootID, tip, state, WithLogger(c.logger)), true, nil
}

// Root returns the document's designated root revision, or ok=false if the
// document has never been written.
func (c *Collection) Root() (rev *Revision, ok bool, err error) {
	rootID, exists, err := c.resolveRoot()
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	return New(c.backend, rootID, rootID, "", WithLogger(c.logger)), true, nil
}

// History returns a lazy, non-restartable iterator over a state's history,
// starting at the tip of stateOrID if it names a branch, or at the
// revision named by stateOrID otherwise.
func (c *Collection) History(stateOrID string) (*HistoryIter, error) {
	c.logger.Debug("starting history traversal", "state_or_id", stateOrID)
	if rev, ok, err := c.ByState(stateOrID); err != nil {
		return nil, err
	} else if ok {
		return NewHistory(rev), nil
	}
	rev, err := c.ByID(stateOrID)
	if err != nil {
		return nil, err
	}
	return NewHistory(rev), nil
}
