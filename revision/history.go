package revision

// HistoryIter walks a revision chain via Previous links, starting at a tip
// and ending at the root. It is lazy, finite, and non-restartable: each
// call to Next resolves exactly one more commit.
type HistoryIter struct {
	next *Revision
}

// NewHistory returns an iterator starting at start (inclusive).
func NewHistory(start *Revision) *HistoryIter {
	return &HistoryIter{next: start}
}

// Next returns the next revision in the walk, or nil when history is
// exhausted. The state hint of the starting revision is propagated to
// every yielded revision, since Previous() carries r.state forward.
func (h *HistoryIter) Next() (*Revision, error) {
	if h.next == nil {
		return nil, nil
	}
	r := h.next
	r.logger.Debug("history traversal step", "revision", r.id)
	prev, err := r.Previous()
	if err != nil {
		return nil, err
	}
	h.next = prev
	return r, nil
}

// All drains the iterator into a slice, in traversal order (tip first).
// Convenience for callers that want the whole chain materialized; large
// histories should prefer Next() directly.
func (h *HistoryIter) All() ([]*Revision, error) {
	var out []*Revision
	for {
		r, err := h.Next()
		if err != nil {
			return out, err
		}
		if r == nil {
			return out, nil
		}
		out = append(out, r)
	}
}
