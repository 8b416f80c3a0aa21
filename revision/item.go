package revision

import "lab.nexedi.com/kirr/colonel/content"

// Item is a thin facade over a Revision's content: it forwards a small,
// enumerated set of operations onto the content, rather than dynamically
// dispatching arbitrary attribute access.
type Item struct {
	rev *Revision
}

// NewItem wraps rev in an Item facade.
func NewItem(rev *Revision) *Item {
	return &Item{rev: rev}
}

// Get resolves a path within the revision's content (content.Value.Get).
func (i *Item) Get(path ...string) (content.Value, bool, error) {
	v, err := i.rev.Content()
	if err != nil {
		return content.Value{}, false, err
	}
	got, ok := v.Get(path...)
	return got, ok, nil
}

// Set is not supported directly on a persisted Revision: revisions are
// immutable. Set returns the modified Value for the caller
// to pass to Document.SetContent ahead of the next Save/SaveIn, keeping
// the facade free of any illusion that it can mutate history in place.
func (i *Item) Set(key string, val content.Value) (content.Value, error) {
	v, err := i.rev.Content()
	if err != nil {
		return content.Value{}, err
	}
	return v.WithField(key, val), nil
}

// DeleteField mirrors Set: returns the modified Value, does not mutate i.
func (i *Item) DeleteField(key string) (content.Value, error) {
	v, err := i.rev.Content()
	if err != nil {
		return content.Value{}, err
	}
	return v.WithoutField(key), nil
}

// ToJSON serializes the revision's content.
func (i *Item) ToJSON() ([]byte, error) {
	v, err := i.rev.Content()
	if err != nil {
		return nil, err
	}
	return v.ToJSON()
}

// FromJSON parses data into a Value and returns it; i is left unchanged
// (again, the caller applies it via Document.SetContent).
func (i *Item) FromJSON(data []byte) (content.Value, error) {
	return content.FromJSON(data)
}
