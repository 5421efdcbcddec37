package pip

import "sort"

// Store holds the normal playback bindings.
// The controller only touches it from the owner loop, so implementations need
// no locking of their own.
type Store interface {
	Get(id StreamID) (*Binding, bool)
	Set(b *Binding)
	Delete(id StreamID)
	List() []*Binding
	Len() int
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	bindings map[StreamID]*Binding
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		bindings: make(map[StreamID]*Binding),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(id StreamID) (*Binding, bool) {
	b, ok := s.bindings[id]
	return b, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(b *Binding) {
	s.bindings[b.StreamID] = b
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(id StreamID) {
	delete(s.bindings, id)
}

// List implements Store.List. Bindings are ordered by stream id.
func (s *InMemoryStore) List() []*Binding {
	out := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// Len implements Store.Len.
func (s *InMemoryStore) Len() int {
	return len(s.bindings)
}
