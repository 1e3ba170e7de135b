package engine

import "freecanvas/internal/model"

// ItemStore is the in-memory collection the rendering layer reads from.
// It keeps insertion order and never holds two items with the same id.
// It has no locking: only the engine loop goroutine touches it.
type ItemStore struct {
	order []string
	items map[string]model.CanvasItem
}

// NewItemStore returns an empty store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]model.CanvasItem)}
}

// List returns a deep copy of all items in insertion order.
func (s *ItemStore) List() []model.CanvasItem {
	out := make([]model.CanvasItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// Get returns a copy of the item with id.
func (s *ItemStore) Get(id string) (model.CanvasItem, bool) {
	item, ok := s.items[id]
	if !ok {
		return model.CanvasItem{}, false
	}
	return item.Clone(), true
}

// Has reports whether id is present.
func (s *ItemStore) Has(id string) bool {
	_, ok := s.items[id]
	return ok
}

// Len returns the number of items.
func (s *ItemStore) Len() int {
	return len(s.order)
}

// Insert appends item, or overwrites it in place if the id already exists.
func (s *ItemStore) Insert(item model.CanvasItem) {
	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item.Clone()
}

// UpsertLocal merges p into the item with id. It is a no-op if the id is absent.
func (s *ItemStore) UpsertLocal(id string, p model.Patch) bool {
	item, ok := s.items[id]
	if !ok {
		return false
	}
	s.items[id] = item.Apply(p)
	return true
}

// Replace overwrites the item with id wholesale. It is a no-op if the id is absent.
func (s *ItemStore) Replace(id string, item model.CanvasItem) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	item.ID = id
	s.items[id] = item.Clone()
	return true
}

// Remove deletes the item with id. Removing an absent id is allowed.
func (s *ItemStore) Remove(id string) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ReplaceAll swaps the whole collection. Later duplicates of an id overwrite earlier ones.
func (s *ItemStore) ReplaceAll(items []model.CanvasItem) {
	s.order = s.order[:0]
	s.items = make(map[string]model.CanvasItem, len(items))
	for _, item := range items {
		s.Insert(item)
	}
}
