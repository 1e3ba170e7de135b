// Package memstore is an in-memory engine.RemoteStore. It assigns UpdatedAt and normalizes
// sizes the same way the canvas service does, records every call, and can be told to fail
// or pause specific calls.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"freecanvas/internal/engine"
	"freecanvas/internal/model"
)

// Call records one operation received by the store.
type Call struct {
	Op    engine.Op
	ID    string
	Item  model.CanvasItem
	Patch model.Patch
}

// Hook runs before an operation is applied. A non-nil error fails the call.
// Hooks may block, for example to hold a response until a test releases it.
type Hook func(ctx context.Context, call Call) error

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	order    []string
	items    map[string]model.CanvasItem
	calls    []Call
	failures map[engine.Op][]error
	hook     Hook
	cred     engine.Credential
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCredential makes the store reject calls that do not carry cred.
func WithCredential(cred engine.Credential) Option {
	return func(s *Store) { s.cred = cred }
}

// WithClock sets the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store seeded with items.
func New(items []model.CanvasItem, opts ...Option) *Store {
	s := &Store{
		items:    make(map[string]model.CanvasItem),
		failures: make(map[engine.Op][]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, item := range items {
		s.order = append(s.order, item.ID)
		s.items[item.ID] = item.Normalize().Clone()
	}
	return s
}

var _ engine.RemoteStore = (*Store)(nil)

// FailNext makes the next call of op fail with err.
func (s *Store) FailNext(op engine.Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// SetHook installs h; nil removes it.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Calls returns the recorded calls, optionally filtered by op.
func (s *Store) Calls(ops ...engine.Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if len(ops) == 0 || containsOp(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// Items returns the stored items in insertion order.
func (s *Store) Items() []model.CanvasItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Put writes an item directly, bypassing call recording. Tests use it to change the
// remote state behind the engine's back.
func (s *Store) Put(item model.CanvasItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item.Normalize().Clone()
}

// Remove deletes an item directly, bypassing call recording.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Store) List(ctx context.Context, cred engine.Credential) ([]model.CanvasItem, error) {
	if err := s.begin(ctx, cred, Call{Op: engine.OpList}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(), nil
}

func (s *Store) Create(ctx context.Context, cred engine.Credential, item model.CanvasItem) (*model.CanvasItem, error) {
	if err := s.begin(ctx, cred, Call{Op: engine.OpCreate, ID: item.ID, Item: item.Clone()}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return nil, fmt.Errorf("%w: item %s already exists", engine.ErrRemoteRejected, item.ID)
	}
	stored := item.Normalize().Clone()
	stored.UpdatedAt = s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	s.order = append(s.order, stored.ID)
	s.items[stored.ID] = stored
	out := stored.Clone()
	return &out, nil
}

func (s *Store) Update(ctx context.Context, cred engine.Credential, id string, patch model.Patch) (*model.CanvasItem, error) {
	if err := s.begin(ctx, cred, Call{Op: engine.OpUpdate, ID: id, Patch: patch}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: item %s not found", engine.ErrRemoteRejected, id)
	}
	if err := patch.Validate(item.Kind); err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrRemoteRejected, err)
	}
	item = item.Apply(patch)
	item.UpdatedAt = s.now()
	s.items[id] = item
	out := item.Clone()
	return &out, nil
}

func (s *Store) Delete(ctx context.Context, cred engine.Credential, id string) error {
	if err := s.begin(ctx, cred, Call{Op: engine.OpDelete, ID: id}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(id) {
		return fmt.Errorf("%w: item %s not found", engine.ErrRemoteRejected, id)
	}
	return nil
}

// begin records the call, runs the hook and pops any queued failure.
func (s *Store) begin(ctx context.Context, cred engine.Credential, call Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	hook := s.hook
	var injected error
	if queue := s.failures[call.Op]; len(queue) > 0 {
		injected = queue[0]
		s.failures[call.Op] = queue[1:]
	}
	wantCred := s.cred
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrNetworkFailure, err)
	}
	if wantCred != "" && cred != wantCred {
		return fmt.Errorf("%w: unauthorized", engine.ErrRemoteRejected)
	}
	return injected
}

func (s *Store) listLocked() []model.CanvasItem {
	out := make([]model.CanvasItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

func (s *Store) removeLocked(id string) bool {
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

func containsOp(ops []engine.Op, op engine.Op) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}
