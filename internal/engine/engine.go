// Package engine keeps an immediately consistent in-memory view of the canvas items and
// propagates every mutation to a remote store in the background.
//
// Local changes are applied before any network call. Rapid changes to the same item are
// coalesced into one trailing write per quiet period, responses are merged without rolling
// back newer local edits, and any failed write makes the engine re-list the remote store.
//
// All engine state is owned by a single loop goroutine. Public methods hand work to that
// loop and wait for it, so they are safe to call from any goroutine, except from inside
// a subscriber callback, which already runs on the loop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"freecanvas/internal/model"
)

// Credential is the opaque token attached to every remote-store call.
type Credential string

// CredentialSource supplies the credential for a call.
type CredentialSource func(ctx context.Context) (Credential, error)

// StaticCredential always returns c.
func StaticCredential(c Credential) CredentialSource {
	return func(context.Context) (Credential, error) { return c, nil }
}

// RemoteStore is the persistence service the engine synchronizes with.
// Failures should wrap ErrNetworkFailure or ErrRemoteRejected; anything else is treated
// as a network failure.
type RemoteStore interface {
	List(ctx context.Context, cred Credential) ([]model.CanvasItem, error)
	Create(ctx context.Context, cred Credential, item model.CanvasItem) (*model.CanvasItem, error)
	Update(ctx context.Context, cred Credential, id string, patch model.Patch) (*model.CanvasItem, error)
	Delete(ctx context.Context, cred Credential, id string) error
}

// EventType tells subscribers what happened.
type EventType int

const (
	// EventChanged follows every item store mutation, local or server-confirmed.
	EventChanged EventType = iota
	// EventError reports a failed remote call. Err is a *SyncError.
	EventError
	// EventReconciled follows a successful re-list of the remote store.
	EventReconciled
)

func (t EventType) String() string {
	switch t {
	case EventChanged:
		return "changed"
	case EventError:
		return "error"
	case EventReconciled:
		return "reconciled"
	}
	return "unknown"
}

// Event is delivered to subscribers on the engine loop.
type Event struct {
	Type   EventType
	ItemID string
	Err    error
	// Items is a snapshot of the store taken right after the event.
	Items []model.CanvasItem
}

type options struct {
	credentials     CredentialSource
	continuousDelay time.Duration
	discreteDelay   time.Duration
	callTimeout     time.Duration
	logger          *zap.Logger
	registerer      prometheus.Registerer
	tracer          trace.Tracer
	afterFunc       AfterFunc
}

// Option configures an Engine.
type Option func(*options)

// WithCredentials sets where call credentials come from.
func WithCredentials(src CredentialSource) Option {
	return func(o *options) { o.credentials = src }
}

// WithDelays overrides the coalescing quiet periods.
func WithDelays(continuous, discrete time.Duration) Option {
	return func(o *options) {
		o.continuousDelay = continuous
		o.discreteDelay = discrete
	}
}

// WithCallTimeout bounds each remote call. Zero leaves it to the transport.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers the engine's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracer sets the tracer used for remote-call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithAfterFunc replaces the timer source used by the coalescer.
func WithAfterFunc(f AfterFunc) Option {
	return func(o *options) { o.afterFunc = f }
}

// Engine is the optimistic synchronization engine.
type Engine struct {
	opts    options
	remote  RemoteStore
	logger  *zap.Logger
	metrics *Metrics

	store      *ItemStore
	coalescer  *Coalescer
	dispatcher *Dispatcher
	reconciler *Reconciler

	ctx       context.Context
	cancel    context.CancelFunc
	tasks     chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	calls     sync.WaitGroup

	// loop-owned
	inflight    int
	idleWaiters []chan struct{}

	subsMu  sync.Mutex
	subs    map[uint64]func(Event)
	nextSub uint64
}

// New builds an engine around remote and starts its loop. Call Start to load the
// initial collection and Close when done.
func New(remote RemoteStore, opts ...Option) (*Engine, error) {
	o := options{
		credentials:     StaticCredential(""),
		continuousDelay: DefaultContinuousDelay,
		discreteDelay:   DefaultDiscreteDelay,
		logger:          zap.NewNop(),
		tracer:          otel.Tracer("freecanvas/internal/engine"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	metrics, err := NewMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register engine metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:    o,
		remote:  remote,
		logger:  o.logger.Named("engine"),
		metrics: metrics,
		store:   NewItemStore(),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(chan func(), 256),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[uint64]func(Event)),
	}
	e.dispatcher = newDispatcher(e)
	e.reconciler = newReconciler(e)
	e.coalescer = NewCoalescer(o.continuousDelay, o.discreteDelay, o.afterFunc, e.post, e.dispatcher.flush)

	go e.run()
	return e, nil
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.quit:
			return
		case fn := <-e.tasks:
			fn()
			e.checkIdle()
		}
	}
}

// post queues fn on the loop. It is used by timers and network goroutines, never by the loop itself.
func (e *Engine) post(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.quit:
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(fn func()) error {
	done := make(chan struct{})
	select {
	case e.tasks <- func() {
		defer close(done)
		fn()
	}:
	case <-e.quit:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (e *Engine) idle() bool {
	return e.inflight == 0 && e.coalescer.Len() == 0 && !e.reconciler.running
}

func (e *Engine) checkIdle() {
	if len(e.idleWaiters) == 0 || !e.idle() {
		return
	}
	for _, ch := range e.idleWaiters {
		close(ch)
	}
	e.idleWaiters = nil
}

func (e *Engine) emit(ev Event) {
	e.subsMu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subsMu.Unlock()
	if len(subs) == 0 {
		return
	}
	if ev.Type != EventError {
		ev.Items = e.store.List()
	}
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) changed(id string) {
	e.emit(Event{Type: EventChanged, ItemID: id})
}

func (e *Engine) failed(err *SyncError) {
	e.logger.Warn("sync failure", zap.String("op", string(err.Op)), zap.String("item_id", err.ItemID), zap.Error(err.Err))
	e.emit(Event{Type: EventError, ItemID: err.ItemID, Err: err})
}

// Start loads the remote collection into the store.
func (e *Engine) Start(ctx context.Context) error {
	return e.ReconcileAll(ctx)
}

// Subscribe registers fn for every event and returns a function that removes it.
// fn runs on the engine loop and must not call engine methods synchronously.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

// Snapshot returns the current items in insertion order.
func (e *Engine) Snapshot() []model.CanvasItem {
	var out []model.CanvasItem
	if err := e.do(func() { out = e.store.List() }); err != nil {
		return nil
	}
	return out
}

// Item returns the current state of one item.
func (e *Engine) Item(id string) (model.CanvasItem, error) {
	var (
		item model.CanvasItem
		ok   bool
	)
	if err := e.do(func() { item, ok = e.store.Get(id) }); err != nil {
		return model.CanvasItem{}, err
	}
	if !ok {
		return model.CanvasItem{}, ErrNotFound
	}
	return item, nil
}

// CreateItem adds draft to the view and sends it to the remote store. An empty id is
// filled in. The returned item is the normalized local copy.
func (e *Engine) CreateItem(draft model.CanvasItem) (model.CanvasItem, error) {
	var (
		item model.CanvasItem
		err  error
	)
	if derr := e.do(func() { item, err = e.dispatcher.create(draft) }); derr != nil {
		return model.CanvasItem{}, derr
	}
	return item, err
}

// Update applies p to the item now and schedules the remote write.
// Unknown ids are ignored.
func (e *Engine) Update(id string, p model.Patch) error {
	var err error
	if derr := e.do(func() { err = e.dispatcher.update(id, p) }); derr != nil {
		return derr
	}
	return err
}

// UpdateItemField sets one field from an untyped value.
func (e *Engine) UpdateItemField(id string, field model.Field, value any) error {
	p, err := model.PatchFor(field, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidField, err)
	}
	return e.Update(id, p)
}

// Move sets the item position.
func (e *Engine) Move(id string, x, y float64) error {
	return e.Update(id, model.Patch{X: &x, Y: &y})
}

// Resize sets the item size, clamped to the minimum.
func (e *Engine) Resize(id string, width, height float64) error {
	return e.Update(id, model.Patch{Width: &width, Height: &height})
}

// ResizeBy grows or shrinks the item by the given deltas, clamped to the minimum.
func (e *Engine) ResizeBy(id string, dw, dh float64) error {
	return e.withItem(id, func(item model.CanvasItem) error {
		w, h := item.Width+dw, item.Height+dh
		return e.dispatcher.update(id, model.Patch{Width: &w, Height: &h})
	})
}

// SetContent replaces the item text.
func (e *Engine) SetContent(id, content string) error {
	return e.Update(id, model.Patch{Content: &content})
}

// CycleColor moves the item to the next palette color.
func (e *Engine) CycleColor(id string) error {
	return e.withItem(id, func(item model.CanvasItem) error {
		next := model.NextColor(item.Color)
		return e.dispatcher.update(id, model.Patch{Color: &next})
	})
}

// AddChecklistEntry appends an unchecked entry to a checklist item.
func (e *Engine) AddChecklistEntry(id, text string) (model.ChecklistEntry, error) {
	entry := model.NewChecklistEntry(text)
	err := e.editChecklist(id, func(entries []model.ChecklistEntry) ([]model.ChecklistEntry, bool) {
		return append(entries, entry), true
	})
	return entry, err
}

// SetChecklistEntryDone marks an entry done or not done.
func (e *Engine) SetChecklistEntryDone(id, entryID string, done bool) error {
	return e.editChecklist(id, func(entries []model.ChecklistEntry) ([]model.ChecklistEntry, bool) {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Done = done
				return entries, true
			}
		}
		return entries, false
	})
}

// EditChecklistEntry replaces an entry's text.
func (e *Engine) EditChecklistEntry(id, entryID, text string) error {
	return e.editChecklist(id, func(entries []model.ChecklistEntry) ([]model.ChecklistEntry, bool) {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Text = text
				return entries, true
			}
		}
		return entries, false
	})
}

// RemoveChecklistEntry drops an entry, leaving its siblings untouched.
func (e *Engine) RemoveChecklistEntry(id, entryID string) error {
	return e.editChecklist(id, func(entries []model.ChecklistEntry) ([]model.ChecklistEntry, bool) {
		for i := range entries {
			if entries[i].ID == entryID {
				return append(entries[:i], entries[i+1:]...), true
			}
		}
		return entries, false
	})
}

func (e *Engine) editChecklist(id string, edit func([]model.ChecklistEntry) ([]model.ChecklistEntry, bool)) error {
	return e.withItem(id, func(item model.CanvasItem) error {
		if item.Kind != model.KindChecklist {
			return fmt.Errorf("%w: %s is a %s", ErrInvalidField, id, item.Kind)
		}
		entries, changed := edit(item.Checklist)
		if !changed {
			return nil
		}
		if entries == nil {
			entries = []model.ChecklistEntry{}
		}
		return e.dispatcher.update(id, model.Patch{Checklist: &entries})
	})
}

// withItem runs fn on the loop with the current item. Absent ids are a no-op.
func (e *Engine) withItem(id string, fn func(model.CanvasItem) error) error {
	var err error
	derr := e.do(func() {
		item, ok := e.store.Get(id)
		if !ok {
			return
		}
		err = fn(item)
	})
	if derr != nil {
		return derr
	}
	return err
}

// DeleteItem removes the item now and deletes it remotely. Unknown ids are ignored.
func (e *Engine) DeleteItem(id string) error {
	return e.do(func() { e.dispatcher.delete(id) })
}

// ReconcileAll re-lists the remote store and makes it the view. It waits for the result.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	result := make(chan error, 1)
	if err := e.do(func() {
		e.reconciler.reconcileAll(func(err error) { result <- err })
	}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrClosed
	}
}

// Flush sends every pending patch now instead of waiting for its quiet period.
func (e *Engine) Flush() error {
	return e.do(func() { e.coalescer.FlushAll() })
}

// WaitIdle blocks until no patch is pending, no remote call is in flight and no
// reconciliation is running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ch := make(chan struct{})
	if err := e.do(func() {
		e.idleWaiters = append(e.idleWaiters, ch)
	}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrClosed
	}
}

// Sync flushes pending patches and waits until everything has settled.
func (e *Engine) Sync(ctx context.Context) error {
	if err := e.Flush(); err != nil {
		return err
	}
	return e.WaitIdle(ctx)
}

// Close stops the loop, drops pending patches and cancels in-flight calls.
// It does not flush; call Sync first to send pending work.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.quit)
		<-e.stopped
		e.coalescer.CancelAll()
		e.calls.Wait()
	})
	return nil
}
