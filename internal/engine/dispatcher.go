package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"freecanvas/internal/model"
)

// itemSync is the dispatcher's bookkeeping for one item.
//
// fieldSeq holds the sequence number of the latest local write of each field and acked the
// highest of those numbers the server has confirmed. A field with fieldSeq > acked still has
// a local value the server has not seen, so responses must not overwrite it.
type itemSync struct {
	fieldSeq map[model.Field]uint64
	acked    map[model.Field]uint64

	appliedSeq        uint64
	creating          bool
	createSeq         uint64
	held              model.Patch
	deleteAfterCreate bool
}

func newItemSync() *itemSync {
	return &itemSync{
		fieldSeq: make(map[model.Field]uint64),
		acked:    make(map[model.Field]uint64),
	}
}

// dirty lists the fields whose local value must survive a response to a request sent at reqSeq.
func (s *itemSync) dirty(reqSeq uint64) []model.Field {
	var out []model.Field
	for f, seq := range s.fieldSeq {
		if seq > reqSeq || seq > s.acked[f] {
			out = append(out, f)
		}
	}
	return out
}

// Dispatcher applies mutations to the item store optimistically and issues the matching
// remote-store calls. Responses are merged back on the engine loop.
type Dispatcher struct {
	e *Engine

	items   map[string]*itemSync
	deleted map[string]uint64
	used    map[string]struct{}
	seq     uint64
	epoch   uint64
}

func newDispatcher(e *Engine) *Dispatcher {
	return &Dispatcher{
		e:       e,
		items:   make(map[string]*itemSync),
		deleted: make(map[string]uint64),
		used:    make(map[string]struct{}),
	}
}

func (d *Dispatcher) next() uint64 {
	d.seq++
	return d.seq
}

func (d *Dispatcher) track(id string) *itemSync {
	st, ok := d.items[id]
	if !ok {
		st = newItemSync()
		d.items[id] = st
	}
	return st
}

// create inserts the draft and sends it to the remote store.
func (d *Dispatcher) create(draft model.CanvasItem) (model.CanvasItem, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if !draft.Kind.Valid() {
		return model.CanvasItem{}, fmt.Errorf("%w: kind %q", ErrInvalidField, draft.Kind)
	}
	if _, seen := d.used[draft.ID]; seen || d.e.store.Has(draft.ID) {
		return model.CanvasItem{}, fmt.Errorf("%w: %s", ErrDuplicateID, draft.ID)
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	draft = draft.Normalize()

	d.used[draft.ID] = struct{}{}
	d.e.store.Insert(draft)
	st := d.track(draft.ID)
	st.creating = true
	st.createSeq = d.next()
	d.e.changed(draft.ID)

	id, reqSeq := draft.ID, st.createSeq
	invoke(d.e, OpCreate, id, func(ctx context.Context, cred Credential) (*model.CanvasItem, error) {
		return d.e.remote.Create(ctx, cred, draft)
	}, func(res *model.CanvasItem, err error) {
		d.onCreated(id, reqSeq, res, err)
	})
	return draft, nil
}

func (d *Dispatcher) onCreated(id string, reqSeq uint64, res *model.CanvasItem, err error) {
	st, ok := d.items[id]
	if !ok {
		return
	}
	st.creating = false
	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty create response", ErrRemoteRejected)
	}

	if err != nil {
		delete(d.items, id)
		d.e.coalescer.Cancel(id)
		removed := d.e.store.Remove(id)
		d.e.failed(&SyncError{Op: OpCreate, ItemID: id, Err: err})
		if removed {
			d.e.changed(id)
		}
		// The server may have committed the row before the call failed.
		d.e.reconciler.trigger()
		return
	}

	if st.deleteAfterCreate {
		delete(d.items, id)
		d.remoteDelete(id)
		return
	}

	server := res.Clone()
	server.ID = id
	if d.e.store.Has(id) {
		d.e.store.Replace(id, d.merge(id, st, server, reqSeq))
	} else {
		// Wiped by a reconciliation that started while the create was in flight;
		// the server now has it, so it belongs in the view again.
		d.e.store.Insert(server)
	}
	st.appliedSeq = reqSeq
	d.e.changed(id)

	if !st.held.IsEmpty() {
		held := st.held
		st.held = model.Patch{}
		d.dispatchUpdate(id, held)
	}
}

// update applies p locally and hands it to the coalescer.
func (d *Dispatcher) update(id string, p model.Patch) error {
	item, ok := d.e.store.Get(id)
	if !ok {
		d.e.logger.Debug("update for absent item ignored", zap.String("item_id", id))
		return nil
	}
	if err := p.Validate(item.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidField, err)
	}
	p = p.Normalize()
	if p.IsEmpty() {
		return nil
	}

	d.e.store.UpsertLocal(id, p)
	st := d.track(id)
	seq := d.next()
	for _, f := range p.Fields() {
		st.fieldSeq[f] = seq
	}
	continuous, discrete := p.Split()
	d.e.coalescer.Schedule(id, continuous, model.Continuous)
	d.e.coalescer.Schedule(id, discrete, model.Discrete)
	d.e.changed(id)
	return nil
}

// flush receives coalesced patches from the coalescer.
func (d *Dispatcher) flush(id string, class model.MutationClass, p model.Patch, count int) {
	m := d.e.metrics
	if !d.e.store.Has(id) {
		m.droppedFlushes.Inc()
		return
	}
	m.flushes.WithLabelValues(class.String()).Inc()
	if count > 1 {
		m.coalesced.Add(float64(count - 1))
	}
	st := d.track(id)
	if st.creating {
		st.held = st.held.Merge(p)
		return
	}
	d.dispatchUpdate(id, p)
}

func (d *Dispatcher) dispatchUpdate(id string, p model.Patch) {
	st := d.track(id)
	reqSeq := d.next()
	epoch := d.epoch
	sent := make(map[model.Field]uint64)
	for _, f := range p.Fields() {
		sent[f] = st.fieldSeq[f]
	}

	invoke(d.e, OpUpdate, id, func(ctx context.Context, cred Credential) (*model.CanvasItem, error) {
		return d.e.remote.Update(ctx, cred, id, p)
	}, func(res *model.CanvasItem, err error) {
		d.onUpdated(id, reqSeq, epoch, sent, res, err)
	})
}

func (d *Dispatcher) onUpdated(id string, reqSeq, epoch uint64, sent map[model.Field]uint64, res *model.CanvasItem, err error) {
	if !d.e.store.Has(id) {
		// Deleted locally while in flight; the delete's own outcome decides what happens next.
		return
	}
	if err == nil && res == nil {
		err = fmt.Errorf("%w: empty update response", ErrRemoteRejected)
	}
	if err != nil {
		d.e.failed(&SyncError{Op: OpUpdate, ItemID: id, Err: err})
		d.e.reconciler.trigger()
		return
	}
	if epoch != d.epoch {
		return
	}
	st := d.track(id)
	for f, seq := range sent {
		if seq > st.acked[f] {
			st.acked[f] = seq
		}
	}
	if reqSeq < st.appliedSeq {
		// A response to a later request already landed; this one carries older server state.
		return
	}
	st.appliedSeq = reqSeq
	server := res.Clone()
	server.ID = id
	d.e.store.Replace(id, d.merge(id, st, server, reqSeq))
	d.e.changed(id)
}

// merge uses the server copy as the base and re-applies local fields that are newer than
// the request or not yet confirmed, so an older response never rolls back a newer edit.
func (d *Dispatcher) merge(id string, st *itemSync, server model.CanvasItem, reqSeq uint64) model.CanvasItem {
	local, ok := d.e.store.Get(id)
	if !ok {
		return server
	}
	if server.Kind != local.Kind {
		server.Kind = local.Kind
	}
	merged := server.Apply(local.Capture(st.dirty(reqSeq)...))
	if local.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = local.UpdatedAt
	}
	return merged
}

// delete removes the item locally and then remotely.
func (d *Dispatcher) delete(id string) {
	if !d.e.store.Remove(id) {
		return
	}
	d.e.coalescer.Cancel(id)
	seq := d.next()
	d.e.changed(id)

	if st, ok := d.items[id]; ok && st.creating {
		st.deleteAfterCreate = true
		st.held = model.Patch{}
		return
	}
	delete(d.items, id)
	d.deleted[id] = seq
	d.remoteDelete(id)
}

func (d *Dispatcher) remoteDelete(id string) {
	invoke(d.e, OpDelete, id, func(ctx context.Context, cred Credential) (struct{}, error) {
		return struct{}{}, d.e.remote.Delete(ctx, cred, id)
	}, func(_ struct{}, err error) {
		delete(d.deleted, id)
		if err != nil {
			d.e.failed(&SyncError{Op: OpDelete, ItemID: id, Err: err})
			d.e.reconciler.trigger()
		}
	})
}

// listAll fetches the remote collection and replaces the store with it.
func (d *Dispatcher) listAll(done func(error)) {
	listSeq := d.next()
	invoke(d.e, OpList, "", func(ctx context.Context, cred Credential) ([]model.CanvasItem, error) {
		return d.e.remote.List(ctx, cred)
	}, func(items []model.CanvasItem, err error) {
		if err == nil {
			d.applyList(items, listSeq)
		}
		done(err)
	})
}

// applyList makes the server collection the new view. Local work issued after the list was
// dispatched (newer field writes, newer creates, pending deletes) is carried over.
func (d *Dispatcher) applyList(server []model.CanvasItem, listSeq uint64) {
	result := make([]model.CanvasItem, 0, len(server))
	seen := make(map[string]struct{}, len(server))

	for _, item := range server {
		id := item.ID
		if _, dup := seen[id]; dup {
			continue
		}
		if _, pending := d.deleted[id]; pending {
			continue
		}
		st, tracked := d.items[id]
		if tracked && st.deleteAfterCreate {
			continue
		}
		seen[id] = struct{}{}
		d.used[id] = struct{}{}

		item = item.Clone()
		if local, ok := d.e.store.Get(id); ok && tracked {
			var keep []model.Field
			for f, seq := range st.fieldSeq {
				if seq > listSeq {
					keep = append(keep, f)
				} else {
					delete(st.fieldSeq, f)
					delete(st.acked, f)
				}
			}
			item = item.Apply(local.Capture(keep...))
		}
		if tracked && !st.creating && len(st.fieldSeq) == 0 {
			delete(d.items, id)
		}
		result = append(result, item)
	}

	for _, local := range d.e.store.List() {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		st, tracked := d.items[local.ID]
		if tracked && st.creating && st.createSeq > listSeq {
			result = append(result, local)
			continue
		}
		if tracked && !st.creating {
			delete(d.items, local.ID)
		}
	}

	d.e.store.ReplaceAll(result)
}

// resetPending drops work queued before a reconciliation and starts a new epoch, so responses
// to requests sent earlier no longer touch the store.
func (d *Dispatcher) resetPending() {
	d.e.coalescer.CancelAll()
	for _, st := range d.items {
		st.held = model.Patch{}
	}
	d.epoch++
}

// invoke runs call on its own goroutine and delivers the outcome to done on the engine loop.
func invoke[T any](e *Engine, op Op, id string, call func(context.Context, Credential) (T, error), done func(T, error)) {
	e.inflight++
	e.calls.Add(1)
	go func() {
		defer e.calls.Done()
		res, err := e.callRemote(op, id, func(ctx context.Context, cred Credential) (any, error) {
			return call(ctx, cred)
		})
		var out T
		if res != nil {
			out = res.(T)
		}
		e.post(func() {
			e.inflight--
			done(out, err)
		})
	}()
}

// callRemote wraps a remote call with credentials, timeout, tracing, metrics and logging.
func (e *Engine) callRemote(op Op, id string, call func(context.Context, Credential) (any, error)) (any, error) {
	ctx := e.ctx
	if e.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.callTimeout)
		defer cancel()
	}
	ctx, span := e.opts.tracer.Start(ctx, "canvas.sync."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("canvas.op", string(op)),
			attribute.String("canvas.item_id", id),
		),
	)
	defer span.End()

	start := time.Now()
	var res any
	cred, err := e.opts.credentials(ctx)
	if err != nil {
		err = fmt.Errorf("%w: credential: %w", ErrRemoteRejected, err)
	} else {
		res, err = call(ctx, cred)
		if err != nil {
			err = classify(err)
		}
	}

	e.metrics.remoteCalls.WithLabelValues(string(op), resultLabel(err)).Inc()
	e.metrics.remoteDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("remote call failed",
			zap.String("op", string(op)),
			zap.String("item_id", id),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	e.logger.Debug("remote call done",
		zap.String("op", string(op)),
		zap.String("item_id", id),
		zap.Duration("latency", time.Since(start)),
	)
	return res, nil
}
