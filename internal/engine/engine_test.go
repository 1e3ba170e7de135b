package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecanvas/internal/engine"
	"freecanvas/internal/model"
	"freecanvas/internal/remote/memstore"
)

// manualTimers replaces the coalescer's timers so tests decide when a quiet period ends.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	owner   *manualTimers
	f       func()
	stopped bool
	fired   bool
}

func (m *manualTimers) AfterFunc(_ time.Duration, f func()) engine.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{owner: m, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// FireAll expires every live timer.
func (m *manualTimers) FireAll() {
	m.mu.Lock()
	var live []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			live = append(live, t)
		}
	}
	m.timers = nil
	m.mu.Unlock()
	for _, t := range live {
		t.f()
	}
}

// gate holds calls of one op inside the remote store until the test releases them.
type gate struct {
	arrived chan memstore.Call
	release chan struct{}
}

func holdCalls(store *memstore.Store, op engine.Op) *gate {
	g := &gate{arrived: make(chan memstore.Call, 16), release: make(chan struct{})}
	store.SetHook(func(ctx context.Context, call memstore.Call) error {
		if call.Op != op {
			return nil
		}
		g.arrived <- call
		select {
		case <-g.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return g
}

func (g *gate) waitArrival(t *testing.T) memstore.Call {
	t.Helper()
	select {
	case c := <-g.arrived:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("call never reached the remote store")
		return memstore.Call{}
	}
}

func (g *gate) releaseOne() {
	g.release <- struct{}{}
}

type eventLog struct {
	mu     sync.Mutex
	events []engine.Event
}

func (l *eventLog) record(ev engine.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(typ engine.EventType) []engine.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []engine.Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func seedNote(id string) model.CanvasItem {
	return model.CanvasItem{
		ID:        id,
		Kind:      model.KindNote,
		X:         10,
		Y:         20,
		Width:     200,
		Height:    150,
		Content:   "hello",
		Color:     "yellow",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newEngine(t *testing.T, store engine.RemoteStore, opts ...engine.Option) (*engine.Engine, *eventLog) {
	t.Helper()
	eng, err := engine.New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	log := &eventLog{}
	eng.Subscribe(log.record)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	return eng, log
}

func waitIdle(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, eng.WaitIdle(ctx))
}

func TestEngine_StartLoadsRemoteCollection(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a"), seedNote("b")})
	eng, _ := newEngine(t, store)

	snap := eng.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)
}

func TestEngine_DragBurstProducesSingleUpdate(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store)

	for i := 1; i <= 50; i++ {
		require.NoError(t, eng.Move("a", float64(i), float64(i*2)))
		time.Sleep(time.Millisecond)
	}

	item, err := eng.Item("a")
	require.NoError(t, err)
	assert.Equal(t, 50.0, item.X, "local view is current before any network call")

	waitIdle(t, eng)

	updates := store.Calls(engine.OpUpdate)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Patch.X)
	require.NotNil(t, updates[0].Patch.Y)
	assert.Equal(t, 50.0, *updates[0].Patch.X)
	assert.Equal(t, 100.0, *updates[0].Patch.Y)
	assert.Nil(t, updates[0].Patch.Content)
}

func TestEngine_CoalescedPatchIsUnionOfFields(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	require.NoError(t, eng.UpdateItemField("a", model.FieldX, 1))
	require.NoError(t, eng.UpdateItemField("a", model.FieldWidth, 400.0))
	require.NoError(t, eng.UpdateItemField("a", model.FieldX, 7))

	timers.FireAll()
	waitIdle(t, eng)

	updates := store.Calls(engine.OpUpdate)
	require.Len(t, updates, 1)
	p := updates[0].Patch
	assert.Equal(t, []model.Field{model.FieldX, model.FieldWidth}, p.Fields())
	assert.Equal(t, 7.0, *p.X)
	assert.Equal(t, 400.0, *p.Width)
}

func TestEngine_MutationClassesFlushIndependently(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	require.NoError(t, eng.Move("a", 1, 1))
	require.NoError(t, eng.SetContent("a", "typed"))
	timers.FireAll()
	waitIdle(t, eng)

	updates := store.Calls(engine.OpUpdate)
	require.Len(t, updates, 2)
	var sawPosition, sawContent bool
	for _, u := range updates {
		if u.Patch.X != nil {
			sawPosition = true
			assert.Nil(t, u.Patch.Content)
		}
		if u.Patch.Content != nil {
			sawContent = true
			assert.Nil(t, u.Patch.X)
		}
	}
	assert.True(t, sawPosition)
	assert.True(t, sawContent)
}

func TestEngine_MinimumSizeHoldsForAnyResizeSequence(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	deltas := [][2]float64{{-40, -30}, {-500, 10}, {25, -1000}, {-1, -1}, {300, 300}, {-10000, -10000}}
	for _, d := range deltas {
		require.NoError(t, eng.ResizeBy("a", d[0], d[1]))
		item, err := eng.Item("a")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, item.Width, model.MinWidth)
		assert.GreaterOrEqual(t, item.Height, model.MinHeight)
	}
	require.NoError(t, eng.Resize("a", 1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Sync(ctx))

	item, err := eng.Item("a")
	require.NoError(t, err)
	assert.Equal(t, model.MinWidth, item.Width)
	assert.Equal(t, model.MinHeight, item.Height)

	remote := store.Items()
	require.Len(t, remote, 1)
	assert.Equal(t, model.MinWidth, remote[0].Width)
	assert.Equal(t, model.MinHeight, remote[0].Height)
}

func TestEngine_OlderResponseDoesNotRevertNewerLocalPatch(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, log := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))
	g := holdCalls(store, engine.OpUpdate)

	// P1 is in flight.
	require.NoError(t, eng.Move("a", 1, 1))
	timers.FireAll()
	g.waitArrival(t)

	// P2 is applied locally but not flushed yet.
	require.NoError(t, eng.Move("a", 5, 5))
	require.NoError(t, eng.Resize("a", 300, 200))

	g.releaseOne()
	require.Eventually(t, func() bool {
		for _, ev := range log.ofType(engine.EventChanged) {
			for _, it := range ev.Items {
				if it.ID == "a" && !it.UpdatedAt.IsZero() {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "P1 response never applied")

	item, err := eng.Item("a")
	require.NoError(t, err)
	assert.Equal(t, 5.0, item.X)
	assert.Equal(t, 5.0, item.Y)
	assert.Equal(t, 300.0, item.Width)
	assert.Equal(t, 200.0, item.Height)
	assert.False(t, item.UpdatedAt.IsZero(), "server timestamp picked up from P1 response")

	store.SetHook(nil)
	timers.FireAll()
	waitIdle(t, eng)

	remote := store.Items()
	assert.Equal(t, 5.0, remote[0].X)
	assert.Equal(t, 300.0, remote[0].Width)
}

func TestEngine_OutOfOrderResponsesKeepLatestValue(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	first := make(chan struct{})
	store.SetHook(func(ctx context.Context, call memstore.Call) error {
		if call.Op == engine.OpUpdate && call.Patch.X != nil && *call.Patch.X == 1 {
			select {
			case <-first:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	require.NoError(t, eng.Move("a", 1, 1))
	timers.FireAll()
	require.NoError(t, eng.Move("a", 2, 2))
	timers.FireAll()

	require.Eventually(t, func() bool {
		item, err := eng.Item("a")
		return err == nil && !item.UpdatedAt.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	close(first)
	waitIdle(t, eng)

	item, err := eng.Item("a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, item.X, "late response for x=1 must not win")
}

func TestEngine_UpdateFailureReconcilesToRemote(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a"), seedNote("b")})
	eng, log := newEngine(t, store, engine.WithDelays(5*time.Millisecond, 5*time.Millisecond))

	store.FailNext(engine.OpUpdate, engine.ErrNetworkFailure)
	require.NoError(t, eng.SetContent("a", "never saved"))
	waitIdle(t, eng)

	assert.Equal(t, store.Items(), eng.Snapshot())

	errs := log.ofType(engine.EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, engine.ErrNetworkFailure)
	var syncErr *engine.SyncError
	require.ErrorAs(t, errs[0].Err, &syncErr)
	assert.Equal(t, engine.OpUpdate, syncErr.Op)
	assert.Equal(t, "a", syncErr.ItemID)
	assert.NotEmpty(t, log.ofType(engine.EventReconciled))
}

func TestEngine_ReconcileAllMatchesRemoteList(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store)

	store.Put(seedNote("remote-only"))
	store.Remove("a")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.ReconcileAll(ctx))
	assert.Equal(t, store.Items(), eng.Snapshot())
}

func TestEngine_ReconcileDiscardsPendingPatches(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	require.NoError(t, eng.SetContent("a", "unsent"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.ReconcileAll(ctx))

	timers.FireAll()
	waitIdle(t, eng)
	assert.Empty(t, store.Calls(engine.OpUpdate))
	assert.Equal(t, store.Items(), eng.Snapshot())
}

func TestEngine_DeleteFailureBringsItemBack(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, log := newEngine(t, store)

	store.FailNext(engine.OpDelete, engine.ErrRemoteRejected)
	require.NoError(t, eng.DeleteItem("a"))
	assert.Empty(t, eng.Snapshot())

	waitIdle(t, eng)
	snap := eng.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID)

	errs := log.ofType(engine.EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, engine.ErrRemoteRejected)
}

func TestEngine_DeleteWhileUpdateInFlight(t *testing.T) {
	for _, tc := range []struct {
		name    string
		failing bool
	}{
		{name: "update released after delete"},
		{name: "update fails", failing: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			timers := &manualTimers{}
			store := memstore.New([]model.CanvasItem{seedNote("a")})
			eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))
			g := holdCalls(store, engine.OpUpdate)
			if tc.failing {
				store.FailNext(engine.OpUpdate, engine.ErrNetworkFailure)
			}

			require.NoError(t, eng.Move("a", 3, 3))
			timers.FireAll()
			g.waitArrival(t)

			require.NoError(t, eng.DeleteItem("a"))
			g.releaseOne()
			waitIdle(t, eng)

			assert.Empty(t, eng.Snapshot())
			assert.Empty(t, store.Items())
		})
	}
}

func TestEngine_ChecklistToggleReachesRemote(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New(nil)
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))

	draft := model.NewChecklist(100, 100)
	draft.Checklist = []model.ChecklistEntry{{ID: "e1", Text: "Buy milk"}}
	created, err := eng.CreateItem(draft)
	require.NoError(t, err)
	waitIdle(t, eng)

	require.NoError(t, eng.SetChecklistEntryDone(created.ID, "e1", true))
	timers.FireAll()
	waitIdle(t, eng)

	updates := store.Calls(engine.OpUpdate)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Patch.Checklist)
	entries := *updates[0].Patch.Checklist
	require.Len(t, entries, 1)
	assert.Equal(t, model.ChecklistEntry{ID: "e1", Text: "Buy milk", Done: true}, entries[0])

	remote := store.Items()
	require.Len(t, remote, 1)
	assert.True(t, remote[0].Checklist[0].Done)
}

func TestEngine_ChecklistEntriesEditIndependently(t *testing.T) {
	store := memstore.New(nil)
	eng, _ := newEngine(t, store, engine.WithDelays(time.Millisecond, time.Millisecond))

	created, err := eng.CreateItem(model.NewChecklist(0, 0))
	require.NoError(t, err)

	first, err := eng.AddChecklistEntry(created.ID, "one")
	require.NoError(t, err)
	second, err := eng.AddChecklistEntry(created.ID, "two")
	require.NoError(t, err)
	require.NoError(t, eng.EditChecklistEntry(created.ID, second.ID, "two!"))
	require.NoError(t, eng.RemoveChecklistEntry(created.ID, first.ID))
	require.NoError(t, eng.SetChecklistEntryDone(created.ID, "missing", true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Sync(ctx))

	item, err := eng.Item(created.ID)
	require.NoError(t, err)
	require.Len(t, item.Checklist, 1)
	assert.Equal(t, "two!", item.Checklist[0].Text)
	assert.Equal(t, store.Items()[0].Checklist, item.Checklist)

	note, err := eng.CreateItem(model.NewNote(0, 0))
	require.NoError(t, err)
	_, err = eng.AddChecklistEntry(note.ID, "nope")
	assert.ErrorIs(t, err, engine.ErrInvalidField)
}

func TestEngine_CreateFailureRemovesOptimisticItem(t *testing.T) {
	store := memstore.New(nil)
	eng, log := newEngine(t, store)
	g := holdCalls(store, engine.OpCreate)
	store.FailNext(engine.OpCreate, engine.ErrNetworkFailure)

	lists := len(store.Calls(engine.OpList))
	reconciled := len(log.ofType(engine.EventReconciled))

	created, err := eng.CreateItem(model.NewNote(50, 50))
	require.NoError(t, err)
	g.waitArrival(t)

	snap := eng.Snapshot()
	require.Len(t, snap, 1, "optimistic item visible before the create returns")
	assert.Equal(t, created.ID, snap[0].ID)

	g.releaseOne()
	waitIdle(t, eng)

	assert.Empty(t, eng.Snapshot())
	errs := log.ofType(engine.EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, engine.ErrNetworkFailure)
	assert.Len(t, store.Calls(engine.OpList), lists+1, "a failed create re-lists the remote store")
	assert.Len(t, log.ofType(engine.EventReconciled), reconciled+1)

	_, err = eng.CreateItem(model.CanvasItem{ID: created.ID, Kind: model.KindNote})
	assert.ErrorIs(t, err, engine.ErrDuplicateID, "failed ids are not reused")
}

func TestEngine_CreateCommittedBeforeFailureReappears(t *testing.T) {
	store := memstore.New(nil)
	eng, log := newEngine(t, store)
	// The row is written but the response is lost on the way back.
	store.SetHook(func(_ context.Context, call memstore.Call) error {
		if call.Op != engine.OpCreate {
			return nil
		}
		store.Put(call.Item)
		return engine.ErrNetworkFailure
	})
	lists := len(store.Calls(engine.OpList))

	created, err := eng.CreateItem(model.NewNote(30, 40))
	require.NoError(t, err)
	waitIdle(t, eng)

	require.Len(t, log.ofType(engine.EventError), 1)
	assert.ErrorIs(t, log.ofType(engine.EventError)[0].Err, engine.ErrNetworkFailure)
	assert.Len(t, store.Calls(engine.OpList), lists+1)

	snap := eng.Snapshot()
	require.Len(t, snap, 1, "the committed item comes back from the remote list")
	assert.Equal(t, created.ID, snap[0].ID)
	assert.Equal(t, created.X, snap[0].X)
	assert.Equal(t, created.Y, snap[0].Y)
	assert.Equal(t, created.Color, snap[0].Color)
}

func TestEngine_EditsDuringCreateAreSentAfterIt(t *testing.T) {
	timers := &manualTimers{}
	store := memstore.New(nil)
	eng, _ := newEngine(t, store, engine.WithAfterFunc(timers.AfterFunc))
	g := holdCalls(store, engine.OpCreate)

	created, err := eng.CreateItem(model.NewNote(0, 0))
	require.NoError(t, err)
	g.waitArrival(t)

	require.NoError(t, eng.Move(created.ID, 42, 43))
	require.NoError(t, eng.SetContent(created.ID, "draft text"))
	timers.FireAll()
	assert.Empty(t, store.Calls(engine.OpUpdate), "updates wait for the create")

	g.releaseOne()
	waitIdle(t, eng)

	updates := store.Calls(engine.OpUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, 42.0, *updates[0].Patch.X)
	assert.Equal(t, "draft text", *updates[0].Patch.Content)

	item, err := eng.Item(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 42.0, item.X)
	assert.Equal(t, "draft text", item.Content)
	assert.Equal(t, store.Items(), eng.Snapshot())
}

func TestEngine_DeleteDuringCreateDeletesRemotely(t *testing.T) {
	store := memstore.New(nil)
	eng, _ := newEngine(t, store)
	g := holdCalls(store, engine.OpCreate)

	created, err := eng.CreateItem(model.NewNote(0, 0))
	require.NoError(t, err)
	g.waitArrival(t)

	require.NoError(t, eng.DeleteItem(created.ID))
	assert.Empty(t, eng.Snapshot())

	g.releaseOne()
	waitIdle(t, eng)

	assert.Empty(t, eng.Snapshot())
	assert.Empty(t, store.Items())
	require.Len(t, store.Calls(engine.OpDelete), 1)
}

func TestEngine_AbsentIDsAreNoOps(t *testing.T) {
	store := memstore.New(nil)
	eng, log := newEngine(t, store)

	assert.NoError(t, eng.Move("ghost", 1, 1))
	assert.NoError(t, eng.UpdateItemField("ghost", model.FieldContent, "x"))
	assert.NoError(t, eng.DeleteItem("ghost"))
	assert.NoError(t, eng.CycleColor("ghost"))

	_, err := eng.Item("ghost")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	waitIdle(t, eng)
	assert.Empty(t, store.Calls(engine.OpUpdate, engine.OpDelete))
	assert.Empty(t, log.ofType(engine.EventError))
}

func TestEngine_InvalidIntentsAreRejected(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store)

	assert.ErrorIs(t, eng.UpdateItemField("a", model.FieldX, "left"), engine.ErrInvalidField)
	assert.ErrorIs(t, eng.UpdateItemField("a", model.Field("owner"), "me"), engine.ErrInvalidField)
	entries := []model.ChecklistEntry{{ID: "e"}}
	assert.ErrorIs(t, eng.Update("a", model.Patch{Checklist: &entries}), engine.ErrInvalidField)

	_, err := eng.CreateItem(model.CanvasItem{Kind: "sticker"})
	assert.ErrorIs(t, err, engine.ErrInvalidField)
	_, err = eng.CreateItem(model.CanvasItem{ID: "a", Kind: model.KindNote})
	assert.ErrorIs(t, err, engine.ErrDuplicateID)
}

func TestEngine_CycleColorFollowsPalette(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithDelays(time.Millisecond, time.Millisecond))

	require.NoError(t, eng.CycleColor("a"))
	item, err := eng.Item("a")
	require.NoError(t, err)
	assert.Equal(t, model.NextColor("yellow"), item.Color)
}

func TestEngine_CredentialAttachedToEveryCall(t *testing.T) {
	store := memstore.New([]model.CanvasItem{seedNote("a")}, memstore.WithCredential("secret"))

	eng, err := engine.New(store, engine.WithCredentials(engine.StaticCredential("wrong")))
	require.NoError(t, err)
	defer eng.Close()
	err = eng.Start(context.Background())
	assert.ErrorIs(t, err, engine.ErrRemoteRejected)

	good, _ := newEngine(t, store, engine.WithCredentials(engine.StaticCredential("secret")))
	assert.Len(t, good.Snapshot(), 1)
}

func TestEngine_CredentialSourceErrorIsRejection(t *testing.T) {
	store := memstore.New(nil)
	eng, err := engine.New(store, engine.WithCredentials(func(context.Context) (engine.Credential, error) {
		return "", errors.New("token expired")
	}))
	require.NoError(t, err)
	defer eng.Close()

	err = eng.Start(context.Background())
	assert.ErrorIs(t, err, engine.ErrRemoteRejected)
	assert.Empty(t, store.Calls())
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	timers := &manualTimers{}
	store := memstore.New([]model.CanvasItem{seedNote("a")})
	eng, _ := newEngine(t, store, engine.WithMetrics(reg), engine.WithAfterFunc(timers.AfterFunc))

	for i := 0; i < 5; i++ {
		require.NoError(t, eng.Move("a", float64(i), 0))
	}
	timers.FireAll()
	waitIdle(t, eng)

	count, err := testutil.GatherAndCount(reg, "canvas_sync_remote_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "list and update series")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "canvas_sync_coalesced_intents_total" {
			assert.Equal(t, 4.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestEngine_ClosedEngineRejectsCalls(t *testing.T) {
	eng, err := engine.New(memstore.New(nil))
	require.NoError(t, err)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	assert.ErrorIs(t, eng.Move("a", 1, 1), engine.ErrClosed)
	_, err = eng.CreateItem(model.NewNote(0, 0))
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.Nil(t, eng.Snapshot())
}
