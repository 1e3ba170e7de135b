package engine

import "go.uber.org/zap"

// Reconciler restores the view after a remote failure by re-listing the remote store.
// Triggers that arrive while a run is in flight collapse into one follow-up run.
type Reconciler struct {
	e *Engine

	running bool
	again   bool
	waiters []func(error)
}

func newReconciler(e *Engine) *Reconciler {
	return &Reconciler{e: e}
}

// trigger starts a reconciliation without waiting for it.
func (r *Reconciler) trigger() {
	r.reconcileAll(nil)
}

// reconcileAll discards queued local work, lists the remote store and replaces the view.
// done, if set, runs on the engine loop once the last pending run finishes.
func (r *Reconciler) reconcileAll(done func(error)) {
	if done != nil {
		r.waiters = append(r.waiters, done)
	}
	if r.running {
		r.again = true
		return
	}
	r.running = true
	r.start()
}

func (r *Reconciler) start() {
	r.e.dispatcher.resetPending()
	r.e.logger.Info("reconciling with remote store", zap.Int("items", r.e.store.Len()))
	r.e.dispatcher.listAll(r.finish)
}

func (r *Reconciler) finish(err error) {
	if err != nil {
		r.e.metrics.reconciliations.WithLabelValues("error").Inc()
		r.e.failed(&SyncError{Op: OpList, Err: err})
	} else {
		r.e.metrics.reconciliations.WithLabelValues("ok").Inc()
		r.e.emit(Event{Type: EventReconciled})
	}
	if r.again {
		r.again = false
		r.start()
		return
	}
	r.running = false
	waiters := r.waiters
	r.waiters = nil
	for _, w := range waiters {
		w(err)
	}
}
