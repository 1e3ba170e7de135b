package engine

import (
	"sort"
	"time"

	"freecanvas/internal/model"
)

// Default quiet periods before a pending patch is sent.
const (
	DefaultContinuousDelay = 100 * time.Millisecond
	DefaultDiscreteDelay   = 500 * time.Millisecond
)

// Timer is the part of *time.Timer the coalescer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once adapted.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FlushFunc receives a coalesced patch. count is how many intents were merged into it.
type FlushFunc func(id string, class model.MutationClass, patch model.Patch, count int)

type coalesceKey struct {
	id    string
	class model.MutationClass
}

type pendingPatch struct {
	patch model.Patch
	count int
	gen   uint64
	timer Timer
}

// Coalescer turns bursts of field intents for an item into one trailing write per quiet period.
// Every (item, class) pair owns one pending patch and one timer; each Schedule call merges into
// the patch and restarts the timer.
//
// Coalescer methods must run on the engine loop. Timer expiry is routed back onto the loop
// through post, and a generation number discards expiries of timers that were restarted
// or canceled in the meantime.
type Coalescer struct {
	delays    map[model.MutationClass]time.Duration
	afterFunc AfterFunc
	post      func(func())
	flush     FlushFunc

	pending map[coalesceKey]*pendingPatch
	gen     uint64
}

// NewCoalescer builds a coalescer. post must run the given function on the engine loop.
func NewCoalescer(continuous, discrete time.Duration, afterFunc AfterFunc, post func(func()), flush FlushFunc) *Coalescer {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &Coalescer{
		delays: map[model.MutationClass]time.Duration{
			model.Continuous: continuous,
			model.Discrete:   discrete,
		},
		afterFunc: afterFunc,
		post:      post,
		flush:     flush,
		pending:   make(map[coalesceKey]*pendingPatch),
	}
}

// Schedule merges p into the pending patch for (id, class) and restarts its timer.
func (c *Coalescer) Schedule(id string, p model.Patch, class model.MutationClass) {
	if p.IsEmpty() {
		return
	}
	key := coalesceKey{id: id, class: class}
	entry, ok := c.pending[key]
	if !ok {
		entry = &pendingPatch{}
		c.pending[key] = entry
	}
	entry.patch = entry.patch.Merge(p)
	entry.count++
	if entry.timer != nil {
		entry.timer.Stop()
	}
	c.gen++
	gen := c.gen
	entry.gen = gen
	entry.timer = c.afterFunc(c.delays[class], func() {
		c.post(func() { c.fire(key, gen) })
	})
}

func (c *Coalescer) fire(key coalesceKey, gen uint64) {
	entry, ok := c.pending[key]
	if !ok || entry.gen != gen {
		return
	}
	delete(c.pending, key)
	c.flush(key.id, key.class, entry.patch, entry.count)
}

// Pending returns the union of unflushed patches for id.
func (c *Coalescer) Pending(id string) (model.Patch, bool) {
	var out model.Patch
	found := false
	for _, class := range []model.MutationClass{model.Continuous, model.Discrete} {
		if entry, ok := c.pending[coalesceKey{id: id, class: class}]; ok {
			out = out.Merge(entry.patch)
			found = true
		}
	}
	return out, found
}

// Len returns the number of pending (item, class) entries.
func (c *Coalescer) Len() int {
	return len(c.pending)
}

// Cancel drops every pending patch for id without sending it.
func (c *Coalescer) Cancel(id string) {
	for _, class := range []model.MutationClass{model.Continuous, model.Discrete} {
		key := coalesceKey{id: id, class: class}
		if entry, ok := c.pending[key]; ok {
			entry.timer.Stop()
			delete(c.pending, key)
		}
	}
}

// CancelAll drops every pending patch.
func (c *Coalescer) CancelAll() {
	for key, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, key)
	}
}

// FlushAll sends every pending patch now, oldest schedule first.
func (c *Coalescer) FlushAll() {
	keys := make([]coalesceKey, 0, len(c.pending))
	for key := range c.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.pending[keys[i]].gen < c.pending[keys[j]].gen
	})
	for _, key := range keys {
		entry := c.pending[key]
		entry.timer.Stop()
		c.fire(key, entry.gen)
	}
}
