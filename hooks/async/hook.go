// Package asynchook decouples hook sinks from the allocation path. Events
// are queued and delivered by worker goroutines; when the queue is full the
// event is dropped rather than blocking a caller waiting on a credential.
//
// usage:
//
//	raw := loghooks.New(slog.Default(), loghooks.Options{WarmUpRetryEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	pool, _ := credpool.New(credpool.Options{
//	    Store:     store,
//	    Generator: daemon,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/credpool"
)

type Hooks struct {
	inner credpool.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ credpool.Hooks = (*Hooks)(nil)

func New(inner credpool.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) EmergencyRefill()       { h.try(func() { h.inner.EmergencyRefill() }) }
func (h *Hooks) RefillFailed(err error) {
	h.try(func() { h.inner.RefillFailed(err) })
}
func (h *Hooks) WarmUpTriggered(available int) {
	h.try(func() { h.inner.WarmUpTriggered(available) })
}
func (h *Hooks) WarmUpRetry(err error, backoff time.Duration) {
	h.try(func() { h.inner.WarmUpRetry(err, backoff) })
}
func (h *Hooks) WarmUpDone(available int) {
	h.try(func() { h.inner.WarmUpDone(available) })
}
func (h *Hooks) BatchInserted(requested, produced int) {
	h.try(func() { h.inner.BatchInserted(requested, produced) })
}
