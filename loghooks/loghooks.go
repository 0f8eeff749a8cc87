// Package loghooks is a credpool.Hooks implementation that writes events to
// an slog.Logger, with optional sampling for the events that can flood
// (warm-up retries).
package loghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/credpool"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	WarmUpRetryEvery uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	retryCtr atomic.Uint64
}

var _ credpool.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) EmergencyRefill() {
	if h.l == nil {
		return
	}
	h.l.Warn("credpool.emergency_refill")
}

func (h *Hooks) RefillFailed(err error) {
	if h.l == nil {
		return
	}
	h.l.Error("credpool.refill_failed", "err", err)
}

func (h *Hooks) WarmUpTriggered(available int) {
	if h.l == nil {
		return
	}
	h.l.Info("credpool.warmup_triggered", "available", available)
}

func (h *Hooks) WarmUpRetry(err error, backoff time.Duration) {
	if h.l == nil || !sample(h.opts.WarmUpRetryEvery, &h.retryCtr) {
		return
	}
	h.l.Warn("credpool.warmup_retry",
		"err", err,
		"backoff", backoff)
}

func (h *Hooks) WarmUpDone(available int) {
	if h.l == nil {
		return
	}
	h.l.Info("credpool.warmup_done", "available", available)
}

func (h *Hooks) BatchInserted(requested, produced int) {
	if h.l == nil {
		return
	}
	h.l.Debug("credpool.batch_inserted",
		"requested", requested,
		"produced", produced)
}
