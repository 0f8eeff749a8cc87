package credpool

import (
	"context"
	"errors"
	"sync"
	"time"

	gen "github.com/unkn0wn-root/credpool/generator"
	st "github.com/unkn0wn-root/credpool/store"
)

type pool struct {
	store st.Store
	gen   gen.Generator
	log   Logger
	hooks Hooks

	batchSize int
	target    int
	lowWater  int
	backoff   time.Duration

	// refillMu serializes emergency refills so a burst of exhausted callers
	// results in one generator round trip, not one per caller.
	refillMu sync.Mutex

	mu         sync.Mutex
	warming    bool
	warmCancel context.CancelFunc
	warmWg     sync.WaitGroup
	closed     bool
}

func newPool(opts Options) (*pool, error) {
	if opts.Store == nil {
		return nil, errors.New("credpool: store is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("credpool: generator is required")
	}

	p := &pool{
		store: opts.Store,
		gen:   opts.Generator,
	}

	// defaults
	p.log = coalesce[Logger](opts.Logger, NopLogger{})
	p.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	p.batchSize = coalesce[int](opts.BatchSize, 2)
	p.target = coalesce[int](opts.PoolTarget, 100)
	p.lowWater = coalesce[int](opts.LowWaterMark, 20)
	p.backoff = coalesce[time.Duration](opts.RetryBackoff, 5*time.Second)

	return p, nil
}

func (p *pool) Credential(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.mu.Unlock()

	param, ok, err := p.store.Allocate(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		param, err = p.emergencyRefill(ctx)
		if err != nil {
			return "", err
		}
	}

	// Advisory: top the pool back up in the background once supply is low.
	if avail, err := p.store.CountAvailable(ctx); err == nil && avail < p.lowWater {
		p.triggerWarmUp(avail)
	}
	return param, nil
}

// emergencyRefill is the synchronous, caller-blocking path: one direct
// generator batch, then exactly one more allocation attempt.
func (p *pool) emergencyRefill(ctx context.Context) (string, error) {
	p.refillMu.Lock()
	defer p.refillMu.Unlock()

	// Another caller may have refilled while we waited on the lock.
	if param, ok, err := p.store.Allocate(ctx); err != nil {
		return "", err
	} else if ok {
		return param, nil
	}

	p.hooks.EmergencyRefill()
	p.log.Warn("pool exhausted; fetching a batch synchronously", nil)

	batch, err := p.gen.Batch(ctx, p.batchSize)
	if err != nil {
		p.hooks.RefillFailed(err)
		return "", &RefillError{Err: err}
	}
	p.hooks.BatchInserted(p.batchSize, len(batch))
	if err := p.store.AddParams(ctx, batch); err != nil {
		p.hooks.RefillFailed(err)
		return "", &RefillError{Err: err}
	}

	param, ok, err := p.store.Allocate(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		refillErr := &RefillError{}
		p.hooks.RefillFailed(refillErr)
		return "", refillErr
	}
	return param, nil
}

func (p *pool) Available(ctx context.Context) (int, error) {
	return p.store.CountAvailable(ctx)
}

func (p *pool) Prime(ctx context.Context, warmUp bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	if err := p.gen.Start(ctx); err != nil {
		return err
	}
	if warmUp {
		p.triggerWarmUp(-1)
	}
	return nil
}

// triggerWarmUp starts a background warm-up unless one is already running or
// the pool is closed. Never blocks the caller.
func (p *pool) triggerWarmUp(available int) {
	p.mu.Lock()
	if p.warming || p.closed {
		p.mu.Unlock()
		return
	}
	p.warming = true
	ctx, cancel := context.WithCancel(context.Background())
	p.warmCancel = cancel
	p.warmWg.Add(1)
	p.mu.Unlock()

	p.hooks.WarmUpTriggered(available)
	p.log.Info("starting pool warm-up", Fields{"available": available, "target": p.target})
	go p.warmUp(ctx)
}

// warmUp replenishes until CountAvailable reaches the target. Generator
// errors never escape the loop: log, back off, retry until done or
// cancelled.
func (p *pool) warmUp(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.warming = false
		p.mu.Unlock()
		p.warmWg.Done()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		avail, err := p.store.CountAvailable(ctx)
		if err != nil {
			if !p.sleep(ctx) {
				return
			}
			continue
		}
		if avail >= p.target {
			p.hooks.WarmUpDone(avail)
			p.log.Info("pool warm-up finished", Fields{"available": avail})
			return
		}

		batch, err := p.gen.Batch(ctx, p.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.hooks.WarmUpRetry(err, p.backoff)
			p.log.Warn("warm-up batch failed; retrying", Fields{"err": err, "backoff": p.backoff})
			if !p.sleep(ctx) {
				return
			}
			continue
		}
		p.hooks.BatchInserted(p.batchSize, len(batch))
		if err := p.store.AddParams(ctx, batch); err != nil {
			p.log.Error("warm-up insert failed", Fields{"err": err})
			if !p.sleep(ctx) {
				return
			}
		}
	}
}

func (p *pool) sleep(ctx context.Context) bool {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.warmCancel != nil {
		p.warmCancel()
	}
	p.mu.Unlock()

	p.warmWg.Wait()
	return p.gen.Stop(ctx)
}
