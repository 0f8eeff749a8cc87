package credpool

import "time"

// Hooks lightweight callbacks for high-signal pool events.
// Implementations MUST be cheap and non-blocking; the pool calls them on the
// allocation path. Wrap with hooks/async if the sink can stall.
type Hooks interface {
	// Pool came up empty at allocation time; a synchronous refill follows.
	EmergencyRefill()

	// The synchronous refill did not yield a credential.
	RefillFailed(err error)

	// Available supply dropped under the low-water mark and a background
	// warm-up was started.
	WarmUpTriggered(available int)

	// One warm-up iteration failed; the loop sleeps and retries.
	WarmUpRetry(err error, backoff time.Duration)

	// Warm-up reached the target (or was cancelled) at this supply level.
	WarmUpDone(available int)

	// A generator batch was inserted into the store.
	BatchInserted(requested, produced int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) EmergencyRefill()                 {}
func (NopHooks) RefillFailed(error)               {}
func (NopHooks) WarmUpTriggered(int)              {}
func (NopHooks) WarmUpRetry(error, time.Duration) {}
func (NopHooks) WarmUpDone(int)                   {}
func (NopHooks) BatchInserted(int, int)           {}
