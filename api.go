package credpool

import (
	"context"
	"time"

	gen "github.com/unkn0wn-root/credpool/generator"
	st "github.com/unkn0wn-root/credpool/store"
)

// Pool hands out usable credentials and keeps the underlying supply topped
// up. Safe for concurrent use.
type Pool interface {
	// Credential allocates one credential use. On pool exhaustion it blocks
	// on a synchronous emergency refill (one generator batch) and retries
	// the allocation exactly once; a *RefillError means even that failed.
	// It never returns an empty credential with a nil error.
	Credential(ctx context.Context) (string, error)

	// Available reports how many rows are still under the freshness limit.
	Available(ctx context.Context) (int, error)

	// Prime starts the generator ahead of the first allocation, optionally
	// kicking off a background warm-up.
	Prime(ctx context.Context, warmUp bool) error

	// Close cancels any in-flight warm-up, waits for it, and stops the
	// generator. The store is not closed; the caller owns it.
	Close(ctx context.Context) error
}

// Options tune the pool. Only Store and Generator are required; others have
// sensible defaults.
type Options struct {
	// Required
	Store     st.Store
	Generator gen.Generator

	BatchSize    int           // batch multiplier sent to the generator; 0 => 2
	PoolTarget   int           // warm-up runs until this many fresh uses; 0 => 100
	LowWaterMark int           // async warm-up trigger threshold; 0 => 20
	RetryBackoff time.Duration // warm-up wait after a generator error; 0 => 5s

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

func New(opts Options) (Pool, error) {
	return newPool(opts)
}
