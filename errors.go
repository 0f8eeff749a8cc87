package credpool

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a pool after Close.
var ErrClosed = errors.New("credpool: pool is closed")

// RefillError means the pool could not be serviced even after a direct
// synchronous generator call: either the batch request failed, or it
// succeeded and allocation still came back empty.
type RefillError struct {
	// Err is the generator/store failure behind the refill, nil when the
	// generator answered but produced nothing allocatable.
	Err error
}

func (e *RefillError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credpool: emergency refill failed: %v", e.Err)
	}
	return "credpool: no credential available even after emergency refill"
}

func (e *RefillError) Unwrap() error { return e.Err }
