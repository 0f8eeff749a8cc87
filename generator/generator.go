// Package generator manages the external credential generator process and
// its line-oriented IPC protocol. The generator itself is an opaque binary;
// this package only knows the handshake (a single READY line on stdout), the
// batch command (`cluster <N>`), and the one-line JSON array reply.
package generator

import (
	"context"
	"fmt"
)

// Generator produces batches of opaque credential strings. Implementations
// must be safe for concurrent use; Batch calls are serialized internally.
type Generator interface {
	// Start brings the process up and waits for readiness. Calling Start on
	// a running generator is a no-op; callers normally rely on the lazy
	// start inside Batch instead.
	Start(ctx context.Context) error

	// Batch requests one batch with the given size multiplier and returns
	// the credentials produced. On an IPC failure the process handle is
	// cleared so the next call transparently restarts it.
	Batch(ctx context.Context, size int) ([]string, error)

	// Stop terminates the process: graceful signal, bounded wait, then a
	// hard kill. Idempotent if nothing is running.
	Stop(ctx context.Context) error
}

// State is the process lifecycle state. Failed is reached from Starting,
// Ready or Busy on any IPC error; the next Batch restarts from there.
type State int

const (
	Stopped State = iota
	Starting
	Ready
	Busy
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StartupError means the process never emitted the readiness line. Output is
// whatever it printed instead (may be empty); Stderr is the captured error
// stream tail.
type StartupError struct {
	Output string
	Stderr string
	Err    error
}

func (e *StartupError) Error() string {
	msg := "generator: process failed to become ready"
	if e.Output != "" {
		msg += fmt.Sprintf(" (got %q)", e.Output)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "; stderr: " + e.Stderr
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// IPCError covers broken pipes, unexpected stream closure and unparsable
// replies. The process is already torn down by the time it is returned.
type IPCError struct {
	Op     string // "write", "read" or "parse"
	Stderr string
	Err    error
}

func (e *IPCError) Error() string {
	msg := fmt.Sprintf("generator: %s failed: %v", e.Op, e.Err)
	if e.Stderr != "" {
		msg += "; stderr: " + e.Stderr
	}
	return msg
}

func (e *IPCError) Unwrap() error { return e.Err }
