package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is re-executed as the generator binary by the tests
// below. It is not a test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "helper: no mode")
		os.Exit(2)
	}

	switch mode := args[0]; mode {
	case "noready":
		fmt.Fprintln(os.Stderr, "fatal: no backend available")
		fmt.Println("ERROR")
		os.Exit(1)

	case "serve", "serve-once", "garbage":
		fmt.Println("READY")
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) != 2 || fields[0] != "cluster" {
				fmt.Fprintf(os.Stderr, "helper: bad command %q\n", sc.Text())
				os.Exit(2)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				os.Exit(2)
			}
			if mode == "garbage" {
				fmt.Println("nothing useful on this line")
				continue
			}
			out := make([]string, n)
			for i := range out {
				out[i] = fmt.Sprintf("cred-%d-%d", os.Getpid(), i)
			}
			b, _ := json.Marshal(out)
			// diagnostics before the array, like the real binary
			fmt.Printf("generated %d %s\n", n, b)
			if mode == "serve-once" {
				return
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "helper: unknown mode %q\n", mode)
		os.Exit(2)
	}
}

func newDaemon(t *testing.T, mode string, opts ...Option) *Daemon {
	t.Helper()
	opts = append([]Option{
		WithArgs("-test.run=TestHelperProcess", "--", mode),
		WithEnv(append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")),
		WithReadyTimeout(10 * time.Second),
		WithStopGrace(time.Second),
	}, opts...)
	d := New(os.Args[0], opts...)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func TestBatchParsesPrefixedReply(t *testing.T) {
	ctx := context.Background()
	d := newDaemon(t, "serve")

	// Batch starts the process lazily; no explicit Start needed.
	params, err := d.Batch(ctx, 3)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("got %d params, want 3", len(params))
	}
	for _, p := range params {
		if !strings.HasPrefix(p, "cred-") {
			t.Fatalf("unexpected param %q", p)
		}
	}
	if st := d.State(); st != Ready {
		t.Fatalf("state after Batch = %v, want ready", st)
	}
}

func TestBatchSizeFloor(t *testing.T) {
	d := newDaemon(t, "serve")
	params, err := d.Batch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("size 0 must request one, got %d", len(params))
	}
}

func TestStartupFailure(t *testing.T) {
	d := newDaemon(t, "noready")

	err := d.Start(context.Background())
	var se *StartupError
	if !errors.As(err, &se) {
		t.Fatalf("Start = %v, want StartupError", err)
	}
	if se.Output != "ERROR" {
		t.Fatalf("StartupError.Output = %q, want ERROR", se.Output)
	}
	if !strings.Contains(se.Stderr, "no backend available") {
		t.Fatalf("StartupError.Stderr = %q, missing diagnostics", se.Stderr)
	}
	if st := d.State(); st != Stopped {
		t.Fatalf("state after failed start = %v, want stopped", st)
	}
}

func TestUnparsableReply(t *testing.T) {
	d := newDaemon(t, "garbage")

	_, err := d.Batch(context.Background(), 1)
	var ie *IPCError
	if !errors.As(err, &ie) {
		t.Fatalf("Batch = %v, want IPCError", err)
	}
	if ie.Op != "parse" {
		t.Fatalf("IPCError.Op = %q, want parse", ie.Op)
	}
	if st := d.State(); st != Failed {
		t.Fatalf("state after parse failure = %v, want failed", st)
	}
}

func TestBatchRestartsAfterProcessExit(t *testing.T) {
	ctx := context.Background()
	d := newDaemon(t, "serve-once")

	if _, err := d.Batch(ctx, 2); err != nil {
		t.Fatalf("first Batch: %v", err)
	}

	// The helper exited after one reply; the broken pipe must surface as an
	// IPCError and move the daemon to failed.
	_, err := d.Batch(ctx, 2)
	var ie *IPCError
	if !errors.As(err, &ie) {
		t.Fatalf("second Batch = %v, want IPCError", err)
	}
	if st := d.State(); st != Failed {
		t.Fatalf("state after pipe failure = %v, want failed", st)
	}

	// Next call restarts transparently.
	params, err := d.Batch(ctx, 2)
	if err != nil {
		t.Fatalf("Batch after failure: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("got %d params after restart, want 2", len(params))
	}
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	d := newDaemon(t, "serve")

	// Stop before Start is a no-op.
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop (never started): %v", err)
	}
	if st := d.State(); st != Stopped {
		t.Fatalf("state = %v, want stopped", st)
	}

	if _, err := d.Batch(ctx, 1); err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := d.State(); st != Stopped {
		t.Fatalf("state after Stop = %v, want stopped", st)
	}
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if got := Busy.String(); got != "busy" {
		t.Fatalf("Busy.String() = %q", got)
	}
	if got := State(42).String(); got != "state(42)" {
		t.Fatalf("unknown state = %q", got)
	}
}
