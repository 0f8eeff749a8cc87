package generator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	readyToken = "READY"

	defaultStopGrace    = 3 * time.Second
	defaultReadyTimeout = 30 * time.Second
	stderrTailLimit     = 8 << 10
)

// Daemon runs the generator binary as a single long-lived child process.
//
// Two independent lock domains: mu guards lifecycle (state, process handle),
// comm serializes request/response cycles on the pipes. The pipe is one
// ordered byte stream; interleaved requests would be undefined.
type Daemon struct {
	path         string
	args         []string
	env          []string
	stopGrace    time.Duration
	readyTimeout time.Duration

	comm sync.Mutex

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailBuffer
}

var _ Generator = (*Daemon)(nil)

type Option func(*Daemon)

// WithArgs sets the arguments the binary is spawned with (e.g. "server").
func WithArgs(args ...string) Option { return func(d *Daemon) { d.args = args } }

// WithEnv sets the child environment; nil inherits the parent's.
func WithEnv(env []string) Option { return func(d *Daemon) { d.env = env } }

// WithStopGrace bounds how long Stop waits after the termination signal
// before force-killing.
func WithStopGrace(d time.Duration) Option { return func(g *Daemon) { g.stopGrace = d } }

// WithReadyTimeout bounds how long Start waits for the readiness line.
func WithReadyTimeout(d time.Duration) Option { return func(g *Daemon) { g.readyTimeout = d } }

// New wraps the runnable at path. Provisioning (download, hash checks) of
// the binary is the caller's problem; New does not touch the filesystem.
func New(path string, opts ...Option) *Daemon {
	d := &Daemon{
		path:         path,
		stopGrace:    defaultStopGrace,
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State reports the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked(ctx)
}

func (d *Daemon) startLocked(ctx context.Context) error {
	if d.state == Ready || d.state == Busy {
		return nil
	}
	d.state = Starting

	cmd := exec.Command(d.path, d.args...)
	if d.env != nil {
		cmd.Env = d.env
	}
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.state = Stopped
		return &StartupError{Err: err}
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		d.state = Stopped
		return &StartupError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		d.state = Stopped
		return &StartupError{Err: err}
	}

	stdout := bufio.NewReader(stdoutPipe)
	line, err := readLine(ctx, stdout, d.readyTimeout)
	if got := strings.TrimSpace(line); err != nil || got != readyToken {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		d.state = Stopped
		return &StartupError{Output: got, Stderr: stderr.String(), Err: err}
	}

	d.cmd, d.stdin, d.stdout, d.stderr = cmd, stdin, stdout, stderr
	d.state = Ready
	return nil
}

func (d *Daemon) Batch(ctx context.Context, size int) ([]string, error) {
	if size <= 0 {
		size = 1
	}

	d.comm.Lock()
	defer d.comm.Unlock()

	d.mu.Lock()
	if d.state != Ready {
		if err := d.startLocked(ctx); err != nil {
			d.mu.Unlock()
			return nil, err
		}
	}
	d.state = Busy
	stdin, stdout := d.stdin, d.stdout
	d.mu.Unlock()

	if _, err := fmt.Fprintf(stdin, "cluster %d\n", size); err != nil {
		return nil, d.fail("write", err)
	}

	line, err := readLine(ctx, stdout, 0)
	if err != nil {
		return nil, d.fail("read", err) // io.EOF here means the pipe closed
	}

	// The generator may prefix the reply with its own diagnostics; scan for
	// the first structural start-of-array and parse from there.
	start := strings.IndexByte(line, '[')
	if start < 0 {
		return nil, d.fail("parse", fmt.Errorf("no JSON array in output %q", strings.TrimSpace(line)))
	}
	var params []string
	if err := json.Unmarshal([]byte(line[start:]), &params); err != nil {
		return nil, d.fail("parse", err)
	}

	d.mu.Lock()
	if d.state == Busy {
		d.state = Ready
	}
	d.mu.Unlock()
	return params, nil
}

// fail tears the process down and wraps the cause. After fail the handle is
// cleared, so the next Batch restarts from scratch.
func (d *Daemon) fail(op string, err error) error {
	d.mu.Lock()
	var stderrTail string
	if d.stderr != nil {
		stderrTail = d.stderr.String()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.clearLocked()
	d.state = Failed
	d.mu.Unlock()
	return &IPCError{Op: op, Stderr: stderrTail, Err: err}
}

func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd == nil || d.cmd.Process == nil {
		d.state = Stopped
		return nil
	}
	d.state = Stopping

	proc := d.cmd.Process
	_ = proc.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func(cmd *exec.Cmd) { done <- cmd.Wait() }(d.cmd)

	timer := time.NewTimer(d.stopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = proc.Kill()
		<-done
	case <-ctx.Done():
		_ = proc.Kill()
		<-done
	}

	d.clearLocked()
	d.state = Stopped
	return nil
}

func (d *Daemon) clearLocked() {
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	d.stderr = nil
}

// readLine reads one newline-terminated line, honoring ctx and an optional
// timeout. The read itself runs in a goroutine; on abandonment the caller
// kills the process, which closes the pipe and unblocks the read.
func readLine(ctx context.Context, r *bufio.Reader, timeout time.Duration) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-expired:
		return "", context.DeadlineExceeded
	}
}

// tailBuffer keeps the last limit bytes written. Used to attach a bounded
// stderr excerpt to startup and IPC errors.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	b.mu.Unlock()
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
