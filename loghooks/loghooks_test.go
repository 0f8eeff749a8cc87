package loghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func capturing(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestEventsAreLogged(t *testing.T) {
	h, buf := capturing(Options{})

	h.EmergencyRefill()
	h.RefillFailed(errors.New("dead generator"))
	h.WarmUpTriggered(3)
	h.WarmUpDone(100)
	h.BatchInserted(2, 4)

	out := buf.String()
	for _, want := range []string{
		"credpool.emergency_refill",
		"credpool.refill_failed",
		"credpool.warmup_triggered",
		"credpool.warmup_done",
		"credpool.batch_inserted",
		"dead generator",
		"available=3",
		"produced=4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestWarmUpRetrySampling(t *testing.T) {
	h, buf := capturing(Options{WarmUpRetryEvery: 3})

	for i := 0; i < 9; i++ {
		h.WarmUpRetry(errors.New("still down"), time.Second)
	}
	if got := strings.Count(buf.String(), "credpool.warmup_retry"); got != 3 {
		t.Fatalf("logged %d retry events out of 9 with 1-in-3 sampling, want 3", got)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.EmergencyRefill()
	h.RefillFailed(errors.New("x"))
	h.WarmUpTriggered(0)
	h.WarmUpRetry(errors.New("y"), time.Second)
	h.WarmUpDone(0)
	h.BatchInserted(0, 0)
}
