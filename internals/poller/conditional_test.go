package poller

import (
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/logging"
)

func TestConditionalFollowsShouldPoll(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var calls atomic.Int32
	fired := make(chan struct{}, 16)

	c := NewConditional(countingCallback(&calls, fired), false, interval, Options{Clock: fc, Logger: logging.Discard()})
	defer c.Stop()

	fc.Advance(3 * interval)
	expectNoSignal(t, fired, "callback before shouldPoll")
	if c.Running() {
		t.Fatalf("expected no ticker while shouldPoll is false")
	}

	c.SetShouldPoll(true)
	waitSignal(t, fired, "immediate fire when polling starts")
	fc.Advance(interval)
	waitSignal(t, fired, "tick")

	c.SetShouldPoll(false)
	if c.Running() {
		t.Fatalf("expected ticker released when shouldPoll flips false")
	}
	fc.Advance(5 * interval)
	expectNoSignal(t, fired, "callback after shouldPoll flips false")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 invocations, got %d", got)
	}
}

func TestConditionalRepeatedTrueDoesNotRefire(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var calls atomic.Int32
	fired := make(chan struct{}, 16)

	c := NewConditional(countingCallback(&calls, fired), true, interval, Options{Clock: fc, Logger: logging.Discard()})
	defer c.Stop()
	waitSignal(t, fired, "immediate fire")

	c.SetShouldPoll(true)
	c.SetShouldPoll(true)
	expectNoSignal(t, fired, "extra fire for unchanged shouldPoll")
	if !c.ShouldPoll() {
		t.Fatalf("expected shouldPoll to stay true")
	}
}
