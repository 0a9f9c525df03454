package connstatus

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestAnnounceCooldown(t *testing.T) {
	fc := clockwork.NewFakeClock()
	m := New(fc, 5*time.Second)

	if !m.Announce("connected") {
		t.Fatalf("expected first announce to pass")
	}
	if m.Announce("connected") {
		t.Fatalf("expected duplicate inside cooldown to be suppressed")
	}
	if !m.Announce("retry:7") {
		t.Fatalf("expected a different key to pass")
	}

	fc.Advance(4 * time.Second)
	if m.Announce("connected") {
		t.Fatalf("expected suppression until cooldown elapses")
	}
	fc.Advance(time.Second)
	if !m.Announce("connected") {
		t.Fatalf("expected announce after cooldown")
	}
}

func TestBeginDeduplicatesByMediaAndModel(t *testing.T) {
	m := New(clockwork.NewFakeClock(), time.Second)

	release, ok := m.Begin(12, "llava")
	if !ok {
		t.Fatalf("expected first begin to succeed")
	}
	if _, ok := m.Begin(12, " llava "); ok {
		t.Fatalf("expected duplicate media+model to be rejected")
	}
	otherRelease, ok := m.Begin(12, "moondream")
	if !ok {
		t.Fatalf("expected a different model to be accepted")
	}
	if m.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", m.InFlight())
	}

	release()
	release()
	otherRelease()
	if m.InFlight() != 0 {
		t.Fatalf("expected nothing in flight, got %d", m.InFlight())
	}
	if _, ok := m.Begin(12, "llava"); !ok {
		t.Fatalf("expected begin to succeed after release")
	}
}

func TestManagersAreIndependent(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := New(fc, time.Minute)
	b := New(fc, time.Minute)
	if !a.Announce("connected") || !b.Announce("connected") {
		t.Fatalf("expected separate managers not to share state")
	}
}
