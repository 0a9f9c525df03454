package backoff

import (
	"math"
	"testing"
	"time"
)

func TestExponential(t *testing.T) {
	delay := Exponential(Config{
		Base:   5 * time.Second,
		Max:    60 * time.Second,
		Factor: 2,
	})

	if got := delay(1); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
	if got := delay(2); got != 10*time.Second {
		t.Fatalf("expected 10s, got %v", got)
	}
	if got := delay(4); got != 40*time.Second {
		t.Fatalf("expected 40s, got %v", got)
	}
	if got := delay(5); got != 60*time.Second {
		t.Fatalf("expected cap of 60s, got %v", got)
	}
}

func TestExponentialDefaults(t *testing.T) {
	delay := Exponential(Config{Base: 50 * time.Millisecond})
	if got := delay(2); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms with default factor, got %v", got)
	}
	if got := delay(0); got != 0 {
		t.Fatalf("expected 0 for attempt <= 0, got %v", got)
	}
}

func TestExponentialOverflow(t *testing.T) {
	delay := Exponential(Config{Base: time.Duration(math.MaxInt64), Factor: 2})
	if got := delay(2); got <= 0 {
		t.Fatalf("expected positive duration, got %v", got)
	}
}

func TestFixed(t *testing.T) {
	delay := Fixed(5 * time.Second)
	for attempt := 1; attempt < 10; attempt++ {
		if got := delay(attempt); got != 5*time.Second {
			t.Fatalf("attempt %d: expected 5s, got %v", attempt, got)
		}
	}
}
