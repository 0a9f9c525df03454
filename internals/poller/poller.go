// Package poller re-invokes a callback on a fixed interval. Each Poller owns
// at most one ticker; Stop releases it and nothing fires afterwards.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/timeouts"
)

type Callback func(ctx context.Context) error

type Options struct {
	Interval  time.Duration
	Enabled   bool
	Immediate bool
	// Condition is checked on every tick; false skips the tick but keeps the
	// ticker running.
	Condition func() bool
	// OnError receives every callback failure. When nil, failures are logged.
	OnError func(err error)
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type Poller struct {
	callback  Callback
	interval  time.Duration
	immediate bool
	condition func() bool
	onError   func(err error)
	clock     clockwork.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// runMu serializes callback invocations between ticks and Trigger.
	runMu sync.Mutex

	mu       sync.Mutex
	enabled  bool
	paused   bool
	disposed bool
	loop     *loop
	lastErr  error
}

type loop struct {
	ticker clockwork.Ticker
	stop   chan struct{}
}

var ErrPanic = errors.New("poll callback panicked")

// New creates a poller and, when opts.Enabled is set, starts its ticker
// immediately.
func New(callback Callback, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = timeouts.PollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		callback:  callback,
		interval:  opts.Interval,
		immediate: opts.Immediate,
		condition: opts.Condition,
		onError:   opts.OnError,
		clock:     opts.Clock,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   opts.Enabled,
	}

	p.mu.Lock()
	if p.enabled {
		p.startLocked(p.immediate)
	}
	p.mu.Unlock()
	return p
}

// Trigger runs the callback now in the calling goroutine, regardless of the
// interval, the condition or the paused state.
func (p *Poller) Trigger() {
	p.mu.Lock()
	disposed := p.disposed
	p.mu.Unlock()
	if disposed {
		return
	}
	p.invoke()
}

func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.stopLocked()
}

// Resume restarts the ticker when the poller is enabled. The immediate fire is
// not repeated.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	if p.enabled && !p.disposed && p.loop == nil {
		p.startLocked(false)
	}
}

// SetEnabled tears the ticker down and, when enabled, recreates it, firing
// once immediately if the poller was built with Immediate.
func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed || p.enabled == enabled {
		return
	}
	p.enabled = enabled
	p.stopLocked()
	if enabled {
		p.paused = false
		p.startLocked(p.immediate)
	}
}

// Stop disposes the poller. In-flight callbacks see their context cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.disposed = true
	p.stopLocked()
	p.cancel()
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop != nil
}

func (p *Poller) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) startLocked(fireImmediately bool) {
	l := &loop{
		ticker: p.clock.NewTicker(p.interval),
		stop:   make(chan struct{}),
	}
	p.loop = l

	go func() {
		defer l.ticker.Stop()
		if fireImmediately && !l.stopped() {
			p.invoke()
		}
		for {
			select {
			case <-l.stop:
				return
			case <-p.ctx.Done():
				return
			case <-l.ticker.Chan():
				if l.stopped() {
					return
				}
				if p.condition != nil && !p.condition() {
					continue
				}
				p.invoke()
			}
		}
	}()
}

func (p *Poller) stopLocked() {
	if p.loop == nil {
		return
	}
	close(p.loop.stop)
	p.loop.ticker.Stop()
	p.loop = nil
}

func (l *loop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (p *Poller) invoke() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	err := p.call()

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	if err == nil {
		return
	}
	if p.onError != nil {
		p.onError(err)
		return
	}
	p.logger.Error("Poll callback failed", "error", err)
}

func (p *Poller) call() (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, recovered)
		}
	}()
	return p.callback(p.ctx)
}
