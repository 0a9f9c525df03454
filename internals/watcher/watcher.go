// Package watcher runs the live view of the analysis list: it loads once,
// polls while anything is unresolved, applies websocket pushes and writes the
// last good load to the snapshot cache.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/connstatus"
	"github.com/pixelsort/taskwatch/internals/poller"
	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/internals/timeouts"
	"github.com/pixelsort/taskwatch/internals/wsbridge"
	"github.com/pixelsort/taskwatch/sdk"
)

const (
	MessageLiveConnected  = "Live updates connected"
	MessageSubmitted      = "Analysis submitted"
	connectedNoticeKey    = "ws-connected"
	fallbackSubmitMessage = "Submit failed"
)

var ErrSubmitInFlight = errors.New("an analysis for this media and model is already being submitted")

// Backend is the reconciler's backend plus submission of new analyses.
type Backend interface {
	reconciler.Backend
	SubmitAnalysis(ctx context.Context, request schemas.SubmitRequest) (*schemas.AnalysisTask, error)
}

type SnapshotSaver interface {
	Save(ctx context.Context, tasks []schemas.AnalysisTask, stats schemas.Stats, savedAt time.Time) error
}

type Options struct {
	Interval time.Duration
	PageSize int

	// WebSocketURL enables push updates when set.
	WebSocketURL string
	Header       http.Header
	Heartbeat    time.Duration
	Backoff      func(attempt int) time.Duration
	MaxAttempts  int
	Dialer       wsbridge.Dialer

	Snapshots SnapshotSaver
	Status    *connstatus.Manager
	Notifier  reconciler.Notifier
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

type Watcher struct {
	opts       Options
	backend    Backend
	reconciler *reconciler.Reconciler

	mu      sync.Mutex
	cancel  context.CancelFunc
	poller  *poller.Conditional
	bridge  *wsbridge.Bridge
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func New(backend Backend, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = timeouts.PollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Status == nil {
		opts.Status = connstatus.New(opts.Clock, timeouts.NoticeCooldown)
	}
	if opts.Notifier == nil {
		opts.Notifier = reconciler.NopNotifier{}
	}
	return &Watcher{
		opts:    opts,
		backend: backend,
		reconciler: reconciler.New(backend, reconciler.Options{
			PageSize:     opts.PageSize,
			Notifier:     opts.Notifier,
			LoadNotifier: &cooldownNotifier{next: opts.Notifier, status: opts.Status},
			Logger:       opts.Logger,
			Clock:        opts.Clock,
		}),
	}
}

func (w *Watcher) Reconciler() *reconciler.Reconciler {
	return w.reconciler
}

// Start performs the initial load and starts polling and push updates. The
// watcher keeps running when the initial load fails; the error is returned
// so the caller can report it.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	changes, unsubscribe := w.reconciler.Subscribe()
	w.poller = poller.NewConditional(w.refresh, false, w.opts.Interval, poller.Options{
		Clock:  w.opts.Clock,
		Logger: w.opts.Logger,
		OnError: func(err error) {
			w.opts.Logger.Debug("Poll failed", "error", err)
		},
	})
	if w.opts.WebSocketURL != "" {
		w.bridge = wsbridge.New(wsbridge.Options{
			URL:              w.opts.WebSocketURL,
			Header:           w.opts.Header,
			Heartbeat:        w.opts.Heartbeat,
			Backoff:          w.opts.Backoff,
			MaxAttempts:      w.opts.MaxAttempts,
			Dialer:           w.opts.Dialer,
			Clock:            w.opts.Clock,
			Logger:           w.opts.Logger,
			OnAnalysisUpdate: w.reconciler.ApplyUpdate,
			OnStatsUpdate:    w.reconciler.ApplyStats,
			OnStateChange:    func(state wsbridge.State) { w.onBridgeState(ctx, state) },
		})
	}
	conditional := w.poller
	bridge := w.bridge
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				conditional.SetShouldPoll(w.reconciler.HasUnresolved())
			}
		}
	}()

	err := w.refresh(ctx)
	if bridge != nil {
		bridge.Start()
	}
	return err
}

// Refresh reloads the list now, outside the polling schedule.
func (w *Watcher) Refresh(ctx context.Context) error {
	return w.refresh(ctx)
}

func (w *Watcher) refresh(ctx context.Context) error {
	if err := w.reconciler.Load(ctx); err != nil {
		return err
	}
	if w.opts.Snapshots == nil {
		return nil
	}
	if err := w.opts.Snapshots.Save(ctx, w.reconciler.Tasks(), w.reconciler.Stats(), w.opts.Clock.Now()); err != nil {
		w.opts.Logger.Warn("Failed to save snapshot", "error", err)
	}
	return nil
}

func (w *Watcher) onBridgeState(ctx context.Context, state wsbridge.State) {
	w.opts.Logger.Debug("Websocket state changed", "state", state.String())
	if state != wsbridge.StateConnected {
		return
	}
	if w.opts.Status.Announce(connectedNoticeKey) {
		w.opts.Notifier.Success(MessageLiveConnected)
	}
	// Pushes sent while disconnected are lost, so resync once per connect.
	go func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.refresh(ctx); err != nil {
			w.opts.Logger.Debug("Resync after connect failed", "error", err)
		}
	}()
}

// Submit queues a new analysis. While a submission for the same media and
// model is outstanding, further calls return ErrSubmitInFlight without
// reaching the backend.
func (w *Watcher) Submit(ctx context.Context, request schemas.SubmitRequest) (*schemas.AnalysisTask, error) {
	if err := schemas.ValidateSubmitRequest(&request); err != nil {
		return nil, err
	}
	release, ok := w.opts.Status.Begin(request.MediaID, request.Model)
	if !ok {
		w.opts.Logger.Debug("Ignoring duplicate submit", "media_id", request.MediaID, "model", request.Model)
		return nil, ErrSubmitInFlight
	}
	defer release()

	task, err := w.backend.SubmitAnalysis(ctx, request)
	if err != nil {
		w.opts.Logger.Warn("Submit failed", "media_id", request.MediaID, "model", request.Model, "error", err)
		w.opts.Notifier.Error(sdk.MessageOf(err, fallbackSubmitMessage))
		return nil, err
	}
	w.reconciler.ApplyUpdate(*task)
	w.opts.Notifier.Success(MessageSubmitted)
	return task, nil
}

// Polling reports whether the conditional poller currently has a timer.
func (w *Watcher) Polling() bool {
	w.mu.Lock()
	conditional := w.poller
	w.mu.Unlock()
	return conditional != nil && conditional.Running()
}

func (w *Watcher) LiveConnected() bool {
	w.mu.Lock()
	bridge := w.bridge
	w.mu.Unlock()
	return bridge != nil && bridge.IsConnected()
}

// Stop tears down polling and the websocket. No timer or socket survives it.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel := w.cancel
	conditional := w.poller
	bridge := w.bridge
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	if conditional != nil {
		conditional.Stop()
	}
	if bridge != nil {
		bridge.Disconnect()
	}
}

// cooldownNotifier drops a load error repeated within the cooldown window,
// so a backend outage produces one message rather than one per poll.
type cooldownNotifier struct {
	next   reconciler.Notifier
	status *connstatus.Manager
}

func (n *cooldownNotifier) Info(message string)    { n.next.Info(message) }
func (n *cooldownNotifier) Success(message string) { n.next.Success(message) }

func (n *cooldownNotifier) Error(message string) {
	if n.status.Announce("error:" + message) {
		n.next.Error(message)
	}
}
