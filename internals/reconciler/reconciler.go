// Package reconciler owns the client-side view of the analysis task list and
// its aggregate stats. Server loads replace state wholesale; retry and cancel
// apply an optimistic guess first and restore a snapshot when the backend
// rejects the call.
package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pixelsort/taskwatch/internals/schemas"
	"github.com/pixelsort/taskwatch/sdk"
)

type Backend interface {
	ListAnalyses(ctx context.Context, query schemas.ListQuery) ([]schemas.AnalysisTask, error)
	Stats(ctx context.Context) (*schemas.Stats, error)
	RetryAnalysis(ctx context.Context, id int64) (*schemas.AnalysisTask, error)
	CancelAnalysis(ctx context.Context, id int64) (*schemas.AnalysisTask, error)
}

// Notifier shows short messages to the user (toasts, a status line, stdout).
type Notifier interface {
	Info(message string)
	Success(message string)
	Error(message string)
}

var (
	ErrActionInFlight = errors.New("an action is already running for this analysis")
	ErrTaskNotFound   = errors.New("analysis not found")
	ErrNotCancellable = errors.New("analysis is not queued or running")
)

const (
	MessageQueued          = "Analysis queued, waiting for a worker"
	MessageReanalysisStart = "Re-analysis started"
	MessageAnalysisStarted = "Analysis started"
	MessageRetrySucceeded  = "Retry succeeded"
	MessageCancelled       = "Analysis cancelled"
	fallbackLoadMessage    = "Failed to load analyses"
	fallbackRetryMessage   = "Retry failed"
	fallbackCancelMessage  = "Cancel failed"
	defaultPageSize        = 20
)

type Options struct {
	PageSize int
	// Notifier receives retry and cancel outcomes.
	Notifier Notifier
	// LoadNotifier receives load failures. Defaults to Notifier.
	LoadNotifier Notifier
	Logger       *slog.Logger
	Clock        clockwork.Clock
}

type Reconciler struct {
	backend      Backend
	notifier     Notifier
	loadNotifier Notifier
	logger       *slog.Logger
	clock        clockwork.Clock
	pageSize     int

	mu       sync.Mutex
	tasks    []schemas.AnalysisTask
	stats    schemas.Stats
	loaded   bool
	search   string
	status   schemas.AnalysisStatus
	page     int
	inflight map[int64]struct{}

	subMu       sync.Mutex
	subscribers map[chan struct{}]struct{}
}

// snapshot is the value copy taken before an optimistic mutation.
type snapshot struct {
	task  schemas.AnalysisTask
	stats schemas.Stats
}

func New(backend Backend, opts Options) *Reconciler {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.LoadNotifier == nil {
		opts.LoadNotifier = opts.Notifier
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		backend:      backend,
		notifier:     opts.Notifier,
		loadNotifier: opts.LoadNotifier,
		logger:       opts.Logger,
		clock:        opts.Clock,
		pageSize:     opts.PageSize,
		page:         1,
		inflight:     make(map[int64]struct{}),
		subscribers:  make(map[chan struct{}]struct{}),
	}
}

// Load fetches the task list and stats concurrently and replaces local state
// only when both succeed.
func (r *Reconciler) Load(ctx context.Context) error {
	var tasks []schemas.AnalysisTask
	var stats *schemas.Stats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := r.backend.ListAnalyses(gctx, schemas.ListQuery{})
		tasks = list
		return err
	})
	g.Go(func() error {
		s, err := r.backend.Stats(gctx)
		stats = s
		return err
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("Failed to load analyses", "error", err)
		r.loadNotifier.Error(sdk.MessageOf(err, fallbackLoadMessage))
		return err
	}
	if stats == nil {
		computed := schemas.ComputeStats(tasks)
		stats = &computed
	}

	r.mu.Lock()
	r.tasks = slices.Clone(tasks)
	r.stats = *stats
	r.loaded = true
	r.mu.Unlock()

	r.logger.Debug("Loaded analyses", "count", len(tasks), "pending", stats.Pending, "processing", stats.Processing)
	r.changed()
	return nil
}

// Retry re-queues an analysis. A second Retry for the same id while the
// first is running returns ErrActionInFlight without calling the backend.
func (r *Reconciler) Retry(ctx context.Context, id int64) error {
	snap, err := r.begin(id, func(task *schemas.AnalysisTask) error {
		task.Status = schemas.AnalysisStatusPending
		task.CompletedAt = nil
		task.Result = nil
		task.ErrorMessage = ""
		task.ErrorType = ""
		return nil
	})
	if err != nil {
		return err
	}
	defer r.finish(id)

	prior := snap.task.Status
	updated, err := r.backend.RetryAnalysis(ctx, id)
	if err != nil {
		r.restore(snap)
		r.logger.Warn("Retry failed, rolled back", "id", id, "error", err)
		r.notifier.Error(sdk.MessageOf(err, fallbackRetryMessage))
		return err
	}

	r.confirm(id, updated)
	if updated != nil && updated.Status == schemas.AnalysisStatusPending {
		r.notifier.Info(MessageQueued)
		return nil
	}
	switch prior {
	case schemas.AnalysisStatusCompleted:
		r.notifier.Success(MessageReanalysisStart)
	case schemas.AnalysisStatusPending:
		r.notifier.Success(MessageAnalysisStarted)
	default:
		r.notifier.Success(MessageRetrySucceeded)
	}
	return nil
}

// Cancel stops a queued or running analysis, with the same snapshot and
// rollback handling as Retry.
func (r *Reconciler) Cancel(ctx context.Context, id int64) error {
	now := r.clock.Now()
	snap, err := r.begin(id, func(task *schemas.AnalysisTask) error {
		if !task.Status.IsUnresolved() {
			return ErrNotCancellable
		}
		task.Status = schemas.AnalysisStatusCancelled
		task.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	defer r.finish(id)

	updated, err := r.backend.CancelAnalysis(ctx, id)
	if err != nil {
		r.restore(snap)
		r.logger.Warn("Cancel failed, rolled back", "id", id, "error", err)
		r.notifier.Error(sdk.MessageOf(err, fallbackCancelMessage))
		return err
	}
	r.confirm(id, updated)
	r.notifier.Success(MessageCancelled)
	return nil
}

// ApplyUpdate merges a single pushed record. Unknown ids are prepended.
func (r *Reconciler) ApplyUpdate(task schemas.AnalysisTask) {
	r.mu.Lock()
	if idx := r.indexLocked(task.ID); idx >= 0 {
		r.stats.Move(r.tasks[idx].Status, task.Status)
		r.tasks[idx] = task
	} else {
		r.tasks = append([]schemas.AnalysisTask{task}, r.tasks...)
		r.stats.Total++
		r.stats.Add(task.Status, 1)
	}
	r.mu.Unlock()
	r.changed()
}

func (r *Reconciler) ApplyStats(stats schemas.Stats) {
	r.mu.Lock()
	r.stats = stats
	r.mu.Unlock()
	r.changed()
}

func (r *Reconciler) SetSearch(search string) {
	r.mu.Lock()
	if r.search == search {
		r.mu.Unlock()
		return
	}
	r.search = search
	r.page = 1
	r.mu.Unlock()
	r.changed()
}

func (r *Reconciler) SetStatusFilter(status schemas.AnalysisStatus) {
	r.mu.Lock()
	if r.status == status {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.page = 1
	r.mu.Unlock()
	r.changed()
}

// SetPage moves to page, clamped to the pages of the filtered list.
func (r *Reconciler) SetPage(page int) {
	r.mu.Lock()
	filtered := Filter(r.tasks, r.search, r.status)
	page = clampPage(page, PageCount(len(filtered), r.pageSize))
	if r.page == page {
		r.mu.Unlock()
		return
	}
	r.page = page
	r.mu.Unlock()
	r.changed()
}

func (r *Reconciler) Page() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	filtered := Filter(r.tasks, r.search, r.status)
	items, page := Paginate(filtered, r.page, r.pageSize)
	return View{
		Items:    slices.Clone(items),
		Filtered: len(filtered),
		Page:     page,
		Pages:    PageCount(len(filtered), r.pageSize),
		PageSize: r.pageSize,
		Search:   r.search,
		Status:   r.status,
		Stats:    r.stats,
		Loaded:   r.loaded,
	}
}

func (r *Reconciler) Tasks() []schemas.AnalysisTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.tasks)
}

func (r *Reconciler) Task(id int64) (schemas.AnalysisTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.tasks[idx], true
	}
	return schemas.AnalysisTask{}, false
}

func (r *Reconciler) Stats() schemas.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reconciler) HasUnresolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.tasks {
		if task.Status.IsUnresolved() {
			return true
		}
	}
	return false
}

func (r *Reconciler) InFlight(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[id]
	return ok
}

// Subscribe returns a channel that receives a signal after every state
// change. Signals coalesce; readers should call View afterwards.
func (r *Reconciler) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.subMu.Lock()
	r.subscribers[ch] = struct{}{}
	r.subMu.Unlock()
	return ch, func() {
		r.subMu.Lock()
		delete(r.subscribers, ch)
		r.subMu.Unlock()
	}
}

// begin claims the in-flight slot for id, takes a snapshot and applies the
// optimistic mutation, keeping stats in step with the status change.
func (r *Reconciler) begin(id int64, mutate func(task *schemas.AnalysisTask) error) (snapshot, error) {
	r.mu.Lock()
	if _, busy := r.inflight[id]; busy {
		r.mu.Unlock()
		r.logger.Debug("Ignoring duplicate action", "id", id)
		return snapshot{}, ErrActionInFlight
	}
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return snapshot{}, ErrTaskNotFound
	}

	snap := snapshot{task: r.tasks[idx], stats: r.stats}
	next := r.tasks[idx]
	if err := mutate(&next); err != nil {
		r.mu.Unlock()
		return snapshot{}, err
	}
	r.inflight[id] = struct{}{}
	r.tasks[idx] = next
	r.stats.Move(snap.task.Status, next.Status)
	r.mu.Unlock()

	r.changed()
	return snap, nil
}

func (r *Reconciler) finish(id int64) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
	r.changed()
}

// restore puts the snapshot back verbatim.
func (r *Reconciler) restore(snap snapshot) {
	r.mu.Lock()
	if idx := r.indexLocked(snap.task.ID); idx >= 0 {
		r.tasks[idx] = snap.task
	}
	r.stats = snap.stats
	r.mu.Unlock()
	r.changed()
}

// confirm applies the record returned by the backend, if any.
func (r *Reconciler) confirm(id int64, updated *schemas.AnalysisTask) {
	if updated == nil || updated.ID != id {
		return
	}
	r.mu.Lock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.stats.Move(r.tasks[idx].Status, updated.Status)
		r.tasks[idx] = *updated
	}
	r.mu.Unlock()
	r.changed()
}

func (r *Reconciler) indexLocked(id int64) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) changed() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
