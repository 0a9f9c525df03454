package mockserver

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/pixelsort/taskwatch/internals/reconciler"
	"github.com/pixelsort/taskwatch/internals/schemas"
)

// FailingModel makes Step fail a task instead of completing it.
const FailingModel = "broken"

// Error is a failure the handlers render as an error envelope.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	nextID   int64
	tasks    map[int64]*schemas.AnalysisTask
	failures map[string]*Error
}

func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:    clock,
		nextID:   1,
		tasks:    make(map[int64]*schemas.AnalysisTask),
		failures: make(map[string]*Error),
	}
}

// Seed inserts tasks as given. Missing ids are assigned.
func (s *Store) Seed(tasks ...schemas.AnalysisTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if task.ID == 0 {
			task.ID = s.nextID
		}
		if task.ID >= s.nextID {
			s.nextID = task.ID + 1
		}
		if task.CreatedAt == nil {
			now := s.clock.Now()
			task.CreatedAt = &now
		}
		stored := task
		s.tasks[task.ID] = &stored
	}
}

// FailNext makes the next call of action ("list", "stats", "retry",
// "cancel", "submit") fail with status and message.
func (s *Store) FailNext(action string, status int, message string) {
	s.mu.Lock()
	s.failures[action] = &Error{Status: status, Message: message}
	s.mu.Unlock()
}

func (s *Store) takeFailureLocked(action string) error {
	if failure, ok := s.failures[action]; ok {
		delete(s.failures, action)
		return failure
	}
	return nil
}

func (s *Store) List(query schemas.ListQuery) ([]schemas.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked("list"); err != nil {
		return nil, err
	}
	return reconciler.Filter(s.sortedLocked(), query.Search, query.Status), nil
}

func (s *Store) Stats() (schemas.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked("stats"); err != nil {
		return schemas.Stats{}, err
	}
	return schemas.ComputeStats(s.sortedLocked()), nil
}

func (s *Store) Get(id int64) (schemas.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return schemas.AnalysisTask{}, notFound(id)
	}
	return *task, nil
}

func (s *Store) Submit(request schemas.SubmitRequest) (schemas.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked("submit"); err != nil {
		return schemas.AnalysisTask{}, err
	}
	now := s.clock.Now()
	task := &schemas.AnalysisTask{
		ID:        s.nextID,
		MediaID:   request.MediaID,
		Filename:  fmt.Sprintf("media-%d.jpg", request.MediaID),
		Model:     request.Model,
		Status:    schemas.AnalysisStatusPending,
		CreatedAt: &now,
	}
	s.nextID++
	s.tasks[task.ID] = task
	return *task, nil
}

// Retry re-queues a finished task. A task that is still queued is returned
// unchanged; a running one is rejected.
func (s *Store) Retry(id int64) (schemas.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked("retry"); err != nil {
		return schemas.AnalysisTask{}, err
	}
	task, ok := s.tasks[id]
	if !ok {
		return schemas.AnalysisTask{}, notFound(id)
	}
	switch task.Status {
	case schemas.AnalysisStatusPending:
		return *task, nil
	case schemas.AnalysisStatusProcessing:
		return schemas.AnalysisTask{}, &Error{Status: http.StatusConflict, Message: "analysis is already running"}
	}
	task.Status = schemas.AnalysisStatusPending
	task.RetryCount++
	task.CompletedAt = nil
	task.Result = nil
	task.ErrorMessage = ""
	task.ErrorType = ""
	return *task, nil
}

func (s *Store) Cancel(id int64) (schemas.AnalysisTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked("cancel"); err != nil {
		return schemas.AnalysisTask{}, err
	}
	task, ok := s.tasks[id]
	if !ok {
		return schemas.AnalysisTask{}, notFound(id)
	}
	if !task.Status.IsUnresolved() {
		return schemas.AnalysisTask{}, &Error{Status: http.StatusBadRequest, Message: "analysis already finished"}
	}
	now := s.clock.Now()
	task.Status = schemas.AnalysisStatusCancelled
	task.CompletedAt = &now
	return *task, nil
}

// Step advances every unresolved task by one stage: pending tasks start
// processing, processing tasks complete (or fail for FailingModel).
func (s *Store) Step() []schemas.AnalysisTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	changed := []schemas.AnalysisTask{}
	for _, task := range s.sortedLocked() {
		stored := s.tasks[task.ID]
		switch stored.Status {
		case schemas.AnalysisStatusPending:
			stored.Status = schemas.AnalysisStatusProcessing
		case schemas.AnalysisStatusProcessing:
			completed := now
			stored.CompletedAt = &completed
			if stored.Model == FailingModel {
				stored.Status = schemas.AnalysisStatusFailed
				stored.ErrorMessage = "model returned no output"
				stored.ErrorType = "inference_error"
			} else {
				stored.Status = schemas.AnalysisStatusCompleted
				stored.Result = &schemas.AnalysisResult{
					Description:         "Mock analysis of " + stored.Filename,
					SuggestedCategories: []string{"Uncategorized"},
					SuggestedTags:       []string{strings.TrimSuffix(stored.Filename, ".jpg")},
				}
			}
		default:
			continue
		}
		changed = append(changed, *stored)
	}
	return changed
}

// sortedLocked returns the tasks newest first.
func (s *Store) sortedLocked() []schemas.AnalysisTask {
	tasks := make([]schemas.AnalysisTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	slices.SortFunc(tasks, func(a, b schemas.AnalysisTask) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return tasks
}

func notFound(id int64) error {
	return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("analysis %d not found", id)}
}
