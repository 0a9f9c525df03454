package schemas

import (
	"errors"
	"fmt"
	"time"
)

type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusFailed     AnalysisStatus = "failed"
	AnalysisStatusCancelled  AnalysisStatus = "cancelled"
)

var AnalysisStatuses = []AnalysisStatus{
	AnalysisStatusPending,
	AnalysisStatusProcessing,
	AnalysisStatusCompleted,
	AnalysisStatusFailed,
	AnalysisStatusCancelled,
}

func (s AnalysisStatus) String() string {
	return string(s)
}

func (s AnalysisStatus) Valid() bool {
	for _, status := range AnalysisStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the server will drive no further transitions.
func (s AnalysisStatus) IsTerminal() bool {
	switch s {
	case AnalysisStatusCompleted, AnalysisStatusFailed, AnalysisStatusCancelled:
		return true
	default:
		return false
	}
}

// IsUnresolved is true while the task is queued or running.
func (s AnalysisStatus) IsUnresolved() bool {
	return s == AnalysisStatusPending || s == AnalysisStatusProcessing
}

type AnalysisResult struct {
	Description         string   `json:"description"`
	SuggestedCategories []string `json:"suggested_categories,omitempty"`
	SuggestedTags       []string `json:"suggested_tags,omitempty"`
}

// AnalysisTask is one asynchronous analysis job as reported by the backend.
type AnalysisTask struct {
	ID           int64           `json:"id"`
	MediaID      int64           `json:"media_id,omitempty"`
	Filename     string          `json:"filename,omitempty"`
	Model        string          `json:"model,omitempty"`
	CategoryName string          `json:"category_name,omitempty"`
	Status       AnalysisStatus  `json:"status"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Result       *AnalysisResult `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorType    string          `json:"error_type,omitempty"`
	RetryCount   int             `json:"retry_count"`
}

var ErrInvalidTask = errors.New("invalid analysis task")

// Validate checks that result, error and completion fields agree with Status.
func (t AnalysisTask) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	hasError := t.ErrorMessage != "" || t.ErrorType != ""
	if t.Result != nil && t.Status != AnalysisStatusCompleted {
		return fmt.Errorf("%w: task %d has a result while %s", ErrInvalidTask, t.ID, t.Status)
	}
	if hasError && t.Status != AnalysisStatusFailed {
		return fmt.Errorf("%w: task %d has an error while %s", ErrInvalidTask, t.ID, t.Status)
	}
	if t.Status.IsTerminal() != (t.CompletedAt != nil) {
		return fmt.Errorf("%w: task %d completed_at does not match status %s", ErrInvalidTask, t.ID, t.Status)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("%w: task %d has negative retry count", ErrInvalidTask, t.ID)
	}
	return nil
}

// Description returns the result description, or "" when there is no result.
func (t AnalysisTask) Description() string {
	if t.Result == nil {
		return ""
	}
	return t.Result.Description
}
