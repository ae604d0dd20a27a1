// Package model defines the persisted OCR task entity and its lifecycle.
package model

import (
	"encoding/json"
	"time"
)

// TaskStatus describes where a task sits in its lifecycle. Transitions are
// one-directional: pending -> running -> succeeded|failed.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TaskType distinguishes the synchronous image path from the queued PDF path.
type TaskType string

const (
	TypeImage TaskType = "image"
	TypePDF   TaskType = "pdf"
)

// maxErrorLen bounds the stored failure message.
const maxErrorLen = 2000

// OcrTask is one OCR job tracked from submission to terminal outcome. Fields
// are mutated only through the Mark* methods; callers persist the record after
// each transition.
type OcrTask struct {
	ID            string          `json:"id"`
	Type          TaskType        `json:"task_type"`
	Status        TaskStatus      `json:"status"`
	InputPath     string          `json:"-"`
	OutputDir     string          `json:"-"`
	ResultPayload json.RawMessage `json:"-"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	QueuedAt      *time.Time      `json:"queued_at,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	DurationMS    *int64          `json:"duration_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewTask constructs a pending task record.
func NewTask(id string, taskType TaskType, inputPath string) *OcrTask {
	now := time.Now().UTC()
	return &OcrTask{
		ID:        id,
		Type:      taskType,
		Status:    StatusPending,
		InputPath: inputPath,
		QueuedAt:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkRunning records that work has begun. queued_at is backfilled if a
// creation bug left it unset, and any stale completion data from an earlier
// attempt is cleared.
func (t *OcrTask) MarkRunning() {
	t.markRunningAt(time.Now().UTC())
}

func (t *OcrTask) markRunningAt(now time.Time) {
	if t.Status.Terminal() {
		return
	}
	if t.QueuedAt == nil {
		t.QueuedAt = &now
	}
	t.StartedAt = &now
	t.FinishedAt = nil
	t.DurationMS = nil
	t.Status = StatusRunning
	t.UpdatedAt = now
}

// MarkSucceeded stores the result payload verbatim and finalizes timing.
// outputDir may be empty for tasks that produce no artifacts.
func (t *OcrTask) MarkSucceeded(payload json.RawMessage, outputDir string) {
	t.markSucceededAt(time.Now().UTC(), payload, outputDir)
}

func (t *OcrTask) markSucceededAt(now time.Time, payload json.RawMessage, outputDir string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = StatusSucceeded
	t.ResultPayload = payload
	t.OutputDir = outputDir
	t.ErrorMessage = ""
	t.finalizeDuration(now)
}

// MarkFailed records a terminal failure with a bounded human-readable message.
func (t *OcrTask) MarkFailed(message string) {
	t.markFailedAt(time.Now().UTC(), message)
}

func (t *OcrTask) markFailedAt(now time.Time, message string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = StatusFailed
	t.ErrorMessage = truncate(message, maxErrorLen)
	t.finalizeDuration(now)
}

// finalizeDuration stamps finished_at and derives duration_ms from started_at,
// falling back to queued_at. Negative values are clamped to zero to absorb
// clock skew between the enqueueing and finalizing processes.
func (t *OcrTask) finalizeDuration(now time.Time) {
	t.FinishedAt = &now
	t.UpdatedAt = now
	reference := t.StartedAt
	if reference == nil {
		reference = t.QueuedAt
	}
	if reference == nil {
		t.DurationMS = nil
		return
	}
	ms := now.Sub(*reference).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	t.DurationMS = &ms
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Timing is the client-facing timing snapshot of a task.
type Timing struct {
	QueuedAt   *time.Time `json:"queued_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
}

// Timing returns the timing snapshot, or nil when the record carries no
// timing data at all.
func (t *OcrTask) Timing() *Timing {
	if t.QueuedAt == nil && t.StartedAt == nil && t.FinishedAt == nil && t.DurationMS == nil {
		return nil
	}
	return &Timing{
		QueuedAt:   t.QueuedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
		DurationMS: t.DurationMS,
	}
}
