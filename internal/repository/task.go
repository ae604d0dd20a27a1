// Package repository wraps all SQL used by the API and the worker.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelens/pagelens/internal/model"
	"github.com/pagelens/pagelens/internal/payload"
)

// ErrNotFound is returned when no task exists for an id.
var ErrNotFound = errors.New("task not found")

// TaskRepository persists OCR task records.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository constructs a repository.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// Create inserts a pending task.
func (r *TaskRepository) Create(ctx context.Context, t *model.OcrTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ocr_tasks
			(id, task_type, status, input_path, output_dir, result_payload, error_message,
			 queued_at, started_at, finished_at, duration_ms, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NULL,NULL,NULL,$5,NULL,NULL,NULL,$6,$7)
	`, t.ID, t.Type, t.Status, t.InputPath, t.QueuedAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (r *TaskRepository) Get(ctx context.Context, id string) (*model.OcrTask, error) {
	var (
		t          model.OcrTask
		outputDir  sql.NullString
		errMsg     sql.NullString
		durationMS sql.NullInt64
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, task_type, status, input_path, output_dir, result_payload, error_message,
		       queued_at, started_at, finished_at, duration_ms, created_at, updated_at
		FROM ocr_tasks WHERE id=$1
	`, id)
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.InputPath, &outputDir, &t.ResultPayload,
		&errMsg, &t.QueuedAt, &t.StartedAt, &t.FinishedAt, &durationMS, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select task: %w", err)
	}
	if outputDir.Valid {
		t.OutputDir = outputDir.String
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	if durationMS.Valid {
		ms := durationMS.Int64
		t.DurationMS = &ms
	}
	return &t, nil
}

// MarkRunning applies the running transition and persists it. The write must
// land before inference starts so a crash mid-work is observable as running.
func (r *TaskRepository) MarkRunning(ctx context.Context, t *model.OcrTask) error {
	t.MarkRunning()
	return r.saveTransition(ctx, t)
}

// MarkSucceeded stores the result payload and output dir and finalizes timing.
func (r *TaskRepository) MarkSucceeded(ctx context.Context, t *model.OcrTask, doc payload.Document, outputDir string) error {
	encoded, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	t.MarkSucceeded(encoded, outputDir)
	return r.saveTransition(ctx, t)
}

// MarkFailed records a terminal failure.
func (r *TaskRepository) MarkFailed(ctx context.Context, t *model.OcrTask, message string) error {
	t.MarkFailed(message)
	return r.saveTransition(ctx, t)
}

// saveTransition persists the mutable lifecycle fields. The status guard keeps
// terminal rows write-once, so a worker retry after a crash can add at most
// one transition and never overwrites a recorded outcome.
func (r *TaskRepository) saveTransition(ctx context.Context, t *model.OcrTask) error {
	var outputDir, errMsg *string
	if t.OutputDir != "" {
		outputDir = &t.OutputDir
	}
	if t.ErrorMessage != "" {
		errMsg = &t.ErrorMessage
	}
	var result any
	if len(t.ResultPayload) > 0 {
		result = []byte(t.ResultPayload)
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE ocr_tasks
		SET status=$1,
			output_dir=$2,
			result_payload = COALESCE($3, result_payload),
			error_message=$4,
			queued_at=$5,
			started_at=$6,
			finished_at=$7,
			duration_ms=$8,
			updated_at=$9
		WHERE id=$10 AND status NOT IN ('succeeded','failed')
	`, t.Status, outputDir, result, errMsg, t.QueuedAt, t.StartedAt, t.FinishedAt,
		t.DurationMS, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// PatchProgress merges a progress snapshot into the stored payload of a
// still-running task without touching any other field.
func (r *TaskRepository) PatchProgress(ctx context.Context, id string, p payload.Progress) error {
	patch, err := payload.Document{Progress: &p}.Encode()
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		UPDATE ocr_tasks
		SET result_payload = COALESCE(result_payload, '{}'::jsonb) || $1::jsonb,
			updated_at=$2
		WHERE id=$3 AND status='running'
	`, []byte(patch), now, id)
	if err != nil {
		return fmt.Errorf("patch progress: %w", err)
	}
	return nil
}
