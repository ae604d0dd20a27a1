// Package queue defines the asynq job that hands PDF tasks to the worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// ProcessPDFTask is scheduled each time a PDF is accepted.
const ProcessPDFTask = "ocr:pdf"

// PDFPayload keys the job to its task record; the worker re-loads everything
// else from the database, so the enqueue side and the processing side share
// nothing but the id.
type PDFPayload struct {
	TaskID string `json:"task_id"`
}

// PDFEnqueuer adapts an asynq client to the API's Enqueuer dependency.
type PDFEnqueuer struct {
	Client *asynq.Client
}

// EnqueuePDF implements the hand-off contract for one task id.
func (e *PDFEnqueuer) EnqueuePDF(ctx context.Context, taskID string) error {
	return EnqueuePDF(ctx, e.Client, taskID)
}

// EnqueuePDF enqueues a PDF OCR job.
func EnqueuePDF(ctx context.Context, client *asynq.Client, taskID string) error {
	data, err := json.Marshal(PDFPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ProcessPDFTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue pdf task: %w", err)
	}
	return nil
}
