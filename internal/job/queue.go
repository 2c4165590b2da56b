// Package job carries indexing jobs between the front door and the
// dispatcher over a visibility-timeout queue.
package job

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
)

// Queue is an at-least-once job queue with visibility timeouts.
// A polled job stays invisible to other pollers until its timeout
// elapses and is only removed by Ack.
type Queue interface {
	// Enqueue appends a job. No ordering is guaranteed between jobs.
	Enqueue(ctx context.Context, job models.Job) error

	// Poll returns up to one batch of visible jobs, each with a receipt handle.
	// Receive failures are logged and yield an empty batch.
	Poll(ctx context.Context) []models.Job

	// Ack removes the job behind receiptHandle. Acking twice or with an
	// expired handle is a no-op; errors are soft and safe to log and ignore.
	Ack(ctx context.Context, receiptHandle string) error
}

func encodeJob(j models.Job) (string, error) {
	if j.UserID == "" {
		return "", apperrors.NewInvalidParameterError("userId", "must not be empty")
	}
	if j.Amount < 1 {
		return "", apperrors.NewInvalidParameterError("amount", fmt.Sprintf("must be at least 1, got %d", j.Amount))
	}
	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (models.Job, error) {
	var j models.Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return j, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if j.UserID == "" {
		return j, fmt.Errorf("job has no userId")
	}
	if j.Amount < 1 {
		j.Amount = 1
	}
	return j, nil
}
