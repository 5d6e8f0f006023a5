package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/service"
	"github.com/makeasinger/docindex/internal/status"
)

// job carries what every document task needs to report its progress
type job struct {
	id         uuid.UUID
	jobType    string
	documentID string
}

// jobRunner records task progress in the ledger and publishes outcomes
type jobRunner struct {
	ledger   service.StatusLedger
	notifier Notifier
	logger   *slog.Logger

	// retriesLeft reports whether the queue will run the task again
	retriesLeft func(ctx context.Context) bool
}

func newJobRunner(ledger service.StatusLedger, notifier Notifier, logger *slog.Logger) jobRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return jobRunner{ledger: ledger, notifier: notifier, logger: logger, retriesLeft: queueRetriesLeft}
}

// begin marks the job Accepted. It reports false when the job has already
// settled, in which case the task must not run again.
func (r *jobRunner) begin(ctx context.Context, j job) (bool, error) {
	stored, err := r.ledger.Set(ctx, j.id, status.Accepted{})
	if err != nil {
		return false, fmt.Errorf("failed to record acceptance: %w", err)
	}
	if stored.Terminal() {
		r.logger.Info("job already settled, skipping", "job_id", j.id, "status", stored.String())
		return false, nil
	}
	return true, nil
}

// settle records a terminal status and publishes whatever the ledger kept
func (r *jobRunner) settle(ctx context.Context, j job, s status.JobStatus) error {
	stored, err := r.ledger.Set(ctx, j.id, s)
	if err != nil {
		return fmt.Errorf("failed to record status: %w", err)
	}
	if !status.Equal(stored, s) {
		r.logger.Warn("job settled by another worker", "job_id", j.id, "requested", s.String(), "stored", stored.String())
	} else {
		r.logger.Info("job settled", "job_id", j.id, "type", j.jobType, "status", stored.String())
	}

	outcome := &model.OutcomePayload{
		JobID:      j.id.String(),
		Type:       j.jobType,
		DocumentID: j.documentID,
		Status:     status.Value{JobStatus: stored},
		SettledAt:  time.Now(),
	}
	if err := r.notifier.Notify(ctx, outcome); err != nil {
		r.logger.Error("failed to publish outcome", "job_id", j.id, "error", err)
	}
	return nil
}

// fail settles the job as Failed. Transient causes are handed back to the
// queue while retries remain.
func (r *jobRunner) fail(ctx context.Context, j job, code string, cause error, permanent bool) error {
	if !permanent && r.retriesLeft(ctx) {
		r.logger.Warn("job attempt failed, will retry", "job_id", j.id, "code", code, "error", cause)
		return cause
	}

	if err := r.settle(ctx, j, status.Failed{Code: code, Message: cause.Error()}); err != nil {
		return err
	}
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

// rejectPayload fails a task whose payload cannot be used. The task ID is the
// job ID, so the ledger can still be settled when the payload is unreadable.
func (r *jobRunner) rejectPayload(ctx context.Context, jobType string, cause error) error {
	taskID, ok := asynq.GetTaskID(ctx)
	if !ok {
		return fmt.Errorf("invalid %s payload: %v: %w", jobType, cause, asynq.SkipRetry)
	}
	id, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", jobType, cause, asynq.SkipRetry)
	}
	return r.fail(ctx, job{id: id, jobType: jobType}, model.FailureBadPayload,
		fmt.Errorf("invalid %s payload: %w", jobType, cause), true)
}

func queueRetriesLeft(ctx context.Context) bool {
	count, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return count < maxRetry
}
