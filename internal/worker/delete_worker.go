package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/docindex/internal/client"
	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/service"
	"github.com/makeasinger/docindex/internal/status"
)

// DeleteWorker removes a document from the index store
type DeleteWorker struct {
	jobRunner
	storage client.StorageClient
}

// NewDeleteWorker creates a new delete worker
func NewDeleteWorker(ledger service.StatusLedger, storage client.StorageClient, notifier Notifier, logger *slog.Logger) *DeleteWorker {
	return &DeleteWorker{
		jobRunner: newJobRunner(ledger, notifier, logger),
		storage:   storage,
	}
}

// ProcessTask handles document:delete tasks
func (w *DeleteWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.DeleteJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return w.rejectPayload(ctx, model.JobTypeDelete, err)
	}
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return w.rejectPayload(ctx, model.JobTypeDelete, err)
	}

	j := job{id: jobID, jobType: model.JobTypeDelete, documentID: payload.DocumentID}
	w.logger.Info("starting delete job", "job_id", jobID, "document_id", payload.DocumentID)

	run, err := w.begin(ctx, j)
	if err != nil || !run {
		return err
	}

	if payload.DocumentID == "" {
		return w.fail(ctx, j, model.FailureBadPayload, errors.New("document id is required"), true)
	}

	err = w.storage.Delete(ctx, client.DocumentKey(payload.DocumentID))
	switch {
	case errors.Is(err, client.ErrObjectNotFound):
		w.logger.Info("document not in index", "job_id", jobID, "document_id", payload.DocumentID)
	case err != nil:
		return w.fail(ctx, j, model.FailureStorage, fmt.Errorf("delete %s: %w", payload.DocumentID, err), false)
	}

	return w.settle(ctx, j, status.Done{})
}
