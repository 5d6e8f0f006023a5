package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/docindex/internal/client"
	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/service"
	"github.com/makeasinger/docindex/internal/status"
)

// CreateWorker fetches a document from its file source and adds it to the
// index store
type CreateWorker struct {
	jobRunner
	retriever client.FileRetriever
	storage   client.StorageClient
}

// NewCreateWorker creates a new create worker
func NewCreateWorker(ledger service.StatusLedger, retriever client.FileRetriever, storage client.StorageClient, notifier Notifier, logger *slog.Logger) *CreateWorker {
	return &CreateWorker{
		jobRunner: newJobRunner(ledger, notifier, logger),
		retriever: retriever,
		storage:   storage,
	}
}

// ProcessTask handles document:create tasks
func (w *CreateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.CreateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return w.rejectPayload(ctx, model.JobTypeCreate, err)
	}
	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return w.rejectPayload(ctx, model.JobTypeCreate, err)
	}

	j := job{id: jobID, jobType: model.JobTypeCreate, documentID: payload.DocumentID}
	w.logger.Info("starting create job", "job_id", jobID, "document_id", payload.DocumentID)

	run, err := w.begin(ctx, j)
	if err != nil || !run {
		return err
	}

	if payload.DocumentID == "" || payload.FilePath == "" {
		return w.fail(ctx, j, model.FailureBadPayload, errors.New("document id and file path are required"), true)
	}

	data, err := w.retriever.Retrieve(ctx, payload.FileSource, payload.FilePath)
	if err != nil {
		return w.fail(ctx, j, model.FailureRetrieval, err, isPermanentRetrieval(err))
	}

	metadata := map[string]string{
		"document-id": payload.DocumentID,
		"job-id":      jobID.String(),
	}
	if payload.Title != "" {
		metadata["title"] = payload.Title
	}

	url, err := w.storage.Upload(ctx, client.DocumentKey(payload.DocumentID), data, metadata)
	if err != nil {
		return w.fail(ctx, j, model.FailureStorage, err, false)
	}
	w.logger.Info("document indexed", "job_id", jobID, "document_id", payload.DocumentID, "url", url)

	return w.settle(ctx, j, status.Done{})
}

func isPermanentRetrieval(err error) bool {
	return errors.Is(err, client.ErrFileNotFound) ||
		errors.Is(err, client.ErrUnknownSource) ||
		errors.Is(err, client.ErrSFTPAuth)
}
