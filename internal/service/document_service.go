package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/status"
)

const (
	TaskTypeDocumentCreate = "document:create"
	TaskTypeDocumentDelete = "document:delete"
)

// QueueDocuments holds document create and delete tasks
const QueueDocuments = "documents"

// StatusLedger is the subset of the job-status ledger used by services and
// workers. *ledger.Ledger satisfies it.
type StatusLedger interface {
	Get(ctx context.Context, id uuid.UUID) (status.JobStatus, error)
	Set(ctx context.Context, id uuid.UUID, s status.JobStatus) (status.JobStatus, error)
}

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DocumentService accepts document jobs and reports their status
type DocumentService struct {
	ledger   StatusLedger
	enqueuer Enqueuer
	logger   *slog.Logger
}

func NewDocumentService(ledger StatusLedger, enqueuer Enqueuer, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		ledger:   ledger,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// SubmitCreate records a new create job as Accepted and queues it
func (s *DocumentService) SubmitCreate(ctx context.Context, req *model.CreateDocumentRequest) (*model.JobAcceptedResponse, error) {
	jobID := uuid.New()
	payload := &model.CreateJobPayload{
		JobID:      jobID.String(),
		DocumentID: req.DocumentID,
		FileSource: req.FileSource,
		FilePath:   req.FilePath,
		Title:      req.Title,
	}
	return s.submit(ctx, jobID, model.JobTypeCreate, TaskTypeDocumentCreate, payload)
}

// SubmitDelete records a new delete job as Accepted and queues it
func (s *DocumentService) SubmitDelete(ctx context.Context, documentID string) (*model.JobAcceptedResponse, error) {
	jobID := uuid.New()
	payload := &model.DeleteJobPayload{
		JobID:      jobID.String(),
		DocumentID: documentID,
	}
	return s.submit(ctx, jobID, model.JobTypeDelete, TaskTypeDocumentDelete, payload)
}

func (s *DocumentService) submit(ctx context.Context, jobID uuid.UUID, jobType, taskType string, payload interface{}) (*model.JobAcceptedResponse, error) {
	now := time.Now()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	stored, err := s.ledger.Set(ctx, jobID, status.Accepted{})
	if err != nil {
		return nil, fmt.Errorf("failed to record job: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, asynq.NewTask(taskType, payloadBytes),
		asynq.Queue(QueueDocuments),
		asynq.TaskID(jobID.String()),
		asynq.MaxRetry(3),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		// Settle the job so it does not sit in Accepted with nothing to run it.
		failed := status.Failed{Code: model.FailureDispatch, Message: err.Error()}
		if _, setErr := s.ledger.Set(ctx, jobID, failed); setErr != nil {
			s.logger.Error("failed to record dispatch failure", "job_id", jobID, "error", setErr)
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("job accepted", "job_id", jobID, "type", jobType)

	return &model.JobAcceptedResponse{
		JobID:     jobID.String(),
		Type:      jobType,
		Status:    status.Value{JobStatus: stored},
		CreatedAt: now,
	}, nil
}

// Status returns the ledger status of a job
func (s *DocumentService) Status(ctx context.Context, jobID uuid.UUID) (*model.JobStatusResponse, error) {
	st, err := s.ledger.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		JobID:    jobID.String(),
		Status:   status.Value{JobStatus: st},
		Terminal: st.Terminal(),
	}, nil
}
