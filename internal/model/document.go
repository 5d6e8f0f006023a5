package model

import (
	"time"

	"github.com/makeasinger/docindex/internal/status"
)

// FileSource names the remote host a document is fetched from
type FileSource string

const (
	FileSourceSentinel FileSource = "sentinel"
)

// Job types
const (
	JobTypeCreate = "create"
	JobTypeDelete = "delete"
)

// CreateDocumentRequest asks for a document to be fetched and indexed
type CreateDocumentRequest struct {
	DocumentID string     `json:"documentId" validate:"required,max=128,excludesall=/\\"`
	FileSource FileSource `json:"fileSource" validate:"required,oneof=sentinel"`
	FilePath   string     `json:"filePath" validate:"required,max=1024"`
	Title      string     `json:"title" validate:"omitempty,max=256"`
}

// JobAcceptedResponse is returned when a job has been queued
type JobAcceptedResponse struct {
	JobID     string       `json:"jobId"`
	Type      string       `json:"type"`
	Status    status.Value `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}

// JobStatusResponse reports the current ledger status of a job
type JobStatusResponse struct {
	JobID    string       `json:"jobId"`
	Status   status.Value `json:"status"`
	Terminal bool         `json:"terminal"`
}

// CreateJobPayload is the task payload of a create job
type CreateJobPayload struct {
	JobID      string     `json:"jobId"`
	DocumentID string     `json:"documentId"`
	FileSource FileSource `json:"fileSource"`
	FilePath   string     `json:"filePath"`
	Title      string     `json:"title,omitempty"`
}

// DeleteJobPayload is the task payload of a delete job
type DeleteJobPayload struct {
	JobID      string `json:"jobId"`
	DocumentID string `json:"documentId"`
}

// OutcomePayload carries a settled job status to notification consumers
type OutcomePayload struct {
	JobID      string       `json:"jobId"`
	Type       string       `json:"type"`
	DocumentID string       `json:"documentId"`
	Status     status.Value `json:"status"`
	SettledAt  time.Time    `json:"settledAt"`
}

// Failure codes recorded in the ledger when a job cannot complete
const (
	FailureRetrieval  = "0x1"
	FailureStorage    = "0x2"
	FailureBadPayload = "0x3"
	FailureDispatch   = "0x4"
)
