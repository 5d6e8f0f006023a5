package model

import "github.com/makeasinger/docindex/internal/status"

// WebSocket message types
const (
	WSMessageTypeStatus = "status"
	WSMessageTypeError  = "error"
	WSMessageTypePing   = "ping"
	WSMessageTypePong   = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStatusMessage reports a job status change
type WSStatusMessage struct {
	Type       string       `json:"type"`
	JobID      string       `json:"jobId"`
	DocumentID string       `json:"documentId,omitempty"`
	Status     status.Value `json:"status"`
	Terminal   bool         `json:"terminal"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
