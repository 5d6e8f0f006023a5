package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/makeasinger/docindex/internal/ledger"
	"github.com/makeasinger/docindex/internal/service"
	ws "github.com/makeasinger/docindex/internal/websocket"
	"github.com/makeasinger/docindex/pkg/response"
)

type JobHandler struct {
	service *service.DocumentService
	hub     *ws.Hub
	logger  *slog.Logger
}

func NewJobHandler(svc *service.DocumentService, hub *ws.Hub, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		service: svc,
		hub:     hub,
		logger:  logger,
	}
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("jobId"))
	if err != nil {
		return response.ValidationError(c, "Invalid job ID", nil)
	}

	result, err := h.service.Status(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		h.logger.Error("failed to read job status", "job_id", jobID, "kind", ledger.KindOf(err).String(), "error", err)
		return response.ServerError(c)
	}

	return response.OK(c, result)
}

// Stream handles GET /api/ws/jobs/:jobId. The subscriber is registered before
// the ledger is read so a job settling in between is still delivered.
func (h *JobHandler) Stream(c *websocket.Conn) {
	rawID := c.Params("jobId")
	jobID, err := uuid.Parse(rawID)
	if err != nil {
		h.hub.Reject(c, rawID, response.CodeValidationError, "Invalid job ID")
		return
	}

	client := h.hub.Subscribe(c, jobID.String())

	result, err := h.service.Status(context.Background(), jobID)
	if err != nil {
		h.hub.Unregister(client)
		if errors.Is(err, ledger.ErrNotFound) {
			h.hub.Reject(c, rawID, response.CodeNotFound, "Job not found")
			return
		}
		h.logger.Error("failed to read job status", "job_id", jobID, "kind", ledger.KindOf(err).String(), "error", err)
		h.hub.Reject(c, rawID, response.CodeServiceError, response.MessageServerError)
		return
	}

	h.hub.Serve(client, result.Status.JobStatus)
}
