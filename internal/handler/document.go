package handler

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/service"
	"github.com/makeasinger/docindex/pkg/response"
)

const documentIDRules = "required,max=128,excludesall=/\\"

type DocumentHandler struct {
	service   *service.DocumentService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewDocumentHandler(svc *service.DocumentService, v *validator.Validate, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Create handles POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	var req model.CreateDocumentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.SubmitCreate(c.UserContext(), &req)
	if err != nil {
		h.logger.Error("failed to submit create job", "document_id", req.DocumentID, "error", err)
		return response.ServerError(c)
	}

	return response.Accepted(c, result)
}

// Delete handles DELETE /api/documents/:documentId
func (h *DocumentHandler) Delete(c *fiber.Ctx) error {
	documentID := c.Params("documentId")
	if err := h.validator.Var(documentID, documentIDRules); err != nil {
		return response.ValidationError(c, "Invalid document ID", nil)
	}

	result, err := h.service.SubmitDelete(c.UserContext(), documentID)
	if err != nil {
		h.logger.Error("failed to submit delete job", "document_id", documentID, "error", err)
		return response.ServerError(c)
	}

	return response.Accepted(c, result)
}
