package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is satisfied by *ledger.Ledger
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	ledger        Pinger
	bucketStorage bool
	logger        *slog.Logger
}

func NewHealthHandler(ledger Pinger, bucketStorage bool, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{ledger: ledger, bucketStorage: bucketStorage, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	ledgerUp := true
	if err := h.ledger.Ping(ctx); err != nil {
		h.logger.Warn("ledger unavailable", "error", err)
		ledgerUp = false
	}

	body := fiber.Map{
		"status": "ok",
		"services": fiber.Map{
			"ledger":  ledgerUp,
			"storage": h.bucketStorage,
		},
	}
	if !ledgerUp {
		body["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
