package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/model"
	"github.com/makeasinger/docindex/internal/status"
)

// Broadcaster delivers status updates to job subscribers
type Broadcaster interface {
	BroadcastStatus(jobID, documentID string, s status.JobStatus)
}

// OutcomeWorker forwards settled job statuses to the websocket subscribers
// of this instance. Every instance runs one.
type OutcomeWorker struct {
	rdb    redis.UniversalClient
	hub    Broadcaster
	logger *slog.Logger
}

func NewOutcomeWorker(rdb redis.UniversalClient, hub Broadcaster, logger *slog.Logger) *OutcomeWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeWorker{rdb: rdb, hub: hub, logger: logger}
}

// Subscribe listens on OutcomeChannel. It returns once the subscription is
// confirmed and relays outcomes until ctx is cancelled.
func (w *OutcomeWorker) Subscribe(ctx context.Context) error {
	sub := w.rdb.Subscribe(ctx, OutcomeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to outcomes: %w", err)
	}

	go func() {
		defer sub.Close()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				w.relay(msg.Payload)
			}
		}
	}()
	return nil
}

func (w *OutcomeWorker) relay(payload string) {
	var outcome model.OutcomePayload
	if err := json.Unmarshal([]byte(payload), &outcome); err != nil {
		w.logger.Warn("dropping unreadable outcome", "error", err)
		return
	}
	if outcome.JobID == "" || outcome.Status.JobStatus == nil {
		w.logger.Warn("dropping outcome without job or status", "job_id", outcome.JobID)
		return
	}

	w.logger.Debug("broadcasting outcome", "job_id", outcome.JobID, "status", outcome.Status.String())
	w.hub.BroadcastStatus(outcome.JobID, outcome.DocumentID, outcome.Status.JobStatus)
}
