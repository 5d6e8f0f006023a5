package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/docindex/internal/model"
)

// OutcomeChannel is the Redis channel every server instance listens on for
// settled jobs
const OutcomeChannel = "docindex:outcomes"

// Notifier publishes the settled status of a job
type Notifier interface {
	Notify(ctx context.Context, outcome *model.OutcomePayload) error
}

// PubSubNotifier publishes outcomes to every subscribed server instance
type PubSubNotifier struct {
	rdb redis.UniversalClient
}

func NewPubSubNotifier(rdb redis.UniversalClient) *PubSubNotifier {
	return &PubSubNotifier{rdb: rdb}
}

func (n *PubSubNotifier) Notify(ctx context.Context, outcome *model.OutcomePayload) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := n.rdb.Publish(ctx, OutcomeChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}
	return nil
}
