package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence"
)

// Delivery is what a stage or a batch asks the Courier to send.
type Delivery struct {
	Node           models.StageNode
	Content        models.Content
	ProspectIDs    []string
	IdempotencyKey string
	GroupID        string
	Context        map[string]any
}

// Courier loads recipients and calls the Sender. The direct and batched send paths
// both go through it, so they count accepted and rejected recipients the same way.
type Courier struct {
	sender    Sender
	prospects persistence.ProspectRepository
	metrics   *metrics.Collector
	logger    *slog.Logger
}

func NewCourier(sender Sender, prospects persistence.ProspectRepository, collector *metrics.Collector, logger *slog.Logger) *Courier {
	return &Courier{
		sender:    sender,
		prospects: prospects,
		metrics:   collector,
		logger:    logger.With("module", "courier"),
	}
}

// Deliver sends to every reachable prospect. Unknown prospects and prospects with no
// address on the channel are counted as rejected without reaching the Sender.
func (c *Courier) Deliver(ctx context.Context, delivery Delivery) (*SendResult, error) {
	prospects, err := c.prospects.ProspectsByIDs(ctx, delivery.ProspectIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}

	recipients := make([]*models.Prospect, 0, len(prospects))
	for _, prospect := range prospects {
		if Reachable(delivery.Node.Channel, prospect) {
			recipients = append(recipients, prospect)
		}
	}

	unreachable := len(delivery.ProspectIDs) - len(recipients)
	if unreachable > 0 {
		c.logger.DebugContext(ctx, "skipping unreachable recipients",
			"node_id", delivery.Node.ID, "channel", delivery.Node.Channel, "count", unreachable)
	}

	if len(recipients) == 0 {
		messageID := delivery.GroupID
		if messageID == "" {
			messageID = MessageID(delivery.IdempotencyKey)
		}

		return &SendResult{MessageID: messageID, Rejected: unreachable}, nil
	}

	result, err := c.sender.Send(ctx, SendRequest{
		Channel:        delivery.Node.Channel,
		Recipients:     recipients,
		Content:        delivery.Content,
		Context:        delivery.Context,
		IdempotencyKey: delivery.IdempotencyKey,
		GroupID:        delivery.GroupID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send %s message: %w", delivery.Node.Channel, err)
	}

	result.Rejected += unreachable
	c.metrics.RecordMessages(string(delivery.Node.Channel), result.Accepted, result.Rejected)

	return result, nil
}
