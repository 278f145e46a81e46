package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/template"
)

var messageNamespace = uuid.MustParse("1c0f1a52-8d4e-4b7e-9a55-0e5f3c6f2b10")

// EventBusSender personalizes content per recipient and publishes one
// SendRequested event each. Transport providers consume them from the bus.
type EventBusSender struct {
	bus    eventbus.EventPublisher
	ids    func() string
	logger *slog.Logger
}

func NewEventBusSender(bus eventbus.EventBus, logger *slog.Logger) *EventBusSender {
	return &EventBusSender{bus: bus, ids: bus.GenerateID, logger: logger.With("module", "eventbus_sender")}
}

// MessageID derives the message id from an idempotency key, so a redelivered unit
// reports the same id.
func MessageID(idempotencyKey string) string {
	return uuid.NewSHA1(messageNamespace, []byte(idempotencyKey)).String()
}

func (s *EventBusSender) Send(ctx context.Context, request SendRequest) (*SendResult, error) {
	compiled, err := template.Compile(request.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to compile content: %w", err)
	}

	result := &SendResult{MessageID: request.GroupID}
	if result.MessageID == "" {
		result.MessageID = MessageID(request.IdempotencyKey)
	}

	for _, prospect := range request.Recipients {
		content, err := compiled.Render(template.NewRecipient(prospect, request.Context))
		if err != nil {
			s.logger.WarnContext(ctx, "failed to personalize message", "prospect_id", prospect.ID, "error", err)

			result.Rejected++

			continue
		}

		event := events.SendRequested{
			BaseEvent:      events.NewBaseEvent(s.ids(), events.SendRequestedEvent, ""),
			MessageID:      result.MessageID,
			IdempotencyKey: request.IdempotencyKey + ":" + prospect.ID,
			Channel:        request.Channel,
			ProspectID:     prospect.ID,
			Address:        Address(request.Channel, prospect),
			Subject:        content.Subject,
			Body:           content.Body,
			IsHTML:         content.IsHTML,
			Context:        request.Context,
		}

		if execID, ok := request.Context["execution_id"].(string); ok {
			event.ExecutionID = execID
		}

		if err := s.bus.Publish(ctx, prospect.ID, event); err != nil {
			return nil, fmt.Errorf("failed to publish send request: %w", err)
		}

		result.Accepted++
	}

	return result, nil
}
