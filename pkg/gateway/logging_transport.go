package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outflow/outflow/pkg/events"
)

// LoggingTransport consumes SendRequested events and only logs them. Workers use it
// when no real provider is attached.
type LoggingTransport struct {
	logger *slog.Logger
}

func NewLoggingTransport(logger *slog.Logger) *LoggingTransport {
	return &LoggingTransport{logger: logger.With("module", "logging_transport")}
}

func (t *LoggingTransport) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.SendRequested)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	t.logger.InfoContext(ctx, "message send requested",
		"message_id", request.MessageID,
		"idempotency_key", request.IdempotencyKey,
		"channel", request.Channel,
		"prospect_id", request.ProspectID,
		"execution_id", request.ExecutionID,
	)

	return nil
}
