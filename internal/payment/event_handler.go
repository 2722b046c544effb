package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mazuri-stores/mazuri-api/internal/core/events"
)

// EventHandler consumes payment events from the payments topic.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandleEnvelope(_ context.Context, env events.Envelope) error {
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("event %s: unexpected payload type %T", env.ID, env.Data)
	}

	switch env.Type {
	case events.EventTypePaymentInitiated:
		h.logger.Info("payment initiated",
			"event_id", env.ID,
			"transaction_id", data["transaction_id"],
			"order_id", data["order_id"],
			"checkout_request_id", data["checkout_request_id"])
	case events.EventTypePaymentCompleted:
		h.logger.Info("payment completed",
			"event_id", env.ID,
			"transaction_id", data["transaction_id"],
			"order_id", data["order_id"],
			"amount", data["amount"],
			"mpesa_receipt_number", data["mpesa_receipt_number"],
			"source", data["source"])
	case events.EventTypePaymentFailed:
		h.logger.Warn("payment failed",
			"event_id", env.ID,
			"transaction_id", data["transaction_id"],
			"order_id", data["order_id"],
			"result_code", data["result_code"],
			"failure_reason", data["failure_reason"],
			"source", data["source"])
	default:
		h.logger.Debug("ignoring event", "event_id", env.ID, "event_type", env.Type)
	}

	return nil
}
