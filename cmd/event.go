package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test payment events to the bus and, when enabled, Kafka`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test payment event (payment.initiated, payment.completed or payment.failed) for debugging consumers`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(cmd.Context(), args[0])
	},
}

var (
	eventOrderID    int64
	eventCheckoutID string
	eventAmount     string
)

func buildTestEvent(eventType string) (events.Event, error) {
	txID := uuid.NewString()
	switch eventType {
	case events.EventTypePaymentInitiated:
		return events.NewPaymentInitiatedEvent(txID, eventOrderID, eventCheckoutID, eventAmount), nil
	case events.EventTypePaymentCompleted:
		return events.NewPaymentCompletedEvent(txID, eventOrderID, eventCheckoutID, eventAmount, "TEST"+txID[:6], "cli"), nil
	case events.EventTypePaymentFailed:
		return events.NewPaymentFailedEvent(txID, eventOrderID, eventCheckoutID, 1032, "Request cancelled by user", "cli"), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}

func publishTestEvent(ctx context.Context, eventType string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig(".")
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	event, err := buildTestEvent(eventType)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus(lg)
	eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	if config.Kafka.Enabled {
		writer := events.NewKafkaWriter(splitBrokers(config.Kafka.Brokers), config.Kafka.Topic)
		defer writer.Close()
		events.NewKafkaForwarder(writer, lg).Register(eventBus, eventType)
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.PublishSync(ctx, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().Int64Var(&eventOrderID, "order-id", 1, "Order id carried by the event")
	publishEventCmd.Flags().StringVar(&eventCheckoutID, "checkout-request-id", "ws_CO_TEST", "Checkout request id carried by the event")
	publishEventCmd.Flags().StringVar(&eventAmount, "amount", "1.00", "Amount carried by the event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}

