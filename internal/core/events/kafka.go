package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Envelope is the wire form of an event on the payments topic.
type Envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt string      `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// KafkaForwarder copies bus events onto a Kafka topic.
type KafkaForwarder struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaForwarder(writer MessageWriter, logger *slog.Logger) *KafkaForwarder {
	return &KafkaForwarder{writer: writer, logger: logger}
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Register subscribes the forwarder to the given event types.
func (f *KafkaForwarder) Register(bus *EventBus, eventTypes ...string) {
	bus.SubscribeAll(f.Handle, eventTypes...)
}

func (f *KafkaForwarder) Handle(ctx context.Context, event Event) error {
	msg, err := EncodeMessage(event)
	if err != nil {
		return err
	}

	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("forward %s to kafka: %w", event.EventType(), err)
	}

	f.logger.Debug("event forwarded to kafka",
		"event_type", event.EventType(),
		"event_id", event.EventID())
	return nil
}

func EncodeMessage(event Event) (kafka.Message, error) {
	body, err := json.Marshal(Envelope{
		ID:         event.EventID(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt().Format("2006-01-02T15:04:05.000Z07:00"),
		Data:       event.Payload(),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", event.EventID(), err)
	}

	key := event.EventID()
	if keyed, ok := event.(Keyed); ok && keyed.PartitionKey() != "" {
		key = keyed.PartitionKey()
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}, nil
}

func DecodeMessage(msg kafka.Message) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event at offset %d: %w", msg.Offset, err)
	}
	return env, nil
}
