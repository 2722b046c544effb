package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/segmentio/kafka-go"

	"github.com/mazuri-stores/mazuri-api/internal/core/events"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

var _ = Describe("EventBus", func() {
	var bus *events.EventBus

	BeforeEach(func() {
		bus = events.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("delivers async events to every subscriber", func() {
		var calls int32
		handler := func(context.Context, events.Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}
		bus.Subscribe(events.EventTypePaymentCompleted, handler)
		bus.Subscribe(events.EventTypePaymentCompleted, handler)

		Expect(bus.Publish(context.Background(), events.NewPaymentCompletedEvent("tx-1", 1, "ws_CO_1", "2500.00", "NLJ7RT61SV", "callback"))).To(Succeed())
		Expect(bus.Wait(context.Background())).To(Succeed())
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(2)))
	})

	It("keeps async handlers alive after the publisher's context is cancelled", func() {
		done := make(chan error, 1)
		bus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, _ events.Event) error {
			time.Sleep(10 * time.Millisecond)
			done <- ctx.Err()
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		Expect(bus.Publish(ctx, events.NewPaymentFailedEvent("tx-1", 1, "ws_CO_1", 1032, "cancelled", "callback"))).To(Succeed())
		cancel()

		Eventually(done).Should(Receive(BeNil()))
	})

	It("returns the first handler error from PublishSync", func() {
		bus.Subscribe(events.EventTypePaymentFailed, func(context.Context, events.Event) error {
			return errors.New("boom")
		})
		err := bus.PublishSync(context.Background(), events.NewPaymentFailedEvent("tx-1", 1, "ws_CO_1", 1, "insufficient funds", "poll"))
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})

	It("ignores events without subscribers", func() {
		Expect(bus.PublishSync(context.Background(), events.NewPaymentInitiatedEvent("tx-1", 1, "ws_CO_1", "10.00"))).To(Succeed())
	})
})

var _ = Describe("KafkaForwarder", func() {
	var (
		bus    *events.EventBus
		writer *recordingWriter
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		bus = events.NewEventBus(logger)
		writer = &recordingWriter{}
		events.NewKafkaForwarder(writer, logger).Register(bus, events.PaymentEventTypes...)
	})

	It("writes payment events keyed by transaction", func() {
		event := events.NewPaymentCompletedEvent("tx-1", 42, "ws_CO_1", "2500.00", "NLJ7RT61SV", "callback")
		Expect(bus.PublishSync(context.Background(), event)).To(Succeed())

		msgs := writer.messages()
		Expect(msgs).To(HaveLen(1))
		Expect(string(msgs[0].Key)).To(Equal("tx-1"))
		Expect(msgs[0].Headers).To(ContainElement(kafka.Header{Key: "event_type", Value: []byte(events.EventTypePaymentCompleted)}))

		env, err := events.DecodeMessage(msgs[0])
		Expect(err).NotTo(HaveOccurred())
		Expect(env.ID).To(Equal(event.EventID()))
		Expect(env.Type).To(Equal(events.EventTypePaymentCompleted))
		Expect(env.Data).To(HaveKeyWithValue("mpesa_receipt_number", "NLJ7RT61SV"))
	})

	It("surfaces writer failures", func() {
		writer.err = errors.New("broker unavailable")
		err := bus.PublishSync(context.Background(), events.NewPaymentFailedEvent("tx-1", 1, "ws_CO_1", 1032, "cancelled", "callback"))
		Expect(err).To(MatchError(ContainSubstring("broker unavailable")))
	})
})
