package telemetry_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/telemetry"
)

var _ = Describe("Metrics", func() {
	It("exposes recorded payment metrics", func() {
		reg := prometheus.NewRegistry()
		m := telemetry.NewMetrics(reg)

		m.ObserveGatewayCall("stkpush", "success", 150*time.Millisecond)
		m.CallbackReceived("callback", "processed")
		m.TransitionApplied("completed", "callback")
		m.SweepPolled("pending")

		rec := httptest.NewRecorder()
		telemetry.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		body, err := io.ReadAll(rec.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`mazuri_mpesa_gateway_calls_total{op="stkpush",outcome="success"} 1`))
		Expect(string(body)).To(ContainSubstring(`mazuri_mpesa_callbacks_total{kind="callback",result="processed"} 1`))
		Expect(string(body)).To(ContainSubstring(`mazuri_payments_transitions_total{source="callback",status="completed"} 1`))
		Expect(string(body)).To(ContainSubstring(`mazuri_reconcile_polls_total{result="pending"} 1`))
	})

	It("tolerates a nil receiver", func() {
		var m *telemetry.Metrics
		Expect(func() {
			m.ObserveGatewayCall("token", "error", time.Second)
			m.TransitionApplied("failed", "poll")
		}).NotTo(Panic())
	})
})

var _ = Describe("Tracing", func() {
	It("is a no-op when disabled", func() {
		shutdown, err := telemetry.InitTracing(context.Background(), internal.TracingConfig{Enabled: false}, "test")
		Expect(err).NotTo(HaveOccurred())
		Expect(shutdown(context.Background())).To(Succeed())
	})

	It("passes requests through the middleware", func() {
		handler := telemetry.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", nil))
		Expect(rec.Code).To(Equal(http.StatusAccepted))
	})
})
