package payment_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	gatewayDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	"github.com/mazuri-stores/mazuri-api/internal/payment"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
)

func asUser(id int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(errs.ContextWithUser(r.Context(), &errs.User{ID: id})))
		})
	}
}

var _ = Describe("Payment HTTP handlers", func() {
	var (
		h       *harness
		router  chi.Router
		orderID int64
	)

	BeforeEach(func() {
		h = newHarness()
		orderID = h.seedOrder("MZR-0001", customerID, 2500).ID

		base := transport.NewBaseHandler(h.logger)
		handler := payment.NewHandler(base, h.service)
		webhooks := payment.NewWebhookHandler(base, h.reconciler)

		router = chi.NewRouter()
		router.Post("/payments/mpesa/callback", webhooks.Callback)
		router.Post("/payments/mpesa/timeout", webhooks.Timeout)
		router.Group(func(r chi.Router) {
			r.Use(asUser(customerID))
			r.Post("/payments/mpesa/initiate", handler.Initiate)
			r.Get("/payments/mpesa/status/{checkoutRequestId}", handler.Status)
		})
		router.Get("/anonymous/status/{checkoutRequestId}", handler.Status)
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeAck := func(rec *httptest.ResponseRecorder) gatewayDatamodel.Ack {
		var ack gatewayDatamodel.Ack
		Expect(json.Unmarshal(rec.Body.Bytes(), &ack)).To(Succeed())
		return ack
	}

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Error.Code
	}

	initiateBody := func(amount string) string {
		return `{"orderId":` + jsonInt(orderID) + `,"phoneNumber":"0712345678","amount":` + amount + `}`
	}

	Describe("POST /payments/mpesa/initiate", func() {
		It("returns the correlation identifiers", func() {
			rec := do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500"))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKeyWithValue("checkoutRequestId", "ws_CO_1"))
			Expect(resp).To(HaveKeyWithValue("merchantRequestId", "29115-34620561-1"))
			Expect(resp).To(HaveKey("transactionId"))
			Expect(resp).To(HaveKey("customerMessage"))
		})

		It("maps an amount mismatch to 400", func() {
			rec := do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2600"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(errorCode(rec)).To(Equal(string(errs.ErrCodeAmountMismatch)))
		})

		It("maps an already paid order to 409", func() {
			Expect(h.orders.ConfirmPayment(h.ctx, orderID)).To(Succeed())
			rec := do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500"))
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(errorCode(rec)).To(Equal(string(errs.ErrCodeOrderAlreadyPaid)))
		})

		It("maps gateway failures to 502", func() {
			h.gateway.pushErr = &paymentgateway.GatewayAuthError{StatusCode: 400, Message: "Bad Request"}
			rec := do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500"))
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(errorCode(rec)).To(Equal(string(errs.ErrCodeGatewayAuthFailed)))
		})

		It("rejects malformed bodies", func() {
			rec := do(http.MethodPost, "/payments/mpesa/initiate", `{"orderId":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /payments/mpesa/status/{checkoutRequestId}", func() {
		BeforeEach(func() {
			Expect(do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500")).Code).To(Equal(http.StatusOK))
		})

		It("returns the pending state while the provider is processing", func() {
			h.gateway.queryErr = &paymentgateway.GatewayRequestError{Op: paymentgateway.OpQuery, Err: paymentgateway.ErrRequestInProcess}

			rec := do(http.MethodGet, "/payments/mpesa/status/ws_CO_1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp payment.StatusResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Status).To(Equal(string(transaction.StatusPending)))
			Expect(resp.ResultCode).To(BeNil())
		})

		It("returns 503 when the provider cannot be reached", func() {
			h.gateway.queryErr = &paymentgateway.GatewayRequestError{Op: paymentgateway.OpQuery, StatusCode: 500}

			rec := do(http.MethodGet, "/payments/mpesa/status/ws_CO_1", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(errorCode(rec)).To(Equal(string(errs.ErrCodePaymentStatusUnavailable)))
			Expect(h.transaction("ws_CO_1").Status).To(Equal(transaction.StatusPending))
		})

		It("returns 404 for unknown checkout requests", func() {
			rec := do(http.MethodGet, "/payments/mpesa/status/ws_CO_nope", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(errorCode(rec)).To(Equal(string(errs.ErrCodeTransactionNotFound)))
		})

		It("requires an authenticated caller", func() {
			rec := do(http.MethodGet, "/anonymous/status/ws_CO_1", "")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("POST /payments/mpesa/callback", func() {
		BeforeEach(func() {
			Expect(do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500")).Code).To(Equal(http.StatusOK))
		})

		It("acknowledges a successful payment", func() {
			rec := do(http.MethodPost, "/payments/mpesa/callback", successCallback)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec)).To(Equal(gatewayDatamodel.Ack{ResultCode: 0, ResultDesc: "Callback processed successfully"}))

			tx := h.transaction("ws_CO_1")
			Expect(tx.Status).To(Equal(transaction.StatusCompleted))
			Expect(tx.Outcome.MpesaReceiptNumber).To(Equal("NLJ7RT61SV"))

			o := h.order(orderID)
			Expect(o.PaymentStatus).To(Equal(order.PaymentStatusPaid))
			Expect(o.Status).To(Equal(order.StatusConfirmed))
		})

		It("acknowledges a cancelled payment", func() {
			rec := do(http.MethodPost, "/payments/mpesa/callback", cancelledCallback)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec).ResultCode).To(Equal(0))

			Expect(h.transaction("ws_CO_1").Status).To(Equal(transaction.StatusFailed))
			Expect(h.order(orderID).PaymentStatus).To(Equal(order.PaymentStatusPending))
		})

		It("acknowledges callbacks for unknown checkout requests", func() {
			rec := do(http.MethodPost, "/payments/mpesa/callback", strings.Replace(successCallback, "ws_CO_1", "ws_CO_unknown", 1))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec).ResultCode).To(Equal(0))
		})

		It("rejects malformed callbacks with ResultCode 1", func() {
			rec := do(http.MethodPost, "/payments/mpesa/callback", `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			ack := decodeAck(rec)
			Expect(ack.ResultCode).To(Equal(1))
			Expect(ack.ResultDesc).To(ContainSubstring("MerchantRequestID"))
			Expect(h.transaction("ws_CO_1").Status).To(Equal(transaction.StatusPending))
		})

		It("rejects oversized bodies", func() {
			rec := do(http.MethodPost, "/payments/mpesa/callback", `{"pad":"`+strings.Repeat("x", 2<<20)+`"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec).ResultCode).To(Equal(1))
		})
	})

	Describe("POST /payments/mpesa/timeout", func() {
		It("fails the pending transaction", func() {
			Expect(do(http.MethodPost, "/payments/mpesa/initiate", initiateBody("2500")).Code).To(Equal(http.StatusOK))

			rec := do(http.MethodPost, "/payments/mpesa/timeout", `{"CheckoutRequestID":"ws_CO_1"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec)).To(Equal(gatewayDatamodel.Ack{ResultCode: 0, ResultDesc: payment.TimeoutAckSuccess}))

			tx := h.transaction("ws_CO_1")
			Expect(tx.Status).To(Equal(transaction.StatusFailed))
			Expect(tx.Outcome.ResultDesc).To(Equal("Transaction timeout"))
		})

		It("rejects a timeout without a checkout id with ResultCode 1", func() {
			rec := do(http.MethodPost, "/payments/mpesa/timeout", `{"MerchantRequestID":"29115-34620561-1"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decodeAck(rec).ResultCode).To(Equal(1))
		})
	})
})
