package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	gatewayDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
)

const maxWebhookBodyBytes = 1 << 20

type CallbackProcessor interface {
	ProcessCallback(ctx context.Context, body []byte) error
	ProcessTimeout(ctx context.Context, body []byte) error
}

// WebhookHandler receives provider callbacks. Responses always use the
// provider's {ResultCode, ResultDesc} envelope.
type WebhookHandler struct {
	*transport.BaseHandler
	processor CallbackProcessor
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, processor CallbackProcessor) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		processor:   processor,
	}
}

// Callback handles POST /api/v1/payments/mpesa/callback
func (h *WebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.processor.ProcessCallback, CallbackAckSuccess)
}

// Timeout handles POST /api/v1/payments/mpesa/timeout
func (h *WebhookHandler) Timeout(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.processor.ProcessTimeout, TimeoutAckSuccess)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, process func(context.Context, []byte) error, successDesc string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.Logger.Warn("failed to read webhook body", "error", err, "path", r.URL.Path)
		h.writeAck(w, http.StatusOK, 1, "Invalid callback payload")
		return
	}

	if err := process(r.Context(), body); err != nil {
		var shapeErr *CallbackShapeError
		if errors.As(err, &shapeErr) {
			// a redelivery of the same body can never parse, so reject with 2xx
			h.Logger.Warn("rejected malformed webhook", "reason", shapeErr.Reason, "path", r.URL.Path)
			h.writeAck(w, http.StatusOK, 1, "Invalid callback payload: "+shapeErr.Reason)
			return
		}
		h.Logger.Error("failed to process webhook", "error", err, "path", r.URL.Path)
		h.writeAck(w, http.StatusInternalServerError, 1, CallbackAckFailure)
		return
	}

	h.writeAck(w, http.StatusOK, 0, successDesc)
}

func (h *WebhookHandler) writeAck(w http.ResponseWriter, status, code int, desc string) {
	h.WriteJSON(w, status, gatewayDatamodel.Ack{ResultCode: code, ResultDesc: desc})
}
