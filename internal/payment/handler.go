package payment

import (
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
	}
}

// Initiate handles POST /api/v1/payments/mpesa/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	user, ok := errors.UserFromContext(r.Context())
	if !ok {
		h.Logger.Error("Initiate: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req InitiateRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.Logger.Error("Initiate: failed to parse request body", "error", appErr)
		h.HandleError(w, appErr)
		return
	}

	resp, err := h.PaymentService.InitiatePayment(r.Context(), user.ID, req)
	if err != nil {
		h.Logger.Error("Initiate: service error", "error", err, "order_id", req.OrderID, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/v1/payments/mpesa/status/{checkoutRequestId}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := errors.UserFromContext(r.Context())
	if !ok {
		h.Logger.Error("Status: user not found in context")
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	checkoutRequestID := chi.URLParam(r, "checkoutRequestId")
	if checkoutRequestID == "" {
		h.HandleError(w, errors.NewValidationFieldError("checkoutRequestId", "checkoutRequestId is required", errors.ErrCodeValidationFailed))
		return
	}

	view, err := h.PaymentService.CheckStatus(r.Context(), user.ID, checkoutRequestID)
	if err != nil {
		h.Logger.Error("Status: service error", "error", err, "checkout_request_id", checkoutRequestID, "user_id", user.ID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view.ToResponse())
}
