package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	gatewayDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
)

// Callback metadata item names.
const (
	itemAmount             = "Amount"
	itemMpesaReceiptNumber = "MpesaReceiptNumber"
	itemTransactionDate    = "TransactionDate"
	itemPhoneNumber        = "PhoneNumber"
)

// Callback handling results reported to metrics.
const (
	resultProcessed = "processed"
	resultRejected  = "rejected"
	resultUnmatched = "unmatched"
	resultDuplicate = "duplicate"
	resultError     = "error"
)

type StatusQuerier interface {
	QueryStatus(ctx context.Context, checkoutRequestID string) (*paymentgateway.QueryResult, error)
}

type OrderConfirmer interface {
	ConfirmPayment(ctx context.Context, id int64) error
}

// Reconciler turns provider signals (callbacks, timeouts, status queries) into
// ledger outcomes and order updates.
type Reconciler struct {
	ledger    LedgerAPI
	orders    OrderConfirmer
	gateway   StatusQuerier
	publisher EventPublisher
	metrics   MetricsRecorder
	logger    *slog.Logger
}

func NewReconciler(ledger LedgerAPI, orders OrderConfirmer, gateway StatusQuerier, publisher EventPublisher, metrics MetricsRecorder, logger *slog.Logger) *Reconciler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Reconciler{
		ledger:    ledger,
		orders:    orders,
		gateway:   gateway,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// ParseCallback decodes an STK callback and checks the fields reconciliation relies on.
func ParseCallback(body []byte) (*gatewayDatamodel.STKCallback, error) {
	var envelope gatewayDatamodel.CallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &CallbackShapeError{Reason: "malformed JSON", Err: err}
	}

	switch {
	case envelope.Body == nil:
		return nil, &CallbackShapeError{Reason: "missing Body"}
	case envelope.Body.STKCallback == nil:
		return nil, &CallbackShapeError{Reason: "missing Body.stkCallback"}
	}

	cb := envelope.Body.STKCallback
	switch {
	case cb.MerchantRequestID == "":
		return nil, &CallbackShapeError{Reason: "missing MerchantRequestID"}
	case cb.CheckoutRequestID == "":
		return nil, &CallbackShapeError{Reason: "missing CheckoutRequestID"}
	case cb.ResultCode == nil:
		return nil, &CallbackShapeError{Reason: "missing ResultCode"}
	}

	return cb, nil
}

// ProcessCallback applies an STK callback. Callbacks for unknown checkout
// requests are logged and treated as handled so the provider stops retrying.
func (r *Reconciler) ProcessCallback(ctx context.Context, body []byte) error {
	cb, err := ParseCallback(body)
	if err != nil {
		r.logger.Warn("rejected mpesa callback", "error", err)
		r.metrics.CallbackReceived(SourceCallback, resultRejected)
		return err
	}

	log := r.logger.With(
		"checkout_request_id", cb.CheckoutRequestID,
		"merchant_request_id", cb.MerchantRequestID,
		"result_code", cb.ResultCode.Int())
	log.Info("received mpesa callback", "result_desc", cb.ResultDesc)

	tx, err := r.ledger.FindByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if transaction.IsNotFound(err) {
			log.Error("callback for unknown checkout request")
			r.metrics.CallbackReceived(SourceCallback, resultUnmatched)
			return nil
		}
		r.metrics.CallbackReceived(SourceCallback, resultError)
		return err
	}

	outcome := transaction.Outcome{
		ResultCode: cb.ResultCode.Int(),
		ResultDesc: cb.ResultDesc,
		Raw:        json.RawMessage(body),
	}
	outcome.MpesaReceiptNumber, _ = cb.CallbackMetadata.Lookup(itemMpesaReceiptNumber)
	outcome.TransactionDate, _ = cb.CallbackMetadata.Lookup(itemTransactionDate)
	if phone, ok := cb.CallbackMetadata.Lookup(itemPhoneNumber); ok {
		outcome.PhoneNumber = paymentgateway.NormalizePhoneNumber(phone)
	}

	if paid, ok := cb.CallbackMetadata.Lookup(itemAmount); ok && cb.ResultCode.IsSuccess() {
		if amount, err := decimal.NewFromString(paid); err != nil || !amount.Equal(tx.Amount.Round(0)) {
			log.Warn("callback amount differs from transaction amount",
				"callback_amount", paid,
				"transaction_amount", tx.Amount.StringFixed(2))
		}
	}

	_, applied, err := r.settle(ctx, tx, outcome, SourceCallback)
	if err != nil {
		r.metrics.CallbackReceived(SourceCallback, resultError)
		return err
	}

	if applied {
		r.metrics.CallbackReceived(SourceCallback, resultProcessed)
	} else {
		r.metrics.CallbackReceived(SourceCallback, resultDuplicate)
	}
	return nil
}

type timeoutBody struct {
	gatewayDatamodel.TimeoutNotification
	Body *gatewayDatamodel.CallbackBody `json:"Body"`
}

// ParseTimeout accepts either a flat {CheckoutRequestID} body or the callback envelope.
func ParseTimeout(body []byte) (string, error) {
	var tb timeoutBody
	if err := json.Unmarshal(body, &tb); err != nil {
		return "", &CallbackShapeError{Reason: "malformed JSON", Err: err}
	}
	if tb.CheckoutRequestID != "" {
		return tb.CheckoutRequestID, nil
	}
	if tb.Body != nil && tb.Body.STKCallback != nil && tb.Body.STKCallback.CheckoutRequestID != "" {
		return tb.Body.STKCallback.CheckoutRequestID, nil
	}
	return "", &CallbackShapeError{Reason: "missing CheckoutRequestID"}
}

// ProcessTimeout fails a transaction the provider gave up on. Terminal
// transactions are left alone.
func (r *Reconciler) ProcessTimeout(ctx context.Context, body []byte) error {
	checkoutRequestID, err := ParseTimeout(body)
	if err != nil {
		r.logger.Warn("rejected mpesa timeout notification", "error", err)
		r.metrics.CallbackReceived(SourceTimeout, resultRejected)
		return err
	}

	log := r.logger.With("checkout_request_id", checkoutRequestID)

	tx, err := r.ledger.FindByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if transaction.IsNotFound(err) {
			log.Error("timeout for unknown checkout request")
			r.metrics.CallbackReceived(SourceTimeout, resultUnmatched)
			return nil
		}
		r.metrics.CallbackReceived(SourceTimeout, resultError)
		return err
	}

	if tx.IsTerminal() {
		log.Info("timeout ignored, transaction already terminal", "status", tx.Status)
		r.metrics.CallbackReceived(SourceTimeout, resultDuplicate)
		return nil
	}

	_, applied, err := r.settle(ctx, tx, transaction.Outcome{
		ResultCode: gatewayDatamodel.ResultCodeUnreachable,
		ResultDesc: TimeoutResultDesc,
		Raw:        json.RawMessage(body),
	}, SourceTimeout)
	if err != nil {
		r.metrics.CallbackReceived(SourceTimeout, resultError)
		return err
	}

	if applied {
		log.Info("transaction timed out")
		r.metrics.CallbackReceived(SourceTimeout, resultProcessed)
	} else {
		r.metrics.CallbackReceived(SourceTimeout, resultDuplicate)
	}
	return nil
}

// Poll resolves a pending transaction by asking the provider. Terminal
// transactions are returned as stored. A provider that cannot answer yields
// PaymentStatusUnavailableError and leaves the transaction pending.
func (r *Reconciler) Poll(ctx context.Context, tx *transaction.Transaction) (*transaction.Transaction, error) {
	if tx.IsTerminal() {
		return tx, nil
	}

	checkoutRequestID := tx.CheckoutRequestID()
	if checkoutRequestID == "" {
		return tx, nil
	}

	result, err := r.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, paymentgateway.ErrRequestInProcess) {
			return tx, nil
		}
		r.logger.Warn("payment status query failed",
			"error", err,
			"checkout_request_id", checkoutRequestID,
			"transaction_id", tx.TransactionID)
		return nil, &PaymentStatusUnavailableError{CheckoutRequestID: checkoutRequestID, Err: err}
	}

	updated, _, err := r.settle(ctx, tx, transaction.Outcome{
		ResultCode: result.ResultCode.Int(),
		ResultDesc: result.ResultDesc,
	}, SourcePoll)
	return updated, err
}

func (r *Reconciler) PollByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error) {
	tx, err := r.ledger.FindByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	return r.Poll(ctx, tx)
}

// settle stores the outcome and, for a completed transaction, confirms the
// order. Confirmation also runs when the outcome was already stored.
func (r *Reconciler) settle(ctx context.Context, tx *transaction.Transaction, outcome transaction.Outcome, source string) (*transaction.Transaction, bool, error) {
	updated, applied, err := r.ledger.ApplyTerminalOutcome(ctx, tx, outcome)
	if err != nil {
		return nil, false, err
	}

	// the ledger outcome is durable at this point; a failed order update heals on redelivery
	if applied {
		r.metrics.TransitionApplied(string(updated.Status), source)
		r.publish(ctx, updated, source)
	}

	if updated.Status == transaction.StatusCompleted {
		if err := r.orders.ConfirmPayment(ctx, updated.OrderID); err != nil {
			r.logger.Error("failed to confirm order payment",
				"error", err,
				"order_id", updated.OrderID,
				"transaction_id", updated.TransactionID)
			return nil, applied, err
		}
	}

	return updated, applied, nil
}

func (r *Reconciler) publish(ctx context.Context, tx *transaction.Transaction, source string) {
	if r.publisher == nil {
		return
	}

	var event events.Event
	switch tx.Status {
	case transaction.StatusCompleted:
		event = events.NewPaymentCompletedEvent(tx.TransactionID, tx.OrderID, tx.CheckoutRequestID(),
			tx.Amount.StringFixed(2), tx.Outcome.MpesaReceiptNumber, source)
	case transaction.StatusFailed:
		event = events.NewPaymentFailedEvent(tx.TransactionID, tx.OrderID, tx.CheckoutRequestID(),
			tx.Outcome.ResultCode, tx.Outcome.ResultDesc, source)
	default:
		return
	}

	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "event_type", event.EventType(), "transaction_id", tx.TransactionID)
	}
}
