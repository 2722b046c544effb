package payment

import (
	"context"
	"fmt"
	"time"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
)

// Sources of a terminal outcome, used for events and metrics.
const (
	SourceCallback = "callback"
	SourceTimeout  = "timeout"
	SourcePoll     = "poll"
)

const (
	CallbackAckSuccess = "Callback processed successfully"
	CallbackAckFailure = "Callback processing failed"
	TimeoutAckSuccess  = "Timeout processed successfully"

	TimeoutResultDesc = "Transaction timeout"
)

type GatewayAPI interface {
	InitiatePush(ctx context.Context, req paymentgateway.PushRequest) (*paymentgateway.PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*paymentgateway.QueryResult, error)
}

type LedgerAPI interface {
	Create(ctx context.Context, params transaction.CreateParams) (*transaction.Transaction, error)
	AttachGatewayCorrelation(ctx context.Context, tx *transaction.Transaction, c transaction.Correlation) (*transaction.Transaction, error)
	FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*transaction.Transaction, error)
	ApplyTerminalOutcome(ctx context.Context, tx *transaction.Transaction, outcome transaction.Outcome) (*transaction.Transaction, bool, error)
}

type OrderServiceAPI interface {
	GetOrderForUser(ctx context.Context, id, userID int64) (*order.Order, error)
	ConfirmPayment(ctx context.Context, id int64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type MetricsRecorder interface {
	CallbackReceived(kind, result string)
	TransitionApplied(status, source string)
}

type noopMetrics struct{}

func (noopMetrics) CallbackReceived(string, string)  {}
func (noopMetrics) TransitionApplied(string, string) {}

// CallbackShapeError is returned for webhook bodies missing required fields.
type CallbackShapeError struct {
	Reason string
	Err    error
}

func (e *CallbackShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid callback: %s: %v", e.Reason, e.Err)
	}
	return "invalid callback: " + e.Reason
}

func (e *CallbackShapeError) Unwrap() error {
	return e.Err
}

func (e *CallbackShapeError) ToAppError() *errs.AppError {
	return errs.NewValidationError("Invalid callback payload: "+e.Reason, errs.ErrCodeInvalidCallback).WithCause(e)
}

// PaymentStatusUnavailableError means the provider could not be asked right now.
// The transaction is left pending.
type PaymentStatusUnavailableError struct {
	CheckoutRequestID string
	Err               error
}

func (e *PaymentStatusUnavailableError) Error() string {
	return fmt.Sprintf("payment status unavailable for %s: %v", e.CheckoutRequestID, e.Err)
}

func (e *PaymentStatusUnavailableError) Unwrap() error {
	return e.Err
}

func (e *PaymentStatusUnavailableError) ToAppError() *errs.AppError {
	return errs.NewUnavailableError("Payment status is temporarily unavailable, retry later", errs.ErrCodePaymentStatusUnavailable, e)
}

// StatusView is the caller-facing state of a transaction.
type StatusView struct {
	TransactionID      string
	CheckoutRequestID  string
	Status             transaction.Status
	ResultCode         *int
	ResultDesc         string
	MpesaReceiptNumber string
	ProcessedAt        *time.Time
}

func NewStatusView(tx *transaction.Transaction) StatusView {
	view := StatusView{
		TransactionID:     tx.TransactionID,
		CheckoutRequestID: tx.CheckoutRequestID(),
		Status:            tx.Status,
	}
	if tx.Outcome != nil {
		code := tx.Outcome.ResultCode
		view.ResultCode = &code
		view.ResultDesc = tx.Outcome.ResultDesc
		view.MpesaReceiptNumber = tx.Outcome.MpesaReceiptNumber
		view.ProcessedAt = tx.Outcome.ProcessedAt
	}
	return view
}
