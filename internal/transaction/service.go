package transaction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	txDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/order"
)

// AmountTolerance is the largest accepted difference between a requested amount and the order total.
var AmountTolerance = decimal.RequireFromString("0.01")

type RepositoryAPI interface {
	Create(ctx context.Context, tx *txDatamodel.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*txDatamodel.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*txDatamodel.Transaction, error)
	// AttachCorrelation sets the gateway identifiers only if none are set yet.
	AttachCorrelation(ctx context.Context, id int64, merchantRequestID, checkoutRequestID string) (bool, error)
	// ApplyOutcome writes the outcome only if the row is still pending.
	ApplyOutcome(ctx context.Context, id int64, update txDatamodel.OutcomeUpdate) (bool, error)
}

type CreateParams struct {
	Order       *order.Order
	UserID      *int64
	Amount      decimal.Decimal
	PhoneNumber string
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Create opens a pending transaction for the order. The amount must match the
// order total within AmountTolerance and the order must not be paid yet.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Transaction, error) {
	o := params.Order
	if o.IsPaid() {
		return nil, &AlreadyPaidError{OrderID: o.ID}
	}

	if params.Amount.Sub(o.Total).Abs().GreaterThan(AmountTolerance) {
		return nil, &AmountMismatchError{Expected: o.Total, Got: params.Amount}
	}

	currency := o.Currency
	if currency == "" {
		currency = "KES"
	}

	data := &txDatamodel.Transaction{
		TransactionID: uuid.New().String(),
		OrderID:       o.ID,
		UserID:        params.UserID,
		Amount:        o.Total,
		Currency:      currency,
		PaymentMethod: txDatamodel.MethodMpesa,
		Status:        txDatamodel.StatusPending,
		PhoneNumber:   params.PhoneNumber,
	}

	if err := s.repo.Create(ctx, data); err != nil {
		s.logger.Error("failed to create transaction", "error", err, "order_id", o.ID)
		return nil, errs.NewInternalError("failed to create transaction", err)
	}

	s.logger.Info("transaction created",
		"transaction_id", data.TransactionID,
		"order_id", o.ID,
		"amount", data.Amount.StringFixed(2))

	return FromDataModel(data), nil
}

// AttachGatewayCorrelation records the identifiers returned by the push request.
func (s *Service) AttachGatewayCorrelation(ctx context.Context, tx *Transaction, c Correlation) (*Transaction, error) {
	attached, err := s.repo.AttachCorrelation(ctx, tx.ID, c.MerchantRequestID, c.CheckoutRequestID)
	if err != nil {
		s.logger.Error("failed to attach gateway correlation", "error", err, "transaction_id", tx.TransactionID)
		return nil, errs.NewInternalError("failed to record gateway correlation", err)
	}
	if !attached {
		s.logger.Warn("transaction already correlated",
			"transaction_id", tx.TransactionID,
			"checkout_request_id", c.CheckoutRequestID)
		return nil, errs.NewConflictError("Transaction already has a checkout request", errs.ErrCodeCorrelationConflict).
			WithCause(ErrCorrelationConflict)
	}

	updated := *tx
	updated.Correlation = &c
	return &updated, nil
}

func (s *Service) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*Transaction, error) {
	data, err := s.repo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &TransactionNotFoundError{CheckoutRequestID: checkoutRequestID}
		}
		s.logger.Error("failed to look up transaction", "error", err, "checkout_request_id", checkoutRequestID)
		return nil, errs.NewInternalError("failed to look up transaction", err)
	}
	return FromDataModel(data), nil
}

func (s *Service) FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error) {
	data, err := s.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &TransactionNotFoundError{TransactionID: transactionID}
		}
		s.logger.Error("failed to load transaction", "error", err, "transaction_id", transactionID)
		return nil, errs.NewInternalError("failed to load transaction", err)
	}
	return FromDataModel(data), nil
}

// ApplyTerminalOutcome moves a pending transaction to completed or failed.
// Only the first outcome is stored; later calls return the stored state with
// applied set to false.
func (s *Service) ApplyTerminalOutcome(ctx context.Context, tx *Transaction, outcome Outcome) (*Transaction, bool, error) {
	if tx.IsTerminal() {
		s.logger.Info("transaction already terminal, ignoring outcome",
			"transaction_id", tx.TransactionID,
			"status", tx.Status,
			"result_code", outcome.ResultCode)
		return tx, false, nil
	}

	applied, err := s.repo.ApplyOutcome(ctx, tx.ID, toOutcomeUpdate(outcome, s.now().UTC()))
	if err != nil {
		s.logger.Error("failed to apply transaction outcome", "error", err, "transaction_id", tx.TransactionID)
		return nil, false, errs.NewInternalError("failed to update transaction", err)
	}

	current, err := s.FindByTransactionID(ctx, tx.TransactionID)
	if err != nil {
		return nil, false, err
	}

	if applied {
		s.logger.Info("transaction outcome applied",
			"transaction_id", current.TransactionID,
			"status", current.Status,
			"result_code", outcome.ResultCode)
	} else {
		s.logger.Info("concurrent outcome already stored",
			"transaction_id", current.TransactionID,
			"status", current.Status)
	}

	return current, applied, nil
}
