package payment

import (
	"context"
	"log/slog"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
)

const pushDescription = "Mazuri order"

type ServiceAPI interface {
	InitiatePayment(ctx context.Context, userID int64, req InitiateRequest) (*InitiateResponse, error)
	CheckStatus(ctx context.Context, userID int64, checkoutRequestID string) (*StatusView, error)
}

type Service struct {
	ledger          LedgerAPI
	orders          OrderServiceAPI
	gateway         GatewayAPI
	reconciler      *Reconciler
	publisher       EventPublisher
	referencePrefix string
	logger          *slog.Logger
}

func NewService(ledger LedgerAPI, orders OrderServiceAPI, gateway GatewayAPI, reconciler *Reconciler, publisher EventPublisher, referencePrefix string, logger *slog.Logger) *Service {
	return &Service{
		ledger:          ledger,
		orders:          orders,
		gateway:         gateway,
		reconciler:      reconciler,
		publisher:       publisher,
		referencePrefix: referencePrefix,
		logger:          logger,
	}
}

// InitiatePayment opens a pending transaction and sends the STK prompt. If the
// push fails the transaction stays pending.
func (s *Service) InitiatePayment(ctx context.Context, userID int64, req InitiateRequest) (*InitiateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o, err := s.orders.GetOrderForUser(ctx, req.OrderID, userID)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Create(ctx, transaction.CreateParams{
		Order:       o,
		UserID:      &userID,
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		s.logger.Warn("payment initiation rejected", "error", err, "order_id", o.ID, "user_id", userID)
		return nil, err
	}

	push, err := s.gateway.InitiatePush(ctx, paymentgateway.PushRequest{
		PhoneNumber:      req.PhoneNumber,
		Amount:           tx.Amount,
		AccountReference: s.referencePrefix + o.OrderNumber,
		Description:      pushDescription,
	})
	if err != nil {
		s.logger.Error("stk push failed, transaction left pending",
			"error", err,
			"transaction_id", tx.TransactionID,
			"order_id", o.ID)
		return nil, err
	}

	tx, err = s.ledger.AttachGatewayCorrelation(ctx, tx, transaction.Correlation{
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment initiated",
		"transaction_id", tx.TransactionID,
		"order_id", o.ID,
		"checkout_request_id", push.CheckoutRequestID,
		"phone_number", paymentgateway.MaskPhoneNumber(req.PhoneNumber))

	if s.publisher != nil {
		event := events.NewPaymentInitiatedEvent(tx.TransactionID, o.ID, push.CheckoutRequestID, tx.Amount.StringFixed(2))
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("failed to publish payment event", "error", err, "event_type", event.EventType())
		}
	}

	return &InitiateResponse{
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		TransactionID:     tx.TransactionID,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// CheckStatus returns the caller's transaction, polling the provider while it
// is still pending.
func (s *Service) CheckStatus(ctx context.Context, userID int64, checkoutRequestID string) (*StatusView, error) {
	tx, err := s.ledger.FindByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}

	if tx.UserID != nil && *tx.UserID != userID {
		s.logger.Warn("transaction access denied",
			"transaction_id", tx.TransactionID,
			"user_id", userID)
		return nil, errs.ErrUnauthorizedAccess
	}

	tx, err = s.reconciler.Poll(ctx, tx)
	if err != nil {
		return nil, err
	}

	view := NewStatusView(tx)
	return &view, nil
}
