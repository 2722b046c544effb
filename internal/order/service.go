package order

import (
	"context"
	"errors"
	"log/slog"
	"time"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
)

// ErrNotFound is returned by repositories when no order matches.
var ErrNotFound = errors.New("order not found")

type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*orderDatamodel.Order, error)
	// MarkPaid flips an unpaid order to paid/confirmed and reports whether it changed.
	MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error)
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

func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	dataOrder, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errs.ErrOrderNotFound
		}
		s.logger.Error("failed to load order", "error", err, "order_id", id)
		return nil, errs.NewInternalError("failed to load order", err)
	}
	return FromDataModel(dataOrder), nil
}

// GetOrderForUser loads an order and checks it belongs to userID.
func (s *Service) GetOrderForUser(ctx context.Context, id, userID int64) (*Order, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsOwnedBy(userID) {
		s.logger.Warn("order access denied", "order_id", id, "user_id", userID, "owner_id", o.UserID)
		return nil, errs.ErrUnauthorizedAccess
	}
	return o, nil
}

// ConfirmPayment marks the order paid and confirmed. Calling it on an already
// paid order is a no-op.
func (s *Service) ConfirmPayment(ctx context.Context, id int64) error {
	changed, err := s.repo.MarkPaid(ctx, id, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to mark order paid", "error", err, "order_id", id)
		return errs.NewInternalError("failed to confirm order payment", err)
	}

	if changed {
		s.logger.Info("order payment confirmed", "order_id", id)
		return nil
	}

	if _, err := s.GetOrder(ctx, id); err != nil {
		return err
	}
	s.logger.Debug("order already paid", "order_id", id)
	return nil
}
