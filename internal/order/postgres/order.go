package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
	"github.com/mazuri-stores/mazuri-api/internal/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *orderDatamodel.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*orderDatamodel.Order, error) {
	var o orderDatamodel.Order
	err := r.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, paidAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&orderDatamodel.Order{}).
		Where("id = ? AND payment_status <> ?", id, orderDatamodel.PaymentStatusPaid).
		Updates(map[string]interface{}{
			"payment_status": orderDatamodel.PaymentStatusPaid,
			"status":         orderDatamodel.StatusConfirmed,
			"paid_at":        paidAt,
			"updated_at":     paidAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
