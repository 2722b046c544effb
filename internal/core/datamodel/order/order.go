package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"

	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

type Order struct {
	ID            int64           `gorm:"primaryKey"`
	OrderNumber   string          `gorm:"column:order_number;not null;uniqueIndex"`
	UserID        int64           `gorm:"column:user_id;not null;index"`
	Total         decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	Currency      string          `gorm:"column:currency;not null;default:KES"`
	Status        string          `gorm:"column:status;not null;default:pending"`
	PaymentStatus string          `gorm:"column:payment_status;not null;default:pending"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
