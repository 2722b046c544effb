package order

import (
	"time"

	"github.com/shopspring/decimal"

	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
)

type Status string

const (
	StatusPending   Status = orderDatamodel.StatusPending
	StatusConfirmed Status = orderDatamodel.StatusConfirmed
	StatusCancelled Status = orderDatamodel.StatusCancelled
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = orderDatamodel.PaymentStatusPending
	PaymentStatusPaid     PaymentStatus = orderDatamodel.PaymentStatusPaid
	PaymentStatusFailed   PaymentStatus = orderDatamodel.PaymentStatusFailed
	PaymentStatusRefunded PaymentStatus = orderDatamodel.PaymentStatusRefunded
)

type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

func (o *Order) IsOwnedBy(userID int64) bool {
	return o.UserID == userID
}

func FromDataModel(o *orderDatamodel.Order) *Order {
	return &Order{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Total:         o.Total,
		Currency:      o.Currency,
		Status:        Status(o.Status),
		PaymentStatus: PaymentStatus(o.PaymentStatus),
		PaidAt:        o.PaidAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
