package transaction

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

const (
	MethodMpesa = "mpesa"
	MethodCard  = "card"
	MethodCash  = "cash"
)

// Transaction is one payment attempt against an order.
type Transaction struct {
	ID            int64           `gorm:"primaryKey"`
	TransactionID string          `gorm:"column:transaction_id;not null;uniqueIndex"`
	OrderID       int64           `gorm:"column:order_id;not null;index"`
	UserID        *int64          `gorm:"column:user_id"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      string          `gorm:"column:currency;not null;default:KES"`
	PaymentMethod string          `gorm:"column:payment_method;not null;default:mpesa"`
	Status        string          `gorm:"column:status;not null;default:pending;index"`
	PhoneNumber   string          `gorm:"column:phone_number;not null"`

	MerchantRequestID *string `gorm:"column:merchant_request_id"`
	CheckoutRequestID *string `gorm:"column:checkout_request_id;uniqueIndex"`

	ResultCode         *int           `gorm:"column:result_code"`
	ResultDesc         *string        `gorm:"column:result_desc"`
	MpesaReceiptNumber *string        `gorm:"column:mpesa_receipt_number"`
	TransactionDate    *string        `gorm:"column:transaction_date"`
	PaidPhoneNumber    *string        `gorm:"column:paid_phone_number"`
	RawCallback        datatypes.JSON `gorm:"column:raw_callback"`
	ProcessedAt        *time.Time     `gorm:"column:processed_at"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// OutcomeUpdate is the column set written once when a transaction leaves pending.
type OutcomeUpdate struct {
	Status             string
	ResultCode         int
	ResultDesc         string
	MpesaReceiptNumber *string
	TransactionDate    *string
	PaidPhoneNumber    *string
	RawCallback        datatypes.JSON
	ProcessedAt        time.Time
}
