package transaction

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	txDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/transaction"
	gatewayDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/paymentgateway"
)

type Status string

const (
	StatusPending   Status = txDatamodel.StatusPending
	StatusCompleted Status = txDatamodel.StatusCompleted
	StatusFailed    Status = txDatamodel.StatusFailed
	StatusCancelled Status = txDatamodel.StatusCancelled
	StatusRefunded  Status = txDatamodel.StatusRefunded
)

// IsTerminal reports whether the status can no longer change through the payment flow.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Correlation holds the identifiers the provider assigned to the push.
type Correlation struct {
	MerchantRequestID string `json:"merchant_request_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
}

// Outcome is the provider verdict recorded when a transaction leaves pending.
type Outcome struct {
	ResultCode         int             `json:"result_code"`
	ResultDesc         string          `json:"result_desc"`
	MpesaReceiptNumber string          `json:"mpesa_receipt_number,omitempty"`
	TransactionDate    string          `json:"transaction_date,omitempty"`
	PhoneNumber        string          `json:"phone_number,omitempty"`
	Raw                json.RawMessage `json:"-"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
}

func (o Outcome) Status() Status {
	if gatewayDatamodel.ResultCode(o.ResultCode).IsSuccess() {
		return StatusCompleted
	}
	return StatusFailed
}

type Transaction struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	OrderID       int64           `json:"order_id"`
	UserID        *int64          `json:"user_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Status        Status          `json:"status"`
	PhoneNumber   string          `json:"phone_number"`
	Correlation   *Correlation    `json:"correlation,omitempty"`
	Outcome       *Outcome        `json:"outcome,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

func (t *Transaction) CheckoutRequestID() string {
	if t.Correlation == nil {
		return ""
	}
	return t.Correlation.CheckoutRequestID
}

func FromDataModel(t *txDatamodel.Transaction) *Transaction {
	tx := &Transaction{
		ID:            t.ID,
		TransactionID: t.TransactionID,
		OrderID:       t.OrderID,
		UserID:        t.UserID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		Status:        Status(t.Status),
		PhoneNumber:   t.PhoneNumber,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}

	if t.CheckoutRequestID != nil {
		tx.Correlation = &Correlation{
			MerchantRequestID: deref(t.MerchantRequestID),
			CheckoutRequestID: *t.CheckoutRequestID,
		}
	}

	if t.ResultCode != nil {
		tx.Outcome = &Outcome{
			ResultCode:         *t.ResultCode,
			ResultDesc:         deref(t.ResultDesc),
			MpesaReceiptNumber: deref(t.MpesaReceiptNumber),
			TransactionDate:    deref(t.TransactionDate),
			PhoneNumber:        deref(t.PaidPhoneNumber),
			Raw:                json.RawMessage(t.RawCallback),
			ProcessedAt:        t.ProcessedAt,
		}
	}

	return tx
}

func toOutcomeUpdate(o Outcome, processedAt time.Time) txDatamodel.OutcomeUpdate {
	update := txDatamodel.OutcomeUpdate{
		Status:             string(o.Status()),
		ResultCode:         o.ResultCode,
		ResultDesc:         o.ResultDesc,
		MpesaReceiptNumber: ptr(o.MpesaReceiptNumber),
		TransactionDate:    ptr(o.TransactionDate),
		PaidPhoneNumber:    ptr(o.PhoneNumber),
		ProcessedAt:        processedAt,
	}
	if len(o.Raw) > 0 {
		update.RawCallback = datatypes.JSON(o.Raw)
	}
	return update
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
