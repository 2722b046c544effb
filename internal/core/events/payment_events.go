package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentInitiated = "payment.initiated"
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentEventTypes lists every event the payment flow emits.
var PaymentEventTypes = []string{
	EventTypePaymentInitiated,
	EventTypePaymentCompleted,
	EventTypePaymentFailed,
}

type PaymentInitiatedEvent struct {
	BaseEvent
	TransactionID     string `json:"transaction_id"`
	OrderID           int64  `json:"order_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Amount            string `json:"amount"`
}

func NewPaymentInitiatedEvent(transactionID string, orderID int64, checkoutRequestID, amount string) *PaymentInitiatedEvent {
	return &PaymentInitiatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentInitiated,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"transaction_id":      transactionID,
				"order_id":            orderID,
				"checkout_request_id": checkoutRequestID,
				"amount":              amount,
			},
		},
		TransactionID:     transactionID,
		OrderID:           orderID,
		CheckoutRequestID: checkoutRequestID,
		Amount:            amount,
	}
}

func (e *PaymentInitiatedEvent) PartitionKey() string {
	return e.TransactionID
}

type PaymentCompletedEvent struct {
	BaseEvent
	TransactionID      string `json:"transaction_id"`
	OrderID            int64  `json:"order_id"`
	CheckoutRequestID  string `json:"checkout_request_id"`
	Amount             string `json:"amount"`
	MpesaReceiptNumber string `json:"mpesa_receipt_number"`
	Source             string `json:"source"`
}

func NewPaymentCompletedEvent(transactionID string, orderID int64, checkoutRequestID, amount, receipt, source string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"transaction_id":       transactionID,
				"order_id":             orderID,
				"checkout_request_id":  checkoutRequestID,
				"amount":               amount,
				"mpesa_receipt_number": receipt,
				"source":               source,
			},
		},
		TransactionID:      transactionID,
		OrderID:            orderID,
		CheckoutRequestID:  checkoutRequestID,
		Amount:             amount,
		MpesaReceiptNumber: receipt,
		Source:             source,
	}
}

func (e *PaymentCompletedEvent) PartitionKey() string {
	return e.TransactionID
}

type PaymentFailedEvent struct {
	BaseEvent
	TransactionID     string `json:"transaction_id"`
	OrderID           int64  `json:"order_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	ResultCode        int    `json:"result_code"`
	FailureReason     string `json:"failure_reason"`
	Source            string `json:"source"`
}

func NewPaymentFailedEvent(transactionID string, orderID int64, checkoutRequestID string, resultCode int, reason, source string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"transaction_id":      transactionID,
				"order_id":            orderID,
				"checkout_request_id": checkoutRequestID,
				"result_code":         resultCode,
				"failure_reason":      reason,
				"source":              source,
			},
		},
		TransactionID:     transactionID,
		OrderID:           orderID,
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        resultCode,
		FailureReason:     reason,
		Source:            source,
	}
}

func (e *PaymentFailedEvent) PartitionKey() string {
	return e.TransactionID
}
