package payment

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/core/common/validation"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
)

// Kenyan mobile ranges (07xx and 01xx) after normalization.
var mobileNumberPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

var minimumAmount = decimal.NewFromInt(1)

// InitiateRequest is the body of POST /payments/mpesa/initiate.
type InitiateRequest struct {
	OrderID     int64           `json:"orderId"`
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
}

// Validate checks the request and normalizes the phone number in place.
func (r *InitiateRequest) Validate() error {
	r.PhoneNumber = paymentgateway.NormalizePhoneNumber(r.PhoneNumber)

	validator := validation.NewValidator()

	validator.Field("orderId", r.OrderID).Required().MinInt(1, errors.ErrCodeValidationFailed)
	validator.Field("phoneNumber", r.PhoneNumber).Required().
		Matches(mobileNumberPattern, "phoneNumber must be a valid Kenyan mobile number", errors.ErrCodeInvalidPhone)
	validator.Field("amount", r.Amount).Required().MinDecimal(minimumAmount, errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InitiateResponse struct {
	MerchantRequestID string `json:"merchantRequestId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	TransactionID     string `json:"transactionId"`
	CustomerMessage   string `json:"customerMessage"`
}

type StatusResponse struct {
	TransactionID      string     `json:"transactionId"`
	CheckoutRequestID  string     `json:"checkoutRequestId"`
	Status             string     `json:"status"`
	ResultCode         *int       `json:"resultCode"`
	ResultDesc         string     `json:"resultDesc"`
	MpesaReceiptNumber string     `json:"mpesaReceiptNumber,omitempty"`
	ProcessedAt        *time.Time `json:"processedAt,omitempty"`
}

func (v StatusView) ToResponse() StatusResponse {
	return StatusResponse{
		TransactionID:      v.TransactionID,
		CheckoutRequestID:  v.CheckoutRequestID,
		Status:             string(v.Status),
		ResultCode:         v.ResultCode,
		ResultDesc:         v.ResultDesc,
		MpesaReceiptNumber: v.MpesaReceiptNumber,
		ProcessedAt:        v.ProcessedAt,
	}
}
