package paymentgateway

import (
	"errors"
	"fmt"

	errs "github.com/mazuri-stores/mazuri-api/internal"
)

// ErrRequestInProcess means the provider has not resolved the push yet.
var ErrRequestInProcess = errors.New("mpesa: request is still being processed")

// GatewayAuthError is returned when the OAuth exchange fails.
type GatewayAuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayAuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("mpesa auth failed: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("mpesa auth failed: status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("mpesa auth failed: %s", e.Message)
	}
}

func (e *GatewayAuthError) Unwrap() error {
	return e.Err
}

func (e *GatewayAuthError) ToAppError() *errs.AppError {
	return errs.NewExternalError("payment provider authentication failed", errs.ErrCodeGatewayAuthFailed, e)
}

// GatewayRequestError covers network, HTTP and malformed-response failures of
// the push and query calls.
type GatewayRequestError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayRequestError) Error() string {
	msg := fmt.Sprintf("mpesa %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(": code %s", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *GatewayRequestError) Unwrap() error {
	return e.Err
}

func (e *GatewayRequestError) ToAppError() *errs.AppError {
	return errs.NewExternalError("payment provider request failed", errs.ErrCodeGatewayRequestFailed, e)
}
