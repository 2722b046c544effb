package transaction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	errs "github.com/mazuri-stores/mazuri-api/internal"
)

var (
	// ErrNotFound is returned by repositories when no transaction matches.
	ErrNotFound = errors.New("transaction not found")

	// ErrCorrelationConflict means the transaction already carries gateway identifiers.
	ErrCorrelationConflict = errors.New("transaction already correlated")
)

type AmountMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount %s does not match order total %s", e.Got.StringFixed(2), e.Expected.StringFixed(2))
}

func (e *AmountMismatchError) ToAppError() *errs.AppError {
	return errs.NewValidationError(e.Error(), errs.ErrCodeAmountMismatch).
		WithDetails(map[string]string{
			"expected": e.Expected.StringFixed(2),
			"received": e.Got.StringFixed(2),
		}).
		WithCause(e)
}

type AlreadyPaidError struct {
	OrderID int64
}

func (e *AlreadyPaidError) Error() string {
	return fmt.Sprintf("order %d is already paid", e.OrderID)
}

func (e *AlreadyPaidError) ToAppError() *errs.AppError {
	return errs.NewConflictError("Order is already paid", errs.ErrCodeOrderAlreadyPaid).WithCause(e)
}

type TransactionNotFoundError struct {
	CheckoutRequestID string
	TransactionID     string
}

func (e *TransactionNotFoundError) Error() string {
	if e.CheckoutRequestID != "" {
		return fmt.Sprintf("no transaction for checkout request %s", e.CheckoutRequestID)
	}
	return fmt.Sprintf("transaction %s not found", e.TransactionID)
}

func (e *TransactionNotFoundError) ToAppError() *errs.AppError {
	return errs.NewNotFoundError("Transaction not found", errs.ErrCodeTransactionNotFound).WithCause(e)
}

func (e *TransactionNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound reports whether err is a TransactionNotFoundError.
func IsNotFound(err error) bool {
	var nf *TransactionNotFoundError
	return errors.As(err, &nf)
}
