package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	txDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *txDatamodel.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*txDatamodel.Transaction, error) {
	return r.first(ctx, "transaction_id = ?", transactionID)
}

func (r *TransactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*txDatamodel.Transaction, error) {
	return r.first(ctx, "checkout_request_id = ?", checkoutRequestID)
}

func (r *TransactionRepository) first(ctx context.Context, query string, arg interface{}) (*txDatamodel.Transaction, error) {
	var tx txDatamodel.Transaction
	err := r.db.WithContext(ctx).Where(query, arg).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, transaction.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepository) AttachCorrelation(ctx context.Context, id int64, merchantRequestID, checkoutRequestID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&txDatamodel.Transaction{}).
		Where("id = ? AND checkout_request_id IS NULL", id).
		Updates(map[string]interface{}{
			"merchant_request_id": merchantRequestID,
			"checkout_request_id": checkoutRequestID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ApplyOutcome is a compare-and-set on status so concurrent callbacks and
// polls store at most one outcome.
func (r *TransactionRepository) ApplyOutcome(ctx context.Context, id int64, update txDatamodel.OutcomeUpdate) (bool, error) {
	values := map[string]interface{}{
		"status":               update.Status,
		"result_code":          update.ResultCode,
		"result_desc":          update.ResultDesc,
		"mpesa_receipt_number": update.MpesaReceiptNumber,
		"transaction_date":     update.TransactionDate,
		"paid_phone_number":    update.PaidPhoneNumber,
		"processed_at":         update.ProcessedAt,
		"updated_at":           update.ProcessedAt,
	}
	if len(update.RawCallback) > 0 {
		values["raw_callback"] = update.RawCallback
	}

	result := r.db.WithContext(ctx).
		Model(&txDatamodel.Transaction{}).
		Where("id = ? AND status = ?", id, txDatamodel.StatusPending).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
