package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	txDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/transaction"
)

// PendingTransaction is the slice of a row the reconcile sweeper needs.
type PendingTransaction struct {
	ID                int64     `db:"id"`
	TransactionID     string    `db:"transaction_id"`
	CheckoutRequestID string    `db:"checkout_request_id"`
	CreatedAt         time.Time `db:"created_at"`
}

type PendingFinder struct {
	db *sqlx.DB
}

func NewPendingFinder(db *sqlx.DB) *PendingFinder {
	return &PendingFinder{db: db}
}

const listStalePendingQuery = `
SELECT id, transaction_id, checkout_request_id, created_at
FROM transactions
WHERE status = ?
  AND checkout_request_id IS NOT NULL
  AND created_at < ?
ORDER BY created_at ASC
LIMIT ?`

// ListStalePending returns correlated transactions still pending since before olderThan.
func (f *PendingFinder) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]PendingTransaction, error) {
	var rows []PendingTransaction
	query := f.db.Rebind(listStalePendingQuery)
	if err := f.db.SelectContext(ctx, &rows, query, txDatamodel.StatusPending, olderThan, limit); err != nil {
		return nil, err
	}
	return rows, nil
}
