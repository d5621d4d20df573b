package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"purser/internal/models"
)

// GrantLedger records which storefront transaction ids have already been
// fulfilled, so a redelivered or restored transaction never grants value
// twice.
type GrantLedger struct {
	DB *sql.DB

	once sync.Once
	err  error
}

func NewGrantLedger(db *sql.DB) *GrantLedger {
	return &GrantLedger{DB: db}
}

func (l *GrantLedger) ensureSchema(ctx context.Context) error {
	l.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS purchase_grants (
    id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    transaction_id VARCHAR(255) NOT NULL,
    original_transaction_id VARCHAR(255) NOT NULL DEFAULT '',
    product_id VARCHAR(255) NOT NULL DEFAULT '',
    product_type VARCHAR(32) NOT NULL DEFAULT '',
    environment VARCHAR(32) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_transaction_id (transaction_id),
    KEY idx_original_transaction (original_transaction_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`
		_, l.err = l.DB.ExecContext(ctx, ddl)
	})
	return l.err
}

// IsProcessed returns true if the transaction id was already fulfilled.
func (l *GrantLedger) IsProcessed(ctx context.Context, transactionID string) (bool, error) {
	if err := l.ensureSchema(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := l.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_grants WHERE transaction_id = ?)`, transactionID).Scan(&exists)
	return exists, err
}

// Record stores a fulfilled transaction. Safe to call twice for the same
// transaction id: duplicates are ignored.
func (l *GrantLedger) Record(ctx context.Context, proof models.Proof, productType string) error {
	if err := l.ensureSchema(ctx); err != nil {
		return err
	}
	if proof.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	_, err := l.DB.ExecContext(ctx, `
INSERT INTO purchase_grants (transaction_id, original_transaction_id, product_id, product_type, environment)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE transaction_id = transaction_id
`, proof.TransactionID, proof.OriginalTransactionID, proof.ProductID, productType, proof.Environment)
	return err
}

// Remove deletes a ledger entry. Used to roll back when fulfillment fails
// after the entry was written.
func (l *GrantLedger) Remove(ctx context.Context, transactionID string) error {
	if err := l.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := l.DB.ExecContext(ctx, `DELETE FROM purchase_grants WHERE transaction_id = ?`, transactionID)
	return err
}
