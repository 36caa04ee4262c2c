package repository

import (
	"context"
	"time"

	"github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/baridihq/baridi/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const columns = `id, tenant_id, tab_id, customer_id, phone_number, amount,
	environment, status, merchant_request_id, checkout_request_id,
	receipt_number, result_code, failure_reason, retry_of_transaction_id,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO mpesa_transactions (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.TenantID,
		txn.TabID,
		txn.CustomerID,
		txn.PhoneNumber,
		txn.Amount,
		txn.Environment,
		txn.Status,
		txn.MerchantRequestID,
		txn.CheckoutRequestID,
		txn.ReceiptNumber,
		txn.ResultCode,
		txn.FailureReason,
		txn.RetryOfTransactionID,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
	if err != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateCheckoutID
	}
	return err
}

// UpdateStatus writes the new status and payload fields guarded by the
// expected current status. RowsAffected == 0 means another writer won the
// race or the row does not exist; the caller decides which.
func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, txn *domain.Transaction, fromExpected string) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE mpesa_transactions
		 SET status = ?, receipt_number = ?, result_code = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND status = ?`,
		txn.Status,
		txn.ReceiptNumber,
		txn.ResultCode,
		txn.FailureReason,
		txn.UpdatedAt,
		txn.ID,
		txn.TenantID,
		fromExpected,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, domain.ErrDuplicateReceipt
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM mpesa_transactions
		 WHERE tenant_id = ? AND id = ?
		 LIMIT 1`,
		tenantID,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) FindByCheckoutID(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, checkoutRequestID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM mpesa_transactions
		 WHERE tenant_id = ? AND checkout_request_id = ?
		 LIMIT 1`,
		tenantID,
		checkoutRequestID,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT `+columns+` FROM mpesa_transactions
		 WHERE status = ? AND updated_at < ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.StatusSent,
		cutoff.UTC(),
		limit,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
