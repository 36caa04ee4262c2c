package repository

import (
	"context"

	"github.com/baridihq/baridi/internal/tab/domain"
	"github.com/baridihq/baridi/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindTab(ctx context.Context, tx *gorm.DB, tenantID, tabID snowflake.ID) (*domain.Tab, error) {
	var tab domain.Tab
	err := tx.WithContext(ctx).Raw(
		`SELECT id, tenant_id, customer_id, status, created_at, updated_at
		 FROM tabs
		 WHERE tenant_id = ? AND id = ?
		 LIMIT 1`,
		tenantID,
		tabID,
	).Scan(&tab).Error
	if err != nil {
		return nil, err
	}
	if tab.ID == 0 {
		return nil, domain.ErrTabNotFound
	}
	return &tab, nil
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *domain.Payment) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO tab_payments (
			id, tenant_id, tab_id, amount, method, status, reference, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.TenantID,
		payment.TabID,
		payment.Amount,
		payment.Method,
		payment.Status,
		payment.Reference,
		payment.Metadata,
		payment.CreatedAt,
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Balance(ctx context.Context, tx *gorm.DB, tenantID, tabID snowflake.ID) (int64, error) {
	var balance int64
	err := tx.WithContext(ctx).Raw(
		`SELECT
			COALESCE((SELECT SUM(total) FROM orders
				WHERE tenant_id = ? AND tab_id = ? AND status = ?), 0)
			-
			COALESCE((SELECT SUM(amount) FROM tab_payments
				WHERE tenant_id = ? AND tab_id = ? AND status = ?), 0)`,
		tenantID, tabID, domain.OrderStatusConfirmed,
		tenantID, tabID, domain.PaymentStatusSuccess,
	).Scan(&balance).Error
	return balance, err
}

func (r *repo) CloseIfOverdue(ctx context.Context, tx *gorm.DB, tenantID, tabID snowflake.ID) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE tabs
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE tenant_id = ? AND id = ? AND status = ?`,
		domain.TabStatusClosed,
		tenantID,
		tabID,
		domain.TabStatusOverdue,
	)
	return res.RowsAffected > 0, res.Error
}
