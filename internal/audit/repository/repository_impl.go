package repository

import (
	"context"
	"strings"
	"time"

	"github.com/baridihq/baridi/internal/audit/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.AuditEvent) error {
	if event == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_events (
			id, tenant_id, event_type, severity, category,
			transaction_id, tab_id, customer_id, actor_type, actor_id,
			event_data, sensitive_data, integrity_hash, retention_days,
			expires_at, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.EventType,
		event.Severity,
		event.Category,
		event.TransactionID,
		event.TabID,
		event.CustomerID,
		event.ActorType,
		event.ActorID,
		event.EventData,
		event.SensitiveData,
		event.IntegrityHash,
		event.RetentionDays,
		event.ExpiresAt,
		event.IPAddress,
		event.UserAgent,
		event.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.AuditEvent, error) {
	var event domain.AuditEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, event_type, severity, category,
			transaction_id, tab_id, customer_id, actor_type, actor_id,
			event_data, sensitive_data, integrity_hash, retention_days,
			expires_at, ip_address, user_agent, created_at
		 FROM audit_events
		 WHERE tenant_id = ? AND id = ?
		 LIMIT 1`,
		tenantID,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditEvent, error) {
	stmt := db.WithContext(ctx).Model(&domain.AuditEvent{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.TransactionID != nil && *filter.TransactionID != 0 {
		stmt = stmt.Where("transaction_id = ?", *filter.TransactionID)
	}
	if filter.CustomerID != nil && *filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		stmt = stmt.Where("event_type = ?", eventType)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var events []domain.AuditEvent
	if err := stmt.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM audit_events WHERE expires_at < ?`,
		now.UTC(),
	)
	return res.RowsAffected, res.Error
}
