package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry is the caller-facing input for one audit record.
type Entry struct {
	TenantID      snowflake.ID
	EventType     string
	Severity      string
	Category      string
	TransactionID *snowflake.ID
	TabID         *snowflake.ID
	CustomerID    *snowflake.ID
	Data          map[string]any
	Sensitive     map[string]any
	RetentionDays int
}

type ListFilter struct {
	TenantID      snowflake.ID
	TransactionID *snowflake.ID
	CustomerID    *snowflake.ID
	EventType     string
	StartAt       *time.Time
	EndAt         *time.Time
	Limit         int
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	// RecordTx writes the event inside an existing storage transaction so the
	// audit append commits or rolls back with the operation it describes.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	VerifyIntegrity(ctx context.Context, tenantID, id snowflake.ID) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]AuditEvent, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *AuditEvent) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*AuditEvent, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditEvent, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

var (
	ErrInvalidEvent       = errors.New("invalid_audit_event")
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidTimeRange   = errors.New("invalid_time_range")
	ErrNotFound           = errors.New("audit_event_not_found")
	ErrIntegrityViolation = errors.New("audit_integrity_violation")
)
