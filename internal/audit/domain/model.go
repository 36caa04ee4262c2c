package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditEvent is an append-only, tamper-evident record of a security-relevant
// action. The integrity hash covers the immutable fields; SensitiveData is
// sealed at rest and excluded from the hash.
type AuditEvent struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	EventType     string            `json:"event_type" gorm:"type:text;not null"`
	Severity      string            `json:"severity" gorm:"type:text;not null"`
	Category      string            `json:"category" gorm:"type:text;not null"`
	TransactionID *snowflake.ID     `json:"transaction_id,omitempty" gorm:"index"`
	TabID         *snowflake.ID     `json:"tab_id,omitempty"`
	CustomerID    *snowflake.ID     `json:"customer_id,omitempty" gorm:"index"`
	ActorType     string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID       *string           `json:"actor_id,omitempty" gorm:"type:text"`
	EventData     datatypes.JSONMap `json:"event_data" gorm:"type:jsonb;not null"`
	SensitiveData datatypes.JSON    `json:"-" gorm:"type:jsonb"`
	IntegrityHash string            `json:"integrity_hash" gorm:"type:text;not null"`
	RetentionDays int               `json:"retention_days" gorm:"not null"`
	ExpiresAt     time.Time         `json:"expires_at" gorm:"not null;index"`
	IPAddress     *string           `json:"ip_address,omitempty" gorm:"type:text"`
	UserAgent     *string           `json:"user_agent,omitempty" gorm:"type:text"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditEvent) TableName() string { return "audit_events" }

const (
	EventPaymentInitiated    = "payment_initiated"
	EventPaymentCompleted    = "payment_completed"
	EventPaymentFailed       = "payment_failed"
	EventCallbackReceived    = "callback_received"
	EventCallbackProcessed   = "callback_processed"
	EventCallbackFailed      = "callback_failed"
	EventTransactionTimeout  = "transaction_timeout"
	EventCredentialsAccessed = "credentials_accessed"
	EventCredentialsRotated  = "credentials_rotated"
	EventSuspiciousActivity  = "suspicious_activity"
	EventRetentionPurged     = "retention_purged"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	CategoryPayment  = "payment"
	CategorySecurity = "security"
	CategoryAdmin    = "admin"
	CategorySystem   = "system"
)

const (
	ActorTypeSystem = "system"
	ActorTypeStaff  = "staff"
)

// DefaultRetentionDays keeps payment audit evidence long enough for dispute
// windows and compliance reporting.
const DefaultRetentionDays = 365

// PlatformTenantID scopes events that belong to the platform itself rather
// than any venue, such as retention purges.
const PlatformTenantID snowflake.ID = 0

// ComputeHash produces the integrity hash over the immutable fields.
// EventData values must be JSON-native (IDs as strings) so that marshaling
// is stable across a storage round trip.
func ComputeHash(id snowflake.ID, eventType string, createdAt time.Time, eventData datatypes.JSONMap) (string, error) {
	canonical, err := json.Marshal(map[string]any(eventData))
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(id.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(eventType))
	h.Write([]byte{'|'})
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339)))
	h.Write([]byte{'|'})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
