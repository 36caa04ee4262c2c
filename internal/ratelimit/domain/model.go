package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RateLimitEvent is one append-only entry in the abuse-detection history.
// Events are never mutated; current block status and risk signals are
// computed from the trailing window.
type RateLimitEvent struct {
	ID           snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	CustomerID   *snowflake.ID `json:"customer_id,omitempty" gorm:"index"`
	PhoneNumber  *string       `json:"phone_number,omitempty" gorm:"type:text;index"`
	IPAddress    *string       `json:"ip_address,omitempty" gorm:"type:text"`
	EventType    string        `json:"event_type" gorm:"type:text;not null"`
	RiskScore    int           `json:"risk_score" gorm:"not null"`
	BlockedUntil *time.Time    `json:"blocked_until,omitempty" gorm:"index"`
	CreatedAt    time.Time     `json:"created_at" gorm:"not null;index"`
}

func (RateLimitEvent) TableName() string { return "rate_limit_events" }

const (
	EventPaymentAttempt    = "payment_attempt"
	EventFailedAttempt     = "failed_attempt"
	EventSuccessfulPayment = "successful_payment"
	EventCustomerBlocked   = "customer_blocked"
	EventIPBlocked         = "ip_blocked"
	EventSuspiciousAct     = "suspicious_activity"
)
