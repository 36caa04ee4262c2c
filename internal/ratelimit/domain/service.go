package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CheckInput identifies one payment attempt to screen. CustomerID is
// optional; phone and IP are the minimum identity available at initiation.
type CheckInput struct {
	TenantID    snowflake.ID
	CustomerID  *snowflake.ID
	PhoneNumber string
	IPAddress   string
}

// Signals are the raw counts feeding the score, all computed over the
// trailing window.
type Signals struct {
	FailedAttempts int
	DistinctPhones int
	DistinctIPs    int
	RapidAttempts  int
}

// Decision is the screening outcome. BlockedUntil and Reason are only
// meaningful when Allowed is false.
type Decision struct {
	Allowed      bool
	RiskScore    int
	BlockedUntil time.Time
	Reason       string
}

// Scorer turns raw signals into a risk score and the dominant block reason.
// A single hard rule per signal produces too many false positives; scoring
// lets individually explainable signals add up.
type Scorer interface {
	Score(signals Signals) (int, string)
}

type Service interface {
	// CheckAllowed screens an attempt and appends the check to the event
	// history regardless of the decision.
	CheckAllowed(ctx context.Context, input CheckInput) (Decision, error)
	// RecordOutcome appends a terminal payment outcome (failed_attempt or
	// successful_payment) so future decisions see it.
	RecordOutcome(ctx context.Context, input CheckInput, eventType string) error
	// PurgeExpired removes events older than the retention window.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *RateLimitEvent) error
	// ActiveBlockUntil returns the latest blocked_until in the future for the
	// customer or phone, or nil when no block is active.
	ActiveBlockUntil(ctx context.Context, db *gorm.DB, input CheckInput, now time.Time) (*time.Time, error)
	Signals(ctx context.Context, db *gorm.DB, input CheckInput, windowStart, rapidStart time.Time) (Signals, error)
	DeleteBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidOutcome = errors.New("invalid_outcome_event")
)
