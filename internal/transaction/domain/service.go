package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateInput struct {
	TenantID             snowflake.ID
	TabID                snowflake.ID
	CustomerID           *snowflake.ID
	PhoneNumber          string
	Amount               int64
	Environment          string
	MerchantRequestID    string
	CheckoutRequestID    string
	RetryOfTransactionID *snowflake.ID
}

// TransitionPayload carries the fields a transition may set. ReceiptNumber
// applies only to completed; ResultCode and FailureReason only to
// failure-class states.
type TransitionPayload struct {
	ReceiptNumber string
	ResultCode    *int
	FailureReason string
}

type Service interface {
	// Create persists a new attempt in pending.
	Create(ctx context.Context, input CreateInput) (*Transaction, error)
	Transition(ctx context.Context, tenantID, id snowflake.ID, fromExpected, to string, payload TransitionPayload) (*Transaction, error)
	// TransitionTx runs the compare-and-swap inside the caller's storage
	// transaction so dependent writes commit with the winning transition.
	TransitionTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, fromExpected, to string, payload TransitionPayload) (*Transaction, error)
	FindByID(ctx context.Context, tenantID, id snowflake.ID) (*Transaction, error)
	FindByCheckoutID(ctx context.Context, tenantID snowflake.ID, checkoutRequestID string) (*Transaction, error)
	// ListStuckSent returns transactions sitting in sent since before cutoff,
	// across tenants, oldest first.
	ListStuckSent(ctx context.Context, cutoff time.Time, limit int) ([]Transaction, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	// UpdateStatus is the compare-and-swap: the write applies only when the
	// stored status still equals fromExpected. Reports whether a row changed.
	UpdateStatus(ctx context.Context, db *gorm.DB, txn *Transaction, fromExpected string) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Transaction, error)
	FindByCheckoutID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, checkoutRequestID string) (*Transaction, error)
	ListSentBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Transaction, error)
}

var (
	ErrNotFound            = errors.New("transaction_not_found")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidEnvironment  = errors.New("invalid_environment")
	ErrDuplicateCheckoutID = errors.New("duplicate_checkout_request_id")
	ErrDuplicateReceipt    = errors.New("duplicate_receipt_number")
)
