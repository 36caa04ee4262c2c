package domain

import (
	"context"
	"errors"

	tabdomain "github.com/baridihq/baridi/internal/tab/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordInput describes one settled payment to book against a tab.
type RecordInput struct {
	TenantID snowflake.ID
	TabID    snowflake.ID
	Amount   int64
	Method   string
	// Reference is the provider receipt for mpesa; empty for cash.
	Reference string
	// Metadata carries the opaque provider payload for audit and debugging.
	Metadata datatypes.JSON
}

type Service interface {
	// Record books the payment in its own storage transaction.
	Record(ctx context.Context, input RecordInput) (*tabdomain.Payment, error)
	// RecordTx books the payment inside the caller's transaction so the
	// ledger entry commits or rolls back with the state change that earned it.
	// The payment insert and the conditional tab auto-close are one unit.
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*tabdomain.Payment, error)
}

var (
	ErrInvalidAmount      = errors.New("invalid_payment_amount")
	ErrInvalidMethod      = errors.New("invalid_payment_method")
	ErrDuplicateReference = errors.New("duplicate_payment_reference")
)
