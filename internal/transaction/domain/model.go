package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Transaction is one mobile-payment collection attempt. Correlation fields
// are populated progressively: checkout and merchant request IDs at provider
// acknowledgment, the receipt number only on terminal success. Rows are
// never deleted; disputes depend on the full history.
type Transaction struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID             snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	TabID                snowflake.ID  `json:"tab_id" gorm:"not null;index"`
	CustomerID           *snowflake.ID `json:"customer_id,omitempty" gorm:"index"`
	PhoneNumber          string        `json:"phone_number" gorm:"type:text;not null"`
	Amount               int64         `json:"amount" gorm:"not null"`
	Environment          string        `json:"environment" gorm:"type:text;not null"`
	Status               string        `json:"status" gorm:"type:text;not null;index"`
	MerchantRequestID    *string       `json:"merchant_request_id,omitempty" gorm:"type:text"`
	CheckoutRequestID    *string       `json:"checkout_request_id,omitempty" gorm:"type:text;uniqueIndex"`
	ReceiptNumber        *string       `json:"receipt_number,omitempty" gorm:"type:text;uniqueIndex"`
	ResultCode           *int          `json:"result_code,omitempty"`
	FailureReason        *string       `json:"failure_reason,omitempty" gorm:"type:text"`
	RetryOfTransactionID *snowflake.ID `json:"retry_of_transaction_id,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"index"`
}

func (Transaction) TableName() string { return "mpesa_transactions" }

const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusTimeout   = "timeout"
)

// transitions is the complete edge set. A retry is a new transaction with
// RetryOfTransactionID set, so failure-class states have no outgoing edges
// and completed is strictly terminal.
var transitions = map[string]map[string]bool{
	StatusPending: {
		StatusSent: true,
	},
	StatusSent: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
		StatusTimeout:   true,
	},
}

func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsTerminal reports whether status has no outgoing edges.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusSent, StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}
