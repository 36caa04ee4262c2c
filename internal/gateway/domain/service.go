package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InitiateInput struct {
	TenantID             snowflake.ID
	TabID                snowflake.ID
	CustomerID           *snowflake.ID
	PhoneNumber          string
	Amount               int64
	Environment          string
	IPAddress            string
	RetryOfTransactionID *snowflake.ID
}

type InitiateResult struct {
	TransactionID     snowflake.ID
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
}

type Service interface {
	// Initiate runs the full initiation pipeline: abuse check, credential
	// lookup, token, provider push, then the durable pending -> sent record.
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
}

// RateLimitedError carries the retry-after hint for blocked attempts.
type RateLimitedError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate_limited: reason=%s retry_after=%s", e.Reason, e.RetryAfter)
}
