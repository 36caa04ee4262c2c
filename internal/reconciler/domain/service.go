package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Resolution labels how a callback was settled. Every branch Acks the
// provider except a storage failure, which returns an error so the provider
// retries delivery.
const (
	ResolutionCompleted = "completed"
	ResolutionFailed    = "failed"
	ResolutionDuplicate = "duplicate"
	ResolutionUnknown   = "unknown_transaction"
	ResolutionInvalid   = "invalid_payload"
)

type Result struct {
	Resolution string
}

type Service interface {
	HandleCallback(ctx context.Context, tenantID snowflake.ID, payload []byte) (Result, error)
}
