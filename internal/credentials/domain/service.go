package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type SetInput struct {
	TenantID       snowflake.ID
	Environment    string
	Shortcode      string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
}

type Service interface {
	// Get returns the decrypted credential set for the pair, or
	// ErrNotConfigured when the tenant has not completed setup.
	Get(ctx context.Context, tenantID snowflake.ID, environment string) (*Credentials, error)
	// Set stores (or rotates) the credential set atomically: exactly one
	// active set per (tenant, environment) pair at all times.
	Set(ctx context.Context, input SetInput) error
}

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, environment string) (*MpesaCredential, error)
	Upsert(ctx context.Context, db *gorm.DB, credential *MpesaCredential) error
}

var (
	ErrNotConfigured      = errors.New("credentials_not_configured")
	ErrInvalidEnvironment = errors.New("invalid_environment")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)
