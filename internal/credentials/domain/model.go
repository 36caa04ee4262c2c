package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MpesaCredential is the stored, sealed Daraja credential set for one
// (tenant, environment) pair. SealedData holds the AES-GCM envelope; the
// shortcode stays cleartext for diagnostics and display.
type MpesaCredential struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID    snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:idx_credentials_tenant_env"`
	Environment string         `json:"environment" gorm:"type:text;not null;uniqueIndex:idx_credentials_tenant_env"`
	Shortcode   string         `json:"shortcode" gorm:"type:text;not null"`
	SealedData  datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (MpesaCredential) TableName() string { return "mpesa_credentials" }

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Credentials is the decrypted credential set. It lives only in process
// memory and must never be logged or persisted in the clear.
type Credentials struct {
	Shortcode      string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
}
