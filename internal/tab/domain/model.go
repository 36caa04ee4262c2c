package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tab is a customer's running bill. Balance is always computed, never stored:
// confirmed order totals minus successful payment totals.
type Tab struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	CustomerID snowflake.ID `json:"customer_id" gorm:"not null;index"`
	Status     string       `json:"status" gorm:"type:text;not null"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (Tab) TableName() string { return "tabs" }

type Order struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	TabID     snowflake.ID `json:"tab_id" gorm:"not null;index"`
	Status    string       `json:"status" gorm:"type:text;not null"`
	Total     int64        `json:"total" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Order) TableName() string { return "orders" }

// Payment is the tenant-visible ledger entry for money received against a
// tab. Reference carries the provider receipt for mpesa and is unique so a
// receipt can never be booked twice.
type Payment struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID   `json:"tenant_id" gorm:"not null;index"`
	TabID     snowflake.ID   `json:"tab_id" gorm:"not null;index"`
	Amount    int64          `json:"amount" gorm:"not null"`
	Method    string         `json:"method" gorm:"type:text;not null"`
	Status    string         `json:"status" gorm:"type:text;not null"`
	Reference *string        `json:"reference,omitempty" gorm:"type:text;uniqueIndex"`
	Metadata  datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"created_at"`
}

func (Payment) TableName() string { return "tab_payments" }

const (
	TabStatusOpen    = "open"
	TabStatusOverdue = "overdue"
	TabStatusClosed  = "closed"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

const (
	PaymentMethodCash  = "cash"
	PaymentMethodMpesa = "mpesa"
	PaymentMethodCard  = "card"
)
