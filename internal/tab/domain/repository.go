package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindTab(ctx context.Context, db *gorm.DB, tenantID, tabID snowflake.ID) (*Tab, error)
	// InsertPayment is idempotent on the unique reference: a duplicate
	// reference inserts nothing and reports false.
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	// Balance returns confirmed order totals minus successful payment totals,
	// read within the caller's transaction boundary.
	Balance(ctx context.Context, db *gorm.DB, tenantID, tabID snowflake.ID) (int64, error)
	// CloseIfOverdue closes the tab only if it is currently overdue and
	// reports whether the row changed.
	CloseIfOverdue(ctx context.Context, db *gorm.DB, tenantID, tabID snowflake.ID) (bool, error)
}

var (
	ErrTabNotFound = errors.New("tab_not_found")
)
