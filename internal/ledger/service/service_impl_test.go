package service

import (
	"context"
	"testing"
	"time"

	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/ledger/domain"
	tabdomain "github.com/baridihq/baridi/internal/tab/domain"
	tabrepo "github.com/baridihq/baridi/internal/tab/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testTenantID   = snowflake.ID(101)
	testCustomerID = snowflake.ID(77)
)

func setupService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stmts := []string{
		`CREATE TABLE tabs (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			customer_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			tab_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			total INTEGER NOT NULL,
			created_at DATETIME
		)`,
		`CREATE TABLE tab_payments (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			tab_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			reference TEXT UNIQUE,
			metadata TEXT,
			created_at DATETIME
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() {
		db.Exec(`DROP TABLE tab_payments`)
		db.Exec(`DROP TABLE orders`)
		db.Exec(`DROP TABLE tabs`)
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)),
		Tabs:  tabrepo.Provide(),
	})
	return svc, db
}

func seedTab(t *testing.T, db *gorm.DB, tabID snowflake.ID, status string, orderTotals ...int64) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO tabs (id, tenant_id, customer_id, status) VALUES (?, ?, ?, ?)`,
		tabID, testTenantID, testCustomerID, status,
	).Error
	if err != nil {
		t.Fatalf("seed tab: %v", err)
	}
	for i, total := range orderTotals {
		err := db.Exec(
			`INSERT INTO orders (id, tenant_id, tab_id, status, total) VALUES (?, ?, ?, ?, ?)`,
			int64(tabID)*100+int64(i), testTenantID, tabID, tabdomain.OrderStatusConfirmed, total,
		).Error
		if err != nil {
			t.Fatalf("seed order: %v", err)
		}
	}
}

func tabStatus(t *testing.T, db *gorm.DB, tabID snowflake.ID) string {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM tabs WHERE id = ?`, tabID).Scan(&status).Error; err != nil {
		t.Fatalf("read tab status: %v", err)
	}
	return status
}

func TestRecordInsertsPayment(t *testing.T) {
	svc, db := setupService(t)
	tabID := snowflake.ID(5001)
	seedTab(t, db, tabID, tabdomain.TabStatusOpen, 1500)

	payment, err := svc.Record(context.Background(), domain.RecordInput{
		TenantID:  testTenantID,
		TabID:     tabID,
		Amount:    500,
		Method:    tabdomain.PaymentMethodMpesa,
		Reference: "TAB12XYZ01",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if payment.Status != tabdomain.PaymentStatusSuccess {
		t.Fatalf("expected success status, got %s", payment.Status)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM tab_payments WHERE tab_id = ?`, tabID).Scan(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 payment, got %d", count)
	}
}

func TestRecordNeverClosesNonOverdueTab(t *testing.T) {
	svc, db := setupService(t)
	tabID := snowflake.ID(5002)
	seedTab(t, db, tabID, tabdomain.TabStatusOpen, 1000)

	// Overpay an open tab: balance goes negative, status must not move.
	_, err := svc.Record(context.Background(), domain.RecordInput{
		TenantID:  testTenantID,
		TabID:     tabID,
		Amount:    2000,
		Method:    tabdomain.PaymentMethodMpesa,
		Reference: "TAB12XYZ02",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := tabStatus(t, db, tabID); got != tabdomain.TabStatusOpen {
		t.Fatalf("open tab changed status to %s", got)
	}
}

func TestRecordClosesSettledOverdueTab(t *testing.T) {
	svc, db := setupService(t)
	tabID := snowflake.ID(5003)
	seedTab(t, db, tabID, tabdomain.TabStatusOverdue, 1000)

	// Partial payment leaves a positive balance: still overdue.
	_, err := svc.Record(context.Background(), domain.RecordInput{
		TenantID:  testTenantID,
		TabID:     tabID,
		Amount:    400,
		Method:    tabdomain.PaymentMethodMpesa,
		Reference: "TAB12XYZ03",
	})
	if err != nil {
		t.Fatalf("record partial: %v", err)
	}
	if got := tabStatus(t, db, tabID); got != tabdomain.TabStatusOverdue {
		t.Fatalf("partially paid tab moved to %s", got)
	}

	// Settling the remainder drives balance to zero: auto-close fires.
	_, err = svc.Record(context.Background(), domain.RecordInput{
		TenantID:  testTenantID,
		TabID:     tabID,
		Amount:    600,
		Method:    tabdomain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("record settlement: %v", err)
	}
	if got := tabStatus(t, db, tabID); got != tabdomain.TabStatusClosed {
		t.Fatalf("settled overdue tab is %s, want closed", got)
	}
}

func TestRecordRejectsDuplicateReference(t *testing.T) {
	svc, db := setupService(t)
	tabID := snowflake.ID(5004)
	seedTab(t, db, tabID, tabdomain.TabStatusOpen, 1000)

	input := domain.RecordInput{
		TenantID:  testTenantID,
		TabID:     tabID,
		Amount:    300,
		Method:    tabdomain.PaymentMethodMpesa,
		Reference: "TAB12XYZ04",
	}
	if _, err := svc.Record(context.Background(), input); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := svc.Record(context.Background(), input); err != domain.ErrDuplicateReference {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM tab_payments WHERE tab_id = ?`, tabID).Scan(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 payment after duplicate, got %d", count)
	}
}

func TestRecordValidatesInput(t *testing.T) {
	svc, db := setupService(t)
	tabID := snowflake.ID(5005)
	seedTab(t, db, tabID, tabdomain.TabStatusOpen, 1000)

	_, err := svc.Record(context.Background(), domain.RecordInput{
		TenantID: testTenantID,
		TabID:    tabID,
		Amount:   0,
		Method:   tabdomain.PaymentMethodMpesa,
	})
	if err != domain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	_, err = svc.Record(context.Background(), domain.RecordInput{
		TenantID: testTenantID,
		TabID:    tabID,
		Amount:   100,
		Method:   "voucher",
	})
	if err != domain.ErrInvalidMethod {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}

	_, err = svc.Record(context.Background(), domain.RecordInput{
		TenantID: testTenantID,
		TabID:    snowflake.ID(999999),
		Amount:   100,
		Method:   tabdomain.PaymentMethodCash,
	})
	if err != tabdomain.ErrTabNotFound {
		t.Fatalf("expected ErrTabNotFound, got %v", err)
	}
}
