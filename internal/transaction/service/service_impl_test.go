package service

import (
	"context"
	"testing"
	"time"

	"github.com/baridihq/baridi/internal/clock"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/baridihq/baridi/internal/transaction/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testTenantID = snowflake.ID(101)

func setupService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=foreign_keys(1)"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	err = db.Exec(`CREATE TABLE mpesa_transactions (
		id INTEGER PRIMARY KEY,
		tenant_id INTEGER NOT NULL,
		tab_id INTEGER NOT NULL,
		customer_id INTEGER,
		phone_number TEXT NOT NULL,
		amount INTEGER NOT NULL,
		environment TEXT NOT NULL,
		status TEXT NOT NULL,
		merchant_request_id TEXT,
		checkout_request_id TEXT UNIQUE,
		receipt_number TEXT UNIQUE,
		result_code INTEGER,
		failure_reason TEXT,
		retry_of_transaction_id INTEGER,
		created_at DATETIME,
		updated_at DATETIME
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DROP TABLE mpesa_transactions`)
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  repository.Provide(),
	})
	return svc, db, fake
}

func createSent(t *testing.T, svc domain.Service, checkoutID string) *domain.Transaction {
	t.Helper()
	txn, err := svc.Create(context.Background(), domain.CreateInput{
		TenantID:          testTenantID,
		TabID:             snowflake.ID(5001),
		PhoneNumber:       "254708374149",
		Amount:            500,
		Environment:       credsdomain.EnvironmentSandbox,
		MerchantRequestID: "mr-" + checkoutID,
		CheckoutRequestID: checkoutID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	txn, err = svc.Transition(context.Background(), testTenantID, txn.ID, domain.StatusPending, domain.StatusSent, domain.TransitionPayload{})
	if err != nil {
		t.Fatalf("transition to sent: %v", err)
	}
	return txn
}

func storedStatus(t *testing.T, db *gorm.DB, id snowflake.ID) string {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM mpesa_transactions WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	return status
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, _, _ := setupService(t)
	txn := createSent(t, svc, "ws_CO_happy")

	completed, err := svc.Transition(context.Background(), testTenantID, txn.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{
		ReceiptNumber: "TAB12XYZ10",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}
	if completed.ReceiptNumber == nil || *completed.ReceiptNumber != "TAB12XYZ10" {
		t.Fatalf("receipt not recorded: %+v", completed.ReceiptNumber)
	}
}

func TestClosureRejectsUnlistedEdges(t *testing.T) {
	svc, db, _ := setupService(t)
	txn := createSent(t, svc, "ws_CO_closure")

	all := []string{
		domain.StatusPending, domain.StatusSent, domain.StatusCompleted,
		domain.StatusFailed, domain.StatusCancelled, domain.StatusTimeout,
	}
	for _, from := range all {
		for _, to := range all {
			if domain.CanTransition(from, to) {
				continue
			}
			_, err := svc.Transition(context.Background(), testTenantID, txn.ID, from, to, domain.TransitionPayload{})
			if err != domain.ErrInvalidTransition {
				t.Fatalf("transition %s -> %s: expected ErrInvalidTransition, got %v", from, to, err)
			}
			if got := storedStatus(t, db, txn.ID); got != domain.StatusSent {
				t.Fatalf("transition %s -> %s mutated stored status to %s", from, to, got)
			}
		}
	}
}

func TestCompletedIsStrictlyTerminal(t *testing.T) {
	svc, db, _ := setupService(t)
	txn := createSent(t, svc, "ws_CO_terminal")

	_, err := svc.Transition(context.Background(), testTenantID, txn.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{
		ReceiptNumber: "TAB12XYZ11",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, to := range []string{domain.StatusPending, domain.StatusSent, domain.StatusFailed, domain.StatusCancelled, domain.StatusTimeout} {
		_, err := svc.Transition(context.Background(), testTenantID, txn.ID, domain.StatusCompleted, to, domain.TransitionPayload{})
		if err != domain.ErrInvalidTransition {
			t.Fatalf("completed -> %s: expected ErrInvalidTransition, got %v", to, err)
		}
	}
	if got := storedStatus(t, db, txn.ID); got != domain.StatusCompleted {
		t.Fatalf("completed transaction mutated to %s", got)
	}
}

func TestRacingCompletionHasOneWinner(t *testing.T) {
	svc, _, _ := setupService(t)
	txn := createSent(t, svc, "ws_CO_race")
	ctx := context.Background()

	// Two callbacks race sent -> completed. The compare-and-swap lets
	// exactly one through; the loser sees InvalidTransition.
	if _, err := svc.Transition(ctx, testTenantID, txn.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{ReceiptNumber: "TAB12XYZ12"}); err != nil {
		t.Fatalf("winner: %v", err)
	}
	_, err := svc.Transition(ctx, testTenantID, txn.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{ReceiptNumber: "TAB12XYZ13"})
	if err != domain.ErrInvalidTransition {
		t.Fatalf("loser: expected ErrInvalidTransition, got %v", err)
	}
}

func TestDuplicateCheckoutIDRejected(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	input := domain.CreateInput{
		TenantID:          testTenantID,
		TabID:             snowflake.ID(5001),
		PhoneNumber:       "254708374149",
		Amount:            500,
		Environment:       credsdomain.EnvironmentSandbox,
		CheckoutRequestID: "ws_CO_dup",
	}
	if _, err := svc.Create(ctx, input); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(ctx, input); err != domain.ErrDuplicateCheckoutID {
		t.Fatalf("expected ErrDuplicateCheckoutID, got %v", err)
	}
}

func TestDuplicateReceiptRejected(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	first := createSent(t, svc, "ws_CO_rcpt_a")
	second := createSent(t, svc, "ws_CO_rcpt_b")

	if _, err := svc.Transition(ctx, testTenantID, first.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{ReceiptNumber: "TAB12XYZ14"}); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	_, err := svc.Transition(ctx, testTenantID, second.ID, domain.StatusSent, domain.StatusCompleted, domain.TransitionPayload{ReceiptNumber: "TAB12XYZ14"})
	if err != domain.ErrDuplicateReceipt {
		t.Fatalf("expected ErrDuplicateReceipt, got %v", err)
	}
}

func TestFailurePathRecordsReason(t *testing.T) {
	svc, _, _ := setupService(t)
	txn := createSent(t, svc, "ws_CO_fail")

	code := 1032
	failed, err := svc.Transition(context.Background(), testTenantID, txn.ID, domain.StatusSent, domain.StatusFailed, domain.TransitionPayload{
		ResultCode:    &code,
		FailureReason: "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.ResultCode == nil || *failed.ResultCode != 1032 {
		t.Fatalf("result code not recorded: %+v", failed.ResultCode)
	}
	if failed.FailureReason == nil || *failed.FailureReason != "Request cancelled by user" {
		t.Fatalf("failure reason not recorded: %+v", failed.FailureReason)
	}
}

func TestTenantScopeOnLookup(t *testing.T) {
	svc, _, _ := setupService(t)
	createSent(t, svc, "ws_CO_scope")

	_, err := svc.FindByCheckoutID(context.Background(), snowflake.ID(999), "ws_CO_scope")
	if err != domain.ErrNotFound {
		t.Fatalf("cross-tenant lookup: expected ErrNotFound, got %v", err)
	}
}

func TestListStuckSent(t *testing.T) {
	svc, _, fake := setupService(t)
	ctx := context.Background()

	stale := createSent(t, svc, "ws_CO_stale")
	fake.Advance(6 * time.Minute)
	fresh := createSent(t, svc, "ws_CO_fresh")

	stuck, err := svc.ListStuckSent(ctx, fake.Now().Add(-5*time.Minute), 100)
	if err != nil {
		t.Fatalf("list stuck: %v", err)
	}
	if len(stuck) != 1 {
		t.Fatalf("expected 1 stuck transaction, got %d", len(stuck))
	}
	if stuck[0].ID != stale.ID {
		t.Fatalf("wrong stuck transaction: got %s want %s", stuck[0].ID, stale.ID)
	}
	if stuck[0].ID == fresh.ID {
		t.Fatal("fresh transaction must not be swept")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateInput{
		TenantID:    testTenantID,
		TabID:       snowflake.ID(5001),
		PhoneNumber: "254708374149",
		Amount:      0,
		Environment: credsdomain.EnvironmentSandbox,
	})
	if err != domain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	_, err = svc.Create(ctx, domain.CreateInput{
		TenantID:    testTenantID,
		TabID:       snowflake.ID(5001),
		PhoneNumber: "254708374149",
		Amount:      100,
		Environment: "staging",
	})
	if err != domain.ErrInvalidEnvironment {
		t.Fatalf("expected ErrInvalidEnvironment, got %v", err)
	}
}

func TestRetryCreatesFreshTransaction(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	original := createSent(t, svc, "ws_CO_retry_a")
	code := 1032
	if _, err := svc.Transition(ctx, testTenantID, original.ID, domain.StatusSent, domain.StatusFailed, domain.TransitionPayload{ResultCode: &code}); err != nil {
		t.Fatalf("fail original: %v", err)
	}

	retry, err := svc.Create(ctx, domain.CreateInput{
		TenantID:             testTenantID,
		TabID:                original.TabID,
		PhoneNumber:          original.PhoneNumber,
		Amount:               original.Amount,
		Environment:          original.Environment,
		CheckoutRequestID:    "ws_CO_retry_b",
		RetryOfTransactionID: &original.ID,
	})
	if err != nil {
		t.Fatalf("create retry: %v", err)
	}
	if retry.ID == original.ID {
		t.Fatal("retry must be a new transaction")
	}
	if retry.RetryOfTransactionID == nil || *retry.RetryOfTransactionID != original.ID {
		t.Fatal("retry back-reference missing")
	}

	// The failed original cannot be recycled to pending.
	_, err = svc.Transition(ctx, testTenantID, original.ID, domain.StatusFailed, domain.StatusPending, domain.TransitionPayload{})
	if err != domain.ErrInvalidTransition {
		t.Fatalf("recycle-in-place: expected ErrInvalidTransition, got %v", err)
	}
}
