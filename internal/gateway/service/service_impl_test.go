package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/clock"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/gateway/daraja"
	"github.com/baridihq/baridi/internal/gateway/domain"
	rldomain "github.com/baridihq/baridi/internal/ratelimit/domain"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTenantID = snowflake.ID(101)

type fakeCreds struct {
	creds *credsdomain.Credentials
	err   error
}

func (f *fakeCreds) Get(context.Context, snowflake.ID, string) (*credsdomain.Credentials, error) {
	return f.creds, f.err
}

func (f *fakeCreds) Set(context.Context, credsdomain.SetInput) error { return nil }

type fakeRateLimit struct {
	decision rldomain.Decision
	checks   int
}

func (f *fakeRateLimit) CheckAllowed(context.Context, rldomain.CheckInput) (rldomain.Decision, error) {
	f.checks++
	return f.decision, nil
}

func (f *fakeRateLimit) RecordOutcome(context.Context, rldomain.CheckInput, string) error {
	return nil
}

func (f *fakeRateLimit) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeTransactions struct {
	node            *snowflake.Node
	createFails     int
	transitionFails int
	created         []txndomain.CreateInput
	transitions     []string
}

func (f *fakeTransactions) Create(_ context.Context, input txndomain.CreateInput) (*txndomain.Transaction, error) {
	if f.createFails > 0 {
		f.createFails--
		return nil, errors.New("storage unavailable")
	}
	f.created = append(f.created, input)
	checkout := input.CheckoutRequestID
	return &txndomain.Transaction{
		ID:                f.node.Generate(),
		TenantID:          input.TenantID,
		TabID:             input.TabID,
		Status:            txndomain.StatusPending,
		CheckoutRequestID: &checkout,
	}, nil
}

func (f *fakeTransactions) Transition(_ context.Context, tenantID, id snowflake.ID, from, to string, _ txndomain.TransitionPayload) (*txndomain.Transaction, error) {
	if f.transitionFails > 0 {
		f.transitionFails--
		return nil, errors.New("storage unavailable")
	}
	f.transitions = append(f.transitions, from+"->"+to)
	return &txndomain.Transaction{ID: id, TenantID: tenantID, Status: to}, nil
}

func (f *fakeTransactions) TransitionTx(ctx context.Context, _ *gorm.DB, tenantID, id snowflake.ID, from, to string, payload txndomain.TransitionPayload) (*txndomain.Transaction, error) {
	return f.Transition(ctx, tenantID, id, from, to, payload)
}

func (f *fakeTransactions) FindByID(context.Context, snowflake.ID, snowflake.ID) (*txndomain.Transaction, error) {
	return nil, txndomain.ErrNotFound
}

func (f *fakeTransactions) FindByCheckoutID(context.Context, snowflake.ID, string) (*txndomain.Transaction, error) {
	return nil, txndomain.ErrNotFound
}

func (f *fakeTransactions) ListStuckSent(context.Context, time.Time, int) ([]txndomain.Transaction, error) {
	return nil, nil
}

type auditSpy struct {
	entries []auditdomain.Entry
}

func (a *auditSpy) Record(_ context.Context, entry auditdomain.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditSpy) RecordTx(_ context.Context, _ *gorm.DB, entry auditdomain.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func (a *auditSpy) VerifyIntegrity(context.Context, snowflake.ID, snowflake.ID) (bool, error) {
	return true, nil
}

func (a *auditSpy) List(context.Context, auditdomain.ListFilter) ([]auditdomain.AuditEvent, error) {
	return nil, nil
}

func (a *auditSpy) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

type fixture struct {
	svc   domain.Service
	rl    *fakeRateLimit
	txns  *fakeTransactions
	audit *auditSpy
}

func setupService(t *testing.T, baseURL string, rl *fakeRateLimit, creds *fakeCreds) *fixture {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	client := daraja.NewClient(daraja.Config{
		SandboxBaseURL:    baseURL,
		ProductionBaseURL: baseURL,
		TokenTimeout:      2 * time.Second,
		PushTimeout:       2 * time.Second,
	}, zap.NewNop(), nil)

	txns := &fakeTransactions{node: node}
	spy := &auditSpy{}
	svc := NewService(Params{
		Log:          zap.NewNop(),
		Clock:        clock.NewFakeClock(time.Date(2025, 6, 1, 14, 30, 45, 0, time.UTC)),
		Client:       client,
		CallbackURL:  "https://pay.example.test/webhooks/mpesa",
		Credentials:  creds,
		RateLimit:    rl,
		Transactions: txns,
		Audit:        spy,
	})
	return &fixture{svc: svc, rl: rl, txns: txns, audit: spy}
}

func sandboxCreds() *fakeCreds {
	return &fakeCreds{creds: &credsdomain.Credentials{
		Shortcode:      "174379",
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		Passkey:        "pk",
	}}
}

func initiateInput() domain.InitiateInput {
	return domain.InitiateInput{
		TenantID:    testTenantID,
		TabID:       snowflake.ID(5001),
		PhoneNumber: "254708374149",
		Amount:      500,
		Environment: credsdomain.EnvironmentSandbox,
		IPAddress:   "203.0.113.9",
	}
}

func darajaHandler(t *testing.T, pushHits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
		case r.URL.Path == "/mpesa/stkpush/v1/processrequest":
			atomic.AddInt32(pushHits, 1)
			var req daraja.PushRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad push body: %v", err)
			}
			if req.Timestamp != "20250601143045" {
				t.Errorf("timestamp = %s", req.Timestamp)
			}
			if req.PartyB != "174379" || req.PhoneNumber != "254708374149" {
				t.Errorf("bad push fields: %+v", req)
			}
			json.NewEncoder(w).Encode(daraja.PushResponse{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_100",
				ResponseCode:      "0",
				CustomerMessage:   "Success. Request accepted for processing",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestInitiateHappyPath(t *testing.T) {
	var pushHits int32
	srv := httptest.NewServer(darajaHandler(t, &pushHits))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, sandboxCreds())
	result, err := f.svc.Initiate(context.Background(), initiateInput())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.CheckoutRequestID != "ws_CO_100" {
		t.Fatalf("checkout id = %s", result.CheckoutRequestID)
	}
	if len(f.txns.created) != 1 {
		t.Fatalf("expected 1 transaction created, got %d", len(f.txns.created))
	}
	if f.txns.created[0].CheckoutRequestID != "ws_CO_100" {
		t.Fatalf("transaction missing checkout id: %+v", f.txns.created[0])
	}
	if len(f.txns.transitions) != 1 || f.txns.transitions[0] != "pending->sent" {
		t.Fatalf("transitions = %v", f.txns.transitions)
	}

	var sawInitiated bool
	for _, entry := range f.audit.entries {
		if entry.EventType == auditdomain.EventPaymentInitiated {
			sawInitiated = true
		}
	}
	if !sawInitiated {
		t.Fatal("expected payment_initiated audit entry")
	}
}

func TestInitiateBlockedBeforeProviderCall(t *testing.T) {
	var pushHits int32
	srv := httptest.NewServer(darajaHandler(t, &pushHits))
	defer srv.Close()

	blocked := &fakeRateLimit{decision: rldomain.Decision{
		Allowed:      false,
		RiskScore:    60,
		BlockedUntil: time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC),
		Reason:       "repeated_failed_attempts",
	}}
	f := setupService(t, srv.URL, blocked, sandboxCreds())

	_, err := f.svc.Initiate(context.Background(), initiateInput())
	var rateErr *domain.RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateErr.RetryAfter <= 0 {
		t.Fatalf("retry-after not set: %s", rateErr.RetryAfter)
	}
	if atomic.LoadInt32(&pushHits) != 0 {
		t.Fatal("blocked attempt must not reach the provider")
	}
	if len(f.txns.created) != 0 {
		t.Fatal("blocked attempt must not create a transaction")
	}
}

func TestInitiateCredentialsNotConfigured(t *testing.T) {
	var pushHits int32
	srv := httptest.NewServer(darajaHandler(t, &pushHits))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, &fakeCreds{err: credsdomain.ErrNotConfigured})
	_, err := f.svc.Initiate(context.Background(), initiateInput())
	if !errors.Is(err, credsdomain.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if atomic.LoadInt32(&pushHits) != 0 {
		t.Fatal("unconfigured tenant must not reach the provider")
	}
}

func TestInitiateRefreshesTokenOn401(t *testing.T) {
	var tokenHits, pushHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			n := atomic.AddInt32(&tokenHits, 1)
			token := "tok-stale"
			if n > 1 {
				token = "tok-fresh"
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": token, "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			atomic.AddInt32(&pushHits, 1)
			if r.Header.Get("Authorization") != "Bearer tok-fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(daraja.PushResponse{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_101",
				ResponseCode:      "0",
			})
		}
	}))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, sandboxCreds())
	result, err := f.svc.Initiate(context.Background(), initiateInput())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.CheckoutRequestID != "ws_CO_101" {
		t.Fatalf("checkout id = %s", result.CheckoutRequestID)
	}
	if atomic.LoadInt32(&tokenHits) != 2 {
		t.Fatalf("expected lazy token refresh, token hits = %d", tokenHits)
	}
}

func TestInitiatePersistRetriedAfterAck(t *testing.T) {
	var pushHits int32
	srv := httptest.NewServer(darajaHandler(t, &pushHits))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, sandboxCreds())
	f.txns.createFails = 2

	result, err := f.svc.Initiate(context.Background(), initiateInput())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.CheckoutRequestID != "ws_CO_100" {
		t.Fatalf("checkout id = %s", result.CheckoutRequestID)
	}
	if atomic.LoadInt32(&pushHits) != 1 {
		t.Fatal("persist retries must not push again")
	}
	if len(f.txns.created) != 1 {
		t.Fatalf("expected the acked push to be recorded once, got %d", len(f.txns.created))
	}
}

func TestInitiateCallbackURLCarriesTenant(t *testing.T) {
	var gotCallback string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			var req daraja.PushRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad push body: %v", err)
			}
			gotCallback = req.CallBackURL
			json.NewEncoder(w).Encode(daraja.PushResponse{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_102",
				ResponseCode:      "0",
			})
		}
	}))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, sandboxCreds())
	if _, err := f.svc.Initiate(context.Background(), initiateInput()); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if want := "https://pay.example.test/webhooks/mpesa/" + testTenantID.String(); gotCallback != want {
		t.Fatalf("callback url = %q, want %q", gotCallback, want)
	}
}

func TestCallbackURLTemplateRendering(t *testing.T) {
	svc := &Service{callbackURL: "https://pay.example.test/hooks/{tenant_id}/mpesa"}
	if got := svc.callbackFor(testTenantID); got != "https://pay.example.test/hooks/101/mpesa" {
		t.Fatalf("rendered url = %q", got)
	}

	svc.callbackURL = "https://pay.example.test/webhooks/mpesa/"
	if got := svc.callbackFor(testTenantID); got != "https://pay.example.test/webhooks/mpesa/101" {
		t.Fatalf("rendered url = %q", got)
	}
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no provider call expected")
	}))
	defer srv.Close()

	f := setupService(t, srv.URL, &fakeRateLimit{decision: rldomain.Decision{Allowed: true}}, sandboxCreds())
	input := initiateInput()
	input.Amount = 0
	if _, err := f.svc.Initiate(context.Background(), input); !errors.Is(err, txndomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
