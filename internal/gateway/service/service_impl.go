package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/clock"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/gateway/daraja"
	"github.com/baridihq/baridi/internal/gateway/domain"
	"github.com/baridihq/baridi/internal/observability/metrics"
	rldomain "github.com/baridihq/baridi/internal/ratelimit/domain"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	transactionType = "CustomerPayBillOnline"

	// tenantPlaceholder marks where the initiating tenant goes in the
	// configured callback URL template.
	tenantPlaceholder = "{tenant_id}"

	// persistAttempts bounds the durable-write retry after a provider ack.
	// An acked push with no local row is unrecoverable, so the write is
	// retried hard before giving up.
	persistAttempts = 5
	persistBackoff  = 100 * time.Millisecond
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Client       *daraja.Client
	CallbackURL  string `name:"daraja_callback_url"`
	Credentials  credsdomain.Service
	RateLimit    rldomain.Service
	Transactions txndomain.Service
	Audit        auditdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	client       *daraja.Client
	callbackURL  string
	credentials  credsdomain.Service
	ratelimit    rldomain.Service
	transactions txndomain.Service
	audit        auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("gateway.service"),
		clock:        p.Clock,
		client:       p.Client,
		callbackURL:  p.CallbackURL,
		credentials:  p.Credentials,
		ratelimit:    p.RateLimit,
		transactions: p.Transactions,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

func (s *Service) Initiate(ctx context.Context, input domain.InitiateInput) (*domain.InitiateResult, error) {
	if input.Amount <= 0 {
		return nil, txndomain.ErrInvalidAmount
	}

	decision, err := s.ratelimit.CheckAllowed(ctx, rldomain.CheckInput{
		TenantID:    input.TenantID,
		CustomerID:  input.CustomerID,
		PhoneNumber: input.PhoneNumber,
		IPAddress:   input.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.count(input.Environment, "rate_limited")
		return nil, &domain.RateLimitedError{
			RetryAfter: decision.BlockedUntil.Sub(s.clock.Now().UTC()),
			Reason:     decision.Reason,
		}
	}

	creds, err := s.credentials.Get(ctx, input.TenantID, input.Environment)
	if err != nil {
		s.count(input.Environment, "credentials_missing")
		return nil, err
	}

	ack, err := s.push(ctx, input, creds)
	if err != nil {
		s.count(input.Environment, "push_failed")
		return nil, err
	}

	txn, err := s.persistSent(ctx, input, ack)
	if err != nil {
		return nil, err
	}
	s.count(input.Environment, "accepted")

	if err := s.audit.Record(ctx, auditdomain.Entry{
		TenantID:      input.TenantID,
		EventType:     auditdomain.EventPaymentInitiated,
		Category:      auditdomain.CategoryPayment,
		TransactionID: &txn.ID,
		TabID:         &input.TabID,
		CustomerID:    input.CustomerID,
		Data: map[string]any{
			"transaction_id":      txn.ID.String(),
			"amount":              fmt.Sprintf("%d", input.Amount),
			"environment":         input.Environment,
			"checkout_request_id": ack.CheckoutRequestID,
		},
	}); err != nil {
		s.log.Warn("initiation audit failed", zap.Error(err))
	}

	return &domain.InitiateResult{
		TransactionID:     txn.ID,
		CheckoutRequestID: ack.CheckoutRequestID,
		MerchantRequestID: ack.MerchantRequestID,
		CustomerMessage:   ack.CustomerMessage,
	}, nil
}

func (s *Service) push(ctx context.Context, input domain.InitiateInput, creds *credsdomain.Credentials) (*daraja.PushResponse, error) {
	token, err := s.client.Token(ctx, input.Environment, creds.ConsumerKey, creds.ConsumerSecret)
	if err != nil {
		return nil, err
	}

	password, timestamp := daraja.Password(creds.Shortcode, creds.Passkey, s.clock.Now())
	request := daraja.PushRequest{
		BusinessShortCode: creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            input.Amount,
		PartyA:            input.PhoneNumber,
		PartyB:            creds.Shortcode,
		PhoneNumber:       input.PhoneNumber,
		CallBackURL:       s.callbackFor(input.TenantID),
		AccountReference:  input.TabID.String(),
		TransactionDesc:   "Tab payment",
	}

	ack, err := s.client.Push(ctx, input.Environment, token, request)
	if errors.Is(err, daraja.ErrUnauthorized) {
		// Cached token may have expired server-side; refresh once.
		s.client.InvalidateToken(input.Environment, creds.ConsumerKey)
		token, err = s.client.Token(ctx, input.Environment, creds.ConsumerKey, creds.ConsumerSecret)
		if err != nil {
			return nil, err
		}
		ack, err = s.client.Push(ctx, input.Environment, token, request)
	}
	return ack, err
}

// callbackFor renders the registered callback URL for one tenant. The
// webhook route is tenant-scoped, so the URL Daraja calls back must carry
// the initiating tenant: a {tenant_id} placeholder in the template is
// substituted, otherwise the tenant is appended as the final path segment.
func (s *Service) callbackFor(tenantID snowflake.ID) string {
	if strings.Contains(s.callbackURL, tenantPlaceholder) {
		return strings.ReplaceAll(s.callbackURL, tenantPlaceholder, tenantID.String())
	}
	return strings.TrimSuffix(s.callbackURL, "/") + "/" + tenantID.String()
}

// persistSent records the acked push as a transaction in sent. The ack is
// the source of truth that the provider has the request, so the write is
// retried until durable before the initiation is reported.
func (s *Service) persistSent(ctx context.Context, input domain.InitiateInput, ack *daraja.PushResponse) (*txndomain.Transaction, error) {
	var (
		txn     *txndomain.Transaction
		lastErr error
	)
	backoff := persistBackoff
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if txn == nil {
			created, err := s.transactions.Create(ctx, txndomain.CreateInput{
				TenantID:             input.TenantID,
				TabID:                input.TabID,
				CustomerID:           input.CustomerID,
				PhoneNumber:          input.PhoneNumber,
				Amount:               input.Amount,
				Environment:          input.Environment,
				MerchantRequestID:    ack.MerchantRequestID,
				CheckoutRequestID:    ack.CheckoutRequestID,
				RetryOfTransactionID: input.RetryOfTransactionID,
			})
			if err != nil {
				lastErr = err
				continue
			}
			txn = created
		}

		sent, err := s.transactions.Transition(ctx, input.TenantID, txn.ID, txndomain.StatusPending, txndomain.StatusSent, txndomain.TransitionPayload{})
		if errors.Is(err, txndomain.ErrInvalidTransition) {
			// An early callback can promote the row past pending before
			// this loop gets to it. The record is already durable.
			current, findErr := s.transactions.FindByID(ctx, input.TenantID, txn.ID)
			if findErr != nil {
				lastErr = findErr
				continue
			}
			return current, nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		return sent, nil
	}

	s.log.Error("acked push could not be persisted",
		zap.String("checkout_request_id", ack.CheckoutRequestID),
		zap.String("merchant_request_id", ack.MerchantRequestID),
		zap.String("tenant_id", input.TenantID.String()),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("persist acknowledged push: %w", lastErr)
}

func (s *Service) count(environment, outcome string) {
	if s.metrics != nil {
		s.metrics.PaymentsInitiated.WithLabelValues(environment, outcome).Inc()
	}
}
