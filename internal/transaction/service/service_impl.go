package service

import (
	"context"
	"time"

	"github.com/baridihq/baridi/internal/clock"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/observability/metrics"
	"github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("transaction.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateInput) (*domain.Transaction, error) {
	if input.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if input.Environment != credsdomain.EnvironmentSandbox && input.Environment != credsdomain.EnvironmentProduction {
		return nil, domain.ErrInvalidEnvironment
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	txn := &domain.Transaction{
		ID:                   s.genID.Generate(),
		TenantID:             input.TenantID,
		TabID:                input.TabID,
		CustomerID:           input.CustomerID,
		PhoneNumber:          input.PhoneNumber,
		Amount:               input.Amount,
		Environment:          input.Environment,
		Status:               domain.StatusPending,
		RetryOfTransactionID: input.RetryOfTransactionID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if input.MerchantRequestID != "" {
		txn.MerchantRequestID = &input.MerchantRequestID
	}
	if input.CheckoutRequestID != "" {
		txn.CheckoutRequestID = &input.CheckoutRequestID
	}

	if err := s.repo.Insert(ctx, s.db, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) Transition(ctx context.Context, tenantID, id snowflake.ID, fromExpected, to string, payload domain.TransitionPayload) (*domain.Transaction, error) {
	return s.TransitionTx(ctx, s.db, tenantID, id, fromExpected, to, payload)
}

func (s *Service) TransitionTx(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, fromExpected, to string, payload domain.TransitionPayload) (*domain.Transaction, error) {
	// Closure check first: an edge outside the table is rejected before any
	// storage access, so the stored status cannot change.
	if !domain.CanTransition(fromExpected, to) {
		s.log.Warn("rejected transition",
			zap.String("transaction_id", id.String()),
			zap.String("from", fromExpected),
			zap.String("to", to),
		)
		return nil, domain.ErrInvalidTransition
	}

	txn := &domain.Transaction{
		ID:        id,
		TenantID:  tenantID,
		Status:    to,
		UpdatedAt: s.clock.Now().UTC().Truncate(time.Second),
	}
	if payload.ReceiptNumber != "" {
		txn.ReceiptNumber = &payload.ReceiptNumber
	}
	txn.ResultCode = payload.ResultCode
	if payload.FailureReason != "" {
		txn.FailureReason = &payload.FailureReason
	}

	won, err := s.repo.UpdateStatus(ctx, tx, txn, fromExpected)
	if err != nil {
		return nil, err
	}
	if !won {
		// Either the row does not exist or a concurrent writer moved it
		// first. Distinguish so a race reads as InvalidTransition, which
		// callers treat as control flow.
		current, err := s.repo.FindByID(ctx, tx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInvalidTransition
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(fromExpected, to).Inc()
	}
	s.log.Info("transaction transitioned",
		zap.String("transaction_id", id.String()),
		zap.String("from", fromExpected),
		zap.String("to", to),
	)

	return s.repo.FindByID(ctx, tx, tenantID, id)
}

func (s *Service) FindByID(ctx context.Context, tenantID, id snowflake.ID) (*domain.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) FindByCheckoutID(ctx context.Context, tenantID snowflake.ID, checkoutRequestID string) (*domain.Transaction, error) {
	txn, err := s.repo.FindByCheckoutID(ctx, s.db, tenantID, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) ListStuckSent(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListSentBefore(ctx, s.db, cutoff, limit)
}
