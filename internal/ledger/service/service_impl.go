package service

import (
	"context"
	"time"

	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/ledger/domain"
	tabdomain "github.com/baridihq/baridi/internal/tab/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Tabs  tabdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	tabs  tabdomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		tabs:  p.Tabs,
	}
}

func (s *Service) Record(ctx context.Context, input domain.RecordInput) (*tabdomain.Payment, error) {
	var payment *tabdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = s.RecordTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, input domain.RecordInput) (*tabdomain.Payment, error) {
	if input.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	switch input.Method {
	case tabdomain.PaymentMethodCash, tabdomain.PaymentMethodMpesa, tabdomain.PaymentMethodCard:
	default:
		return nil, domain.ErrInvalidMethod
	}

	tab, err := s.tabs.FindTab(ctx, tx, input.TenantID, input.TabID)
	if err != nil {
		return nil, err
	}

	payment := &tabdomain.Payment{
		ID:        s.genID.Generate(),
		TenantID:  input.TenantID,
		TabID:     input.TabID,
		Amount:    input.Amount,
		Method:    input.Method,
		Status:    tabdomain.PaymentStatusSuccess,
		Metadata:  input.Metadata,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Second),
	}
	if input.Reference != "" {
		payment.Reference = &input.Reference
	}

	inserted, err := s.tabs.InsertPayment(ctx, tx, payment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domain.ErrDuplicateReference
	}

	// Auto-close only applies to overdue tabs; settling an open tab never
	// touches its lifecycle.
	if tab.Status != tabdomain.TabStatusOverdue {
		return payment, nil
	}

	// Read-after-write inside the same transaction so a racing insert cannot
	// be missed.
	balance, err := s.tabs.Balance(ctx, tx, input.TenantID, input.TabID)
	if err != nil {
		return nil, err
	}
	if balance > 0 {
		return payment, nil
	}

	closed, err := s.tabs.CloseIfOverdue(ctx, tx, input.TenantID, input.TabID)
	if err != nil {
		return nil, err
	}
	if closed {
		s.log.Info("tab settled and auto-closed",
			zap.String("tab_id", input.TabID.String()),
			zap.Int64("balance", balance),
		)
	}
	return payment, nil
}
