package scheduler

import (
	"context"
	"errors"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/observability/metrics"
	rldomain "github.com/baridihq/baridi/internal/ratelimit/domain"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKey = "baridi:scheduler:sweep"

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Config       config.Config
	Locker       *Locker
	Transactions txndomain.Service
	RateLimit    rldomain.Service
	Audit        auditdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

// Scheduler runs the periodic maintenance jobs: the stuck-in-sent timeout
// sweep and the audit / rate-limit retention purges.
type Scheduler struct {
	log          *zap.Logger
	clock        clock.Clock
	cfg          config.SchedulerConfig
	sentTimeout  time.Duration
	locker       *Locker
	transactions txndomain.Service
	ratelimit    rldomain.Service
	audit        auditdomain.Service
	metrics      *metrics.Metrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:          p.Log.Named("scheduler"),
		clock:        p.Clock,
		cfg:          p.Config.Scheduler,
		sentTimeout:  p.Config.Scheduler.SentTimeout,
		locker:       p.Locker,
		transactions: p.Transactions,
		ratelimit:    p.RateLimit,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

// Run ticks until ctx is cancelled. Each tick takes the cross-instance lock
// so exactly one instance sweeps at a time.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			token, acquired, err := s.locker.Acquire(ctx, lockKey, s.cfg.RunInterval)
			if err != nil {
				s.log.Warn("scheduler lock error", zap.Error(err))
			}
			if !acquired {
				continue
			}
			s.RunOnce(ctx)
			if err := s.locker.Release(ctx, lockKey, token); err != nil {
				s.log.Warn("scheduler lock release failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes every job a single time.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.sweepTimeouts(ctx)
	s.purgeAudit(ctx)
	s.purgeRateLimit(ctx)
}

// sweepTimeouts moves transactions stuck in sent past the timeout threshold
// to timeout, through the state machine so the usual guards apply.
func (s *Scheduler) sweepTimeouts(ctx context.Context) {
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.sentTimeout)

	stuck, err := s.transactions.ListStuckSent(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		s.log.Error("timeout sweep listing failed", zap.Error(err))
		return
	}

	for _, txn := range stuck {
		_, err := s.transactions.Transition(ctx, txn.TenantID, txn.ID, txndomain.StatusSent, txndomain.StatusTimeout, txndomain.TransitionPayload{
			FailureReason: "no provider callback before timeout",
		})
		if errors.Is(err, txndomain.ErrInvalidTransition) {
			// A callback won the race after the listing; nothing to do.
			continue
		}
		if err != nil {
			s.log.Error("timeout sweep transition failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if s.metrics != nil {
			s.metrics.SweepTransitions.Inc()
		}

		if err := s.audit.Record(ctx, auditdomain.Entry{
			TenantID:      txn.TenantID,
			EventType:     auditdomain.EventTransactionTimeout,
			Severity:      auditdomain.SeverityWarning,
			Category:      auditdomain.CategoryPayment,
			TransactionID: &txn.ID,
			TabID:         &txn.TabID,
			Data: map[string]any{
				"transaction_id": txn.ID.String(),
				"stuck_since":    txn.UpdatedAt.UTC().Format(time.RFC3339),
			},
		}); err != nil {
			s.log.Warn("timeout audit failed", zap.Error(err))
		}
	}

	if len(stuck) > 0 {
		s.log.Info("timeout sweep finished", zap.Int("swept", len(stuck)))
	}
}

func (s *Scheduler) purgeAudit(ctx context.Context) {
	if _, err := s.audit.PurgeExpired(ctx, s.clock.Now().UTC()); err != nil {
		s.log.Error("audit retention purge failed", zap.Error(err))
	}
}

func (s *Scheduler) purgeRateLimit(ctx context.Context) {
	if _, err := s.ratelimit.PurgeExpired(ctx, s.clock.Now().UTC()); err != nil {
		s.log.Error("rate limit retention purge failed", zap.Error(err))
	}
}
