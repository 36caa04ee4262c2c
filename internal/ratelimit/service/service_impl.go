package service

import (
	"context"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/config"
	"github.com/baridihq/baridi/internal/observability/metrics"
	"github.com/baridihq/baridi/internal/ratelimit/domain"
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
	Config  config.Config
	Repo    domain.Repository
	Scorer  domain.Scorer
	Bucket  *Bucket
	Audit   auditdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.RateLimitConfig
	repo    domain.Repository
	scorer  domain.Scorer
	bucket  *Bucket
	audit   auditdomain.Service
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ratelimit.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Config.RateLimit,
		repo:    p.Repo,
		scorer:  p.Scorer,
		bucket:  p.Bucket,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) CheckAllowed(ctx context.Context, input domain.CheckInput) (domain.Decision, error) {
	now := s.clock.Now().UTC().Truncate(time.Second)

	// An unexpired block decides immediately; the attempt is still appended
	// so the history shows probing during a block.
	until, err := s.repo.ActiveBlockUntil(ctx, s.db, input, now)
	if err != nil {
		return domain.Decision{}, err
	}
	if until != nil {
		if err := s.append(ctx, input, domain.EventPaymentAttempt, 0, nil, now); err != nil {
			return domain.Decision{}, err
		}
		return s.decide(domain.Decision{
			Allowed:      false,
			BlockedUntil: *until,
			Reason:       "active_block",
		}), nil
	}

	// Redis pre-gate for rapid fire; failure or absence falls through to the
	// scoring query.
	if allowed, err := s.bucket.Allow(ctx, int64(input.TenantID), input.PhoneNumber); err != nil {
		s.log.Warn("rate limit bucket unavailable", zap.Error(err))
	} else if !allowed {
		blockedUntil := now.Add(s.cfg.RapidWindow)
		if err := s.block(ctx, input, s.cfg.BlockThreshold, "rapid_fire_attempts", blockedUntil, now); err != nil {
			return domain.Decision{}, err
		}
		return s.decide(domain.Decision{
			Allowed:      false,
			RiskScore:    s.cfg.BlockThreshold,
			BlockedUntil: blockedUntil,
			Reason:       "rapid_fire_attempts",
		}), nil
	}

	signals, err := s.repo.Signals(ctx, s.db, input, now.Add(-s.cfg.Window), now.Add(-s.cfg.RapidWindow))
	if err != nil {
		return domain.Decision{}, err
	}
	score, reason := s.scorer.Score(signals)

	if score >= s.cfg.BlockThreshold {
		blockedUntil := now.Add(s.cfg.BlockDuration)
		if err := s.block(ctx, input, score, reason, blockedUntil, now); err != nil {
			return domain.Decision{}, err
		}
		return s.decide(domain.Decision{
			Allowed:      false,
			RiskScore:    score,
			BlockedUntil: blockedUntil,
			Reason:       reason,
		}), nil
	}

	if err := s.append(ctx, input, domain.EventPaymentAttempt, score, nil, now); err != nil {
		return domain.Decision{}, err
	}
	return s.decide(domain.Decision{Allowed: true, RiskScore: score}), nil
}

func (s *Service) RecordOutcome(ctx context.Context, input domain.CheckInput, eventType string) error {
	if eventType != domain.EventFailedAttempt && eventType != domain.EventSuccessfulPayment {
		return domain.ErrInvalidOutcome
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	return s.append(ctx, input, eventType, 0, nil, now)
}

func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	purged, err := s.repo.DeleteBefore(ctx, s.db, now.Add(-s.cfg.RetentionDuration))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info("purged rate limit events", zap.Int64("count", purged))
	}
	return purged, nil
}

func (s *Service) block(ctx context.Context, input domain.CheckInput, score int, reason string, until, now time.Time) error {
	eventType := domain.EventCustomerBlocked
	if reason == "ip_address_cycling" {
		eventType = domain.EventIPBlocked
	}
	if err := s.append(ctx, input, eventType, score, &until, now); err != nil {
		return err
	}

	s.log.Warn("payment attempt blocked",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("reason", reason),
		zap.Int("risk_score", score),
		zap.Time("blocked_until", until),
	)

	if err := s.audit.Record(ctx, auditdomain.Entry{
		TenantID:   input.TenantID,
		EventType:  auditdomain.EventSuspiciousActivity,
		Severity:   auditdomain.SeverityWarning,
		Category:   auditdomain.CategorySecurity,
		CustomerID: input.CustomerID,
		Data: map[string]any{
			"reason":        reason,
			"risk_score":    score,
			"blocked_until": until.Format(time.RFC3339),
		},
	}); err != nil {
		s.log.Warn("suspicious activity audit failed", zap.Error(err))
	}
	return nil
}

func (s *Service) append(ctx context.Context, input domain.CheckInput, eventType string, score int, until *time.Time, now time.Time) error {
	event := &domain.RateLimitEvent{
		ID:           s.genID.Generate(),
		TenantID:     input.TenantID,
		CustomerID:   input.CustomerID,
		EventType:    eventType,
		RiskScore:    score,
		BlockedUntil: until,
		CreatedAt:    now,
	}
	if input.PhoneNumber != "" {
		event.PhoneNumber = &input.PhoneNumber
	}
	if input.IPAddress != "" {
		event.IPAddress = &input.IPAddress
	}
	return s.repo.Insert(ctx, s.db, event)
}

func (s *Service) decide(decision domain.Decision) domain.Decision {
	if s.metrics != nil {
		label := "blocked"
		if decision.Allowed {
			label = "allowed"
		}
		s.metrics.RateLimitDecisions.WithLabelValues(label).Inc()
	}
	return decision
}
