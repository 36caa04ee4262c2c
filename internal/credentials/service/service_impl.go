package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/pkg/sealer"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Sealer *sealer.Sealer
	Audit  auditdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	sealer *sealer.Sealer
	audit  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("credentials.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		sealer: p.Sealer,
		audit:  p.Audit,
	}
}

func validEnvironment(environment string) bool {
	return environment == domain.EnvironmentSandbox || environment == domain.EnvironmentProduction
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID, environment string) (*domain.Credentials, error) {
	if !validEnvironment(environment) {
		return nil, domain.ErrInvalidEnvironment
	}

	stored, err := s.repo.Find(ctx, s.db, tenantID, environment)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrNotConfigured
	}

	opened, err := s.sealer.Open(stored.SealedData)
	if err != nil {
		s.log.Error("failed to unseal credentials",
			zap.String("tenant_id", tenantID.String()),
			zap.String("environment", environment),
			zap.Error(err),
		)
		return nil, err
	}

	creds := &domain.Credentials{
		Shortcode:      stored.Shortcode,
		ConsumerKey:    asString(opened["consumer_key"]),
		ConsumerSecret: asString(opened["consumer_secret"]),
		Passkey:        asString(opened["passkey"]),
	}
	if creds.ConsumerKey == "" || creds.ConsumerSecret == "" || creds.Passkey == "" {
		return nil, domain.ErrNotConfigured
	}

	// Access is worth recording, but never at the cost of the payment path.
	if err := s.audit.Record(ctx, auditdomain.Entry{
		TenantID:  tenantID,
		EventType: auditdomain.EventCredentialsAccessed,
		Category:  auditdomain.CategorySecurity,
		Data: map[string]any{
			"environment": environment,
			"shortcode":   stored.Shortcode,
		},
	}); err != nil {
		s.log.Warn("credential access audit failed", zap.Error(err))
	}

	return creds, nil
}

func (s *Service) Set(ctx context.Context, input domain.SetInput) error {
	if !validEnvironment(input.Environment) {
		return domain.ErrInvalidEnvironment
	}
	input.Shortcode = strings.TrimSpace(input.Shortcode)
	input.ConsumerKey = strings.TrimSpace(input.ConsumerKey)
	input.ConsumerSecret = strings.TrimSpace(input.ConsumerSecret)
	input.Passkey = strings.TrimSpace(input.Passkey)
	if input.Shortcode == "" || input.ConsumerKey == "" || input.ConsumerSecret == "" || input.Passkey == "" {
		return domain.ErrInvalidCredentials
	}

	sealed, err := s.sealer.Seal(map[string]any{
		"consumer_key":    input.ConsumerKey,
		"consumer_secret": input.ConsumerSecret,
		"passkey":         input.Passkey,
	})
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	credential := &domain.MpesaCredential{
		ID:          s.genID.Generate(),
		TenantID:    input.TenantID,
		Environment: input.Environment,
		Shortcode:   input.Shortcode,
		SealedData:  sealed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Upsert(ctx, s.db, credential); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, auditdomain.Entry{
		TenantID:  input.TenantID,
		EventType: auditdomain.EventCredentialsRotated,
		Severity:  auditdomain.SeverityWarning,
		Category:  auditdomain.CategoryAdmin,
		Data: map[string]any{
			"environment":  input.Environment,
			"shortcode":    input.Shortcode,
			"consumer_key": maskSecret(input.ConsumerKey),
		},
	}); err != nil {
		s.log.Warn("credential rotation audit failed", zap.Error(err))
	}

	s.log.Info("mpesa credentials rotated",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("environment", input.Environment),
	)
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return fmt.Sprintf("%s****", s[:4])
}
