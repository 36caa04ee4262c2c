package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	"github.com/baridihq/baridi/internal/auditctx"
	"github.com/baridihq/baridi/internal/clock"
	"github.com/baridihq/baridi/pkg/sealer"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   auditdomain.Repository
	Sealer *sealer.Sealer
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   auditdomain.Repository
	sealer *sealer.Sealer
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("audit.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		sealer: p.Sealer,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	return s.RecordTx(ctx, s.db, entry)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	event, err := s.buildEvent(ctx, entry)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, tx, event); err != nil {
		s.log.Warn("failed to write audit event",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) buildEvent(ctx context.Context, entry auditdomain.Entry) (*auditdomain.AuditEvent, error) {
	eventType := strings.TrimSpace(entry.EventType)
	if eventType == "" {
		return nil, auditdomain.ErrInvalidEvent
	}
	if entry.TenantID == 0 {
		return nil, auditdomain.ErrInvalidTenant
	}

	severity := strings.TrimSpace(entry.Severity)
	if severity == "" {
		severity = auditdomain.SeverityInfo
	}
	category := strings.TrimSpace(entry.Category)
	if category == "" {
		category = auditdomain.CategorySystem
	}
	retention := entry.RetentionDays
	if retention <= 0 {
		retention = auditdomain.DefaultRetentionDays
	}

	payload := datatypes.JSONMap{}
	for key, value := range entry.Data {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := auditctx.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	actorType, actorID := auditctx.ActorFromContext(ctx)
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}

	// Hash input uses second precision so the timestamp survives a storage
	// round trip unchanged.
	now := s.clock.Now().UTC().Truncate(time.Second)
	id := s.genID.Generate()

	hash, err := auditdomain.ComputeHash(id, eventType, now, payload)
	if err != nil {
		return nil, err
	}

	event := &auditdomain.AuditEvent{
		ID:            id,
		TenantID:      entry.TenantID,
		EventType:     eventType,
		Severity:      severity,
		Category:      category,
		TransactionID: entry.TransactionID,
		TabID:         entry.TabID,
		CustomerID:    entry.CustomerID,
		ActorType:     actorType,
		EventData:     payload,
		IntegrityHash: hash,
		RetentionDays: retention,
		ExpiresAt:     now.AddDate(0, 0, retention),
		CreatedAt:     now,
	}
	if actorID != "" {
		event.ActorID = &actorID
	}
	if ip := auditctx.IPAddressFromContext(ctx); ip != "" {
		event.IPAddress = &ip
	}
	if ua := auditctx.UserAgentFromContext(ctx); ua != "" {
		event.UserAgent = &ua
	}

	if len(entry.Sensitive) > 0 {
		sealed, err := s.sealer.Seal(entry.Sensitive)
		if err != nil {
			return nil, err
		}
		event.SensitiveData = sealed
	}

	return event, nil
}

// VerifyIntegrity recomputes the hash over the stored immutable fields. A
// mismatch signals tampering and must halt automated processing of the record.
func (s *Service) VerifyIntegrity(ctx context.Context, tenantID, id snowflake.ID) (bool, error) {
	event, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return false, err
	}
	if event == nil {
		return false, auditdomain.ErrNotFound
	}

	expected, err := auditdomain.ComputeHash(event.ID, event.EventType, event.CreatedAt, event.EventData)
	if err != nil {
		return false, err
	}
	if expected != event.IntegrityHash {
		s.log.Error("audit integrity violation",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
		)
		return false, nil
	}
	return true, nil
}

func (s *Service) List(ctx context.Context, filter auditdomain.ListFilter) ([]auditdomain.AuditEvent, error) {
	if filter.TenantID == 0 {
		return nil, auditdomain.ErrInvalidTenant
	}
	if filter.StartAt != nil && filter.EndAt != nil && filter.StartAt.After(*filter.EndAt) {
		return nil, auditdomain.ErrInvalidTimeRange
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 250 {
		filter.Limit = 250
	}
	return s.repo.List(ctx, s.db, filter)
}

// PurgeExpired removes events past their retention window. The purge is
// itself recorded as a platform-scoped event so the trail shows when
// evidence was deleted and how much.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	purged, err := s.repo.DeleteExpired(ctx, s.db, now)
	if err != nil {
		return 0, err
	}
	if purged == 0 {
		return 0, nil
	}
	s.log.Info("purged expired audit events", zap.Int64("count", purged))

	at := now.UTC().Truncate(time.Second)
	id := s.genID.Generate()
	payload := datatypes.JSONMap{"purged_count": purged}
	hash, err := auditdomain.ComputeHash(id, auditdomain.EventRetentionPurged, at, payload)
	if err != nil {
		return purged, err
	}
	err = s.repo.Insert(ctx, s.db, &auditdomain.AuditEvent{
		ID:            id,
		TenantID:      auditdomain.PlatformTenantID,
		EventType:     auditdomain.EventRetentionPurged,
		Severity:      auditdomain.SeverityInfo,
		Category:      auditdomain.CategorySystem,
		ActorType:     auditdomain.ActorTypeSystem,
		EventData:     payload,
		IntegrityHash: hash,
		RetentionDays: auditdomain.DefaultRetentionDays,
		ExpiresAt:     at.AddDate(0, 0, auditdomain.DefaultRetentionDays),
		CreatedAt:     at,
	})
	if err != nil {
		s.log.Warn("failed to record retention purge", zap.Error(err))
	}
	return purged, nil
}
