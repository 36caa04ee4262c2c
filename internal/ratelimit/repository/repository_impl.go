package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/baridihq/baridi/internal/ratelimit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, event *domain.RateLimitEvent) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO rate_limit_events (
			id, tenant_id, customer_id, phone_number, ip_address,
			event_type, risk_score, blocked_until, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TenantID,
		event.CustomerID,
		event.PhoneNumber,
		event.IPAddress,
		event.EventType,
		event.RiskScore,
		event.BlockedUntil,
		event.CreatedAt,
	).Error
}

func (r *repo) ActiveBlockUntil(ctx context.Context, tx *gorm.DB, input domain.CheckInput, now time.Time) (*time.Time, error) {
	query := `SELECT blocked_until FROM rate_limit_events
		 WHERE tenant_id = ?
		   AND event_type IN (?, ?)
		   AND blocked_until > ?
		   AND (phone_number = ?`
	args := []any{
		input.TenantID,
		domain.EventCustomerBlocked,
		domain.EventIPBlocked,
		now.UTC(),
		input.PhoneNumber,
	}
	if input.CustomerID != nil {
		query += ` OR customer_id = ?`
		args = append(args, *input.CustomerID)
	}
	if input.IPAddress != "" {
		// An ip_blocked event must hold even when the caller cycles to a
		// fresh phone with no known customer.
		query += ` OR ip_address = ?`
		args = append(args, input.IPAddress)
	}
	query += `) ORDER BY blocked_until DESC LIMIT 1`

	var until sql.NullTime
	err := tx.WithContext(ctx).Raw(query, args...).Scan(&until).Error
	if err != nil {
		return nil, err
	}
	if !until.Valid {
		return nil, nil
	}
	value := until.Time.UTC()
	return &value, nil
}

func (r *repo) Signals(ctx context.Context, tx *gorm.DB, input domain.CheckInput, windowStart, rapidStart time.Time) (domain.Signals, error) {
	var signals domain.Signals
	db := tx.WithContext(ctx)

	identity := `(phone_number = ?`
	identityArgs := []any{input.PhoneNumber}
	if input.CustomerID != nil {
		identity += ` OR customer_id = ?`
		identityArgs = append(identityArgs, *input.CustomerID)
	}
	identity += `)`

	args := append([]any{input.TenantID, domain.EventFailedAttempt, windowStart.UTC()}, identityArgs...)
	err := db.Raw(
		`SELECT COUNT(*) FROM rate_limit_events
		 WHERE tenant_id = ? AND event_type = ? AND created_at >= ? AND `+identity,
		args...,
	).Scan(&signals.FailedAttempts).Error
	if err != nil {
		return signals, err
	}

	// Identity-cycling signals only exist for known customers.
	if input.CustomerID != nil {
		err = db.Raw(
			`SELECT COUNT(DISTINCT phone_number) FROM rate_limit_events
			 WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
			   AND phone_number IS NOT NULL`,
			input.TenantID, *input.CustomerID, windowStart.UTC(),
		).Scan(&signals.DistinctPhones).Error
		if err != nil {
			return signals, err
		}

		err = db.Raw(
			`SELECT COUNT(DISTINCT ip_address) FROM rate_limit_events
			 WHERE tenant_id = ? AND customer_id = ? AND created_at >= ?
			   AND ip_address IS NOT NULL`,
			input.TenantID, *input.CustomerID, windowStart.UTC(),
		).Scan(&signals.DistinctIPs).Error
		if err != nil {
			return signals, err
		}
	}

	args = append([]any{input.TenantID, domain.EventPaymentAttempt, rapidStart.UTC()}, identityArgs...)
	err = db.Raw(
		`SELECT COUNT(*) FROM rate_limit_events
		 WHERE tenant_id = ? AND event_type = ? AND created_at >= ? AND `+identity,
		args...,
	).Scan(&signals.RapidAttempts).Error
	return signals, err
}

func (r *repo) DeleteBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`DELETE FROM rate_limit_events WHERE created_at < ?`,
		cutoff.UTC(),
	)
	return res.RowsAffected, res.Error
}
