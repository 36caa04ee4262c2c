package repository

import (
	"context"

	"github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, environment string) (*domain.MpesaCredential, error) {
	var credential domain.MpesaCredential
	err := tx.WithContext(ctx).Raw(
		`SELECT id, tenant_id, environment, shortcode, sealed_data, created_at, updated_at
		 FROM mpesa_credentials
		 WHERE tenant_id = ? AND environment = ?
		 LIMIT 1`,
		tenantID,
		environment,
	).Scan(&credential).Error
	if err != nil {
		return nil, err
	}
	if credential.ID == 0 {
		return nil, nil
	}
	return &credential, nil
}

// Upsert replaces the pair's credential set in place. Update-then-insert keeps
// the statement portable across dialects; the unique index on
// (tenant_id, environment) closes the insert race, and the losing writer
// falls back to the update path.
func (r *repo) Upsert(ctx context.Context, tx *gorm.DB, credential *domain.MpesaCredential) error {
	update := func() (int64, error) {
		res := tx.WithContext(ctx).Exec(
			`UPDATE mpesa_credentials
			 SET shortcode = ?, sealed_data = ?, updated_at = ?
			 WHERE tenant_id = ? AND environment = ?`,
			credential.Shortcode,
			credential.SealedData,
			credential.UpdatedAt,
			credential.TenantID,
			credential.Environment,
		)
		return res.RowsAffected, res.Error
	}

	affected, err := update()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	err = tx.WithContext(ctx).Exec(
		`INSERT INTO mpesa_credentials (
			id, tenant_id, environment, shortcode, sealed_data, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		credential.ID,
		credential.TenantID,
		credential.Environment,
		credential.Shortcode,
		credential.SealedData,
		credential.CreatedAt,
		credential.UpdatedAt,
	).Error
	if err == nil {
		return nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return err
	}
	_, err = update()
	return err
}
