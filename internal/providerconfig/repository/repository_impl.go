package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListCatalog(ctx context.Context, db *gorm.DB) ([]domain.CatalogProvider, error) {
	var providers []domain.CatalogProvider
	err := db.WithContext(ctx).Raw(
		`SELECT provider, display_name, description, supports_webhook, supports_refund, created_at
		 FROM payment_provider_catalog
		 ORDER BY display_name`,
	).Scan(&providers).Error
	if err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *repo) FindCatalog(ctx context.Context, db *gorm.DB, provider string) (*domain.CatalogProvider, error) {
	var item domain.CatalogProvider
	err := db.WithContext(ctx).Raw(
		`SELECT provider, display_name, description, supports_webhook, supports_refund, created_at
		 FROM payment_provider_catalog
		 WHERE provider = ?
		 LIMIT 1`,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Provider == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.StoreProviderConfig, error) {
	var configs []domain.StoreProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, config, is_active, is_primary, priority, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE org_id = ?
		 ORDER BY created_at DESC`,
		orgID,
	).Scan(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repo) ListActiveConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.StoreProviderConfig, error) {
	var configs []domain.StoreProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, config, is_active, is_primary, priority, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE org_id = ? AND is_active = ?
		 ORDER BY is_primary DESC, priority ASC, created_at ASC`,
		orgID,
		true,
	).Scan(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repo) FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*domain.StoreProviderConfig, error) {
	var item domain.StoreProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, config, is_active, is_primary, priority, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE org_id = ? AND provider = ?
		 LIMIT 1`,
		orgID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, config *domain.StoreProviderConfig) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"config", "is_active", "is_primary", "priority", "updated_at"}),
		}).
		Create(config).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs
		 SET is_active = ?, updated_at = ?
		 WHERE org_id = ? AND provider = ?`,
		isActive,
		updatedAt,
		orgID,
		provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetPrimary(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, updatedAt time.Time) (bool, error) {
	err := db.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs
		 SET is_primary = false, updated_at = ?
		 WHERE org_id = ? AND is_primary = true AND provider <> ?`,
		updatedAt,
		orgID,
		provider,
	).Error
	if err != nil {
		return false, err
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE payment_provider_configs
		 SET is_primary = true, updated_at = ?
		 WHERE org_id = ? AND provider = ?`,
		updatedAt,
		orgID,
		provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertHealth(ctx context.Context, db *gorm.DB, health *domain.ProviderHealth) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "response_time_ms", "error", "checked_at"}),
		}).
		Create(health).Error
}

func (r *repo) FindHealth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*domain.ProviderHealth, error) {
	var item domain.ProviderHealth
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, status, response_time_ms, error, checked_at
		 FROM payment_provider_health
		 WHERE org_id = ? AND provider = ?
		 LIMIT 1`,
		orgID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
