package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	ListCatalog(ctx context.Context, db *gorm.DB) ([]CatalogProvider, error)
	FindCatalog(ctx context.Context, db *gorm.DB, provider string) (*CatalogProvider, error)

	ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]StoreProviderConfig, error)
	// ListActiveConfigs returns active configs ordered primary-first, then
	// by ascending priority.
	ListActiveConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]StoreProviderConfig, error)
	FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*StoreProviderConfig, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, config *StoreProviderConfig) error
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error)
	// SetPrimary marks one provider primary and clears the flag on the
	// store's other configs.
	SetPrimary(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, updatedAt time.Time) (bool, error)

	UpsertHealth(ctx context.Context, db *gorm.DB, health *ProviderHealth) error
	FindHealth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*ProviderHealth, error)
}
