package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CatalogProvider describes a provider kind the platform knows how to talk
// to. The catalog is global; per-store enablement lives in
// StoreProviderConfig.
type CatalogProvider struct {
	Provider        string    `json:"provider" gorm:"primaryKey;type:text"`
	DisplayName     string    `json:"display_name" gorm:"type:text;not null"`
	Description     *string   `json:"description,omitempty" gorm:"type:text"`
	SupportsWebhook bool      `json:"supports_webhook" gorm:"not null;default:true"`
	SupportsRefund  bool      `json:"supports_refund" gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CatalogProvider) TableName() string { return "payment_provider_catalog" }

// StoreProviderConfig is a store's configuration for one provider kind.
// Config holds the AES-GCM-sealed credential payload; it is never stored or
// returned in clear.
type StoreProviderConfig struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID   `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_payment_provider_configs_org_provider,priority:1"`
	Provider  string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_provider_configs_org_provider,priority:2"`
	Config    datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	IsPrimary bool           `json:"is_primary" gorm:"not null;default:false"`
	Priority  int            `json:"priority" gorm:"not null;default:100"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (StoreProviderConfig) TableName() string { return "payment_provider_configs" }

// Provider health states recorded by resolver health checks.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// ProviderHealth is the last known probe result for a store+provider pair.
// A row older than the staleness window must not be relied upon.
type ProviderHealth struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;uniqueIndex:ux_payment_provider_health_org_provider,priority:1"`
	Provider       string       `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_provider_health_org_provider,priority:2"`
	Status         string       `json:"status" gorm:"type:text;not null"`
	ResponseTimeMS int64        `json:"response_time_ms" gorm:"not null;default:0"`
	Error          *string      `json:"error,omitempty" gorm:"type:text"`
	CheckedAt      time.Time    `json:"checked_at" gorm:"not null"`
}

func (ProviderHealth) TableName() string { return "payment_provider_health" }
