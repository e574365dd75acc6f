package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEventRecord stores every accepted provider notification. The
// unique (provider, provider_event_id) pair makes webhook application
// idempotent: redelivered events insert nothing and short-circuit.
type WebhookEventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	OrgID           snowflake.ID   `gorm:"not null;index"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt     *time.Time     `gorm:""`
}

// TableName sets the database table name.
func (WebhookEventRecord) TableName() string { return "payment_webhook_events" }

// WebhookEventRepository persists accepted webhook notifications.
// InsertEvent reports false when the (provider, provider_event_id) pair
// already exists.
type WebhookEventRepository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, record *WebhookEventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*WebhookEventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
