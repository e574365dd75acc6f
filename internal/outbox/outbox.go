// Package outbox persists domain events alongside the state changes that
// raised them. A separate relay publishes the rows to the event bus; this
// package only writes.
package outbox

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEvent captures outbox rows for payment workflows.
type PaymentEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	OrgID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payment_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_payment_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentEvent) TableName() string { return "payment_events" }

// Publisher appends domain events to the outbox inside the caller's
// database transaction, so events and state commit or roll back together.
type Publisher interface {
	Publish(ctx context.Context, tx *gorm.DB, events ...paymentdomain.Event) error
}

type outboxPublisher struct {
	genID *snowflake.Node
}

// NewPublisher builds the outbox-backed publisher.
func NewPublisher(genID *snowflake.Node) Publisher {
	return &outboxPublisher{genID: genID}
}

func (p *outboxPublisher) Publish(ctx context.Context, tx *gorm.DB, events ...paymentdomain.Event) error {
	for _, event := range events {
		dedupe := event.DedupeKey()
		row := &PaymentEvent{
			ID:        p.genID.Generate(),
			OrgID:     event.OrgID,
			EventType: string(event.Type),
			Payload:   datatypes.JSONMap(event.Payload),
			DedupeKey: &dedupe,
			CreatedAt: event.OccurredAt.UTC(),
		}
		// The conflict clause renders per dialect, so redelivered events
		// stay single on every supported database.
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "org_id"}, {Name: "dedupe_key"}},
				DoNothing: true,
			}).
			Create(row).Error
		if err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("outbox",
	fx.Provide(NewPublisher),
)
