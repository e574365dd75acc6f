package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/money"
	"gorm.io/datatypes"
)

// PaymentRefund reverses part or all of a completed transaction. It is
// created only through PaymentTransaction.RequestRefund and owns its own
// short lifecycle afterwards. Once completed or failed it is immutable.
type PaymentRefund struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	Reference        string            `gorm:"type:text;not null;uniqueIndex:ux_payment_refunds_reference"`
	TransactionID    snowflake.ID      `gorm:"not null;index"`
	OrgID            snowflake.ID      `gorm:"not null;index"`
	Amount           int64             `gorm:"not null"`
	Currency         string            `gorm:"type:text;not null"`
	Reason           *string           `gorm:"type:text"`
	Notes            *string           `gorm:"type:text"`
	Status           RefundStatus      `gorm:"type:text;not null;default:'pending'"`
	ProviderRefundID *string           `gorm:"type:text;index"`
	ProviderResponse datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorMessage     *string           `gorm:"type:text"`
	RequestedBy      *snowflake.ID     `gorm:""`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt      *time.Time        `gorm:""`
	CompletedAt      *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (PaymentRefund) TableName() string { return "payment_refunds" }

// Money returns the refund amount as a value object.
func (r *PaymentRefund) Money() money.Money {
	m, err := money.New(r.Amount, r.Currency)
	if err != nil {
		return money.Money{}
	}
	return m
}

// MarkProcessing moves the refund to processing. Legal only from pending.
func (r *PaymentRefund) MarkProcessing(now time.Time) error {
	if r.Status != RefundStatusPending {
		return ErrRefundNotMutable
	}
	now = now.UTC()
	r.Status = RefundStatusProcessing
	r.ProcessedAt = &now
	r.UpdatedAt = now
	return nil
}

// Complete records the provider's refund settlement. Legal from pending or
// processing; requires a non-empty provider refund id.
func (r *PaymentRefund) Complete(providerRefundID string, response map[string]any, now time.Time) ([]Event, error) {
	providerRefundID = strings.TrimSpace(providerRefundID)
	if providerRefundID == "" {
		return nil, ErrMissingProviderRefID
	}
	if r.Status != RefundStatusPending && r.Status != RefundStatusProcessing {
		return nil, ErrRefundNotMutable
	}

	now = now.UTC()
	r.Status = RefundStatusCompleted
	r.ProviderRefundID = &providerRefundID
	r.ProviderResponse = toJSONMap(response)
	r.ErrorMessage = nil
	r.CompletedAt = &now
	r.UpdatedAt = now

	extra := map[string]any{"provider_refund_id": providerRefundID}
	return []Event{newRefundEvent(EventRefundProcessed, r, now, extra)}, nil
}

// Fail records a terminal refund failure.
func (r *PaymentRefund) Fail(errorMessage string, response map[string]any, now time.Time) ([]Event, error) {
	if r.Status == RefundStatusCompleted || r.Status == RefundStatusFailed {
		return nil, ErrRefundNotMutable
	}

	now = now.UTC()
	r.Status = RefundStatusFailed
	r.ErrorMessage = &errorMessage
	if response != nil {
		r.ProviderResponse = toJSONMap(response)
	}
	r.CompletedAt = &now
	r.UpdatedAt = now

	extra := map[string]any{"error_message": errorMessage}
	return []Event{newRefundEvent(EventRefundFailed, r, now, extra)}, nil
}
