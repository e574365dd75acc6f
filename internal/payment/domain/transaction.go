// Package domain contains the payment transaction aggregate, its refund
// entity, and the state-machine rules that guard every mutation.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/money"
	"gorm.io/datatypes"
)

// PaymentTransaction is the aggregate root for a single payment attempt.
// It is created in PENDING, mutated only through its own operations, and
// never deleted; superseded attempts get new transactions.
type PaymentTransaction struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	Reference             string            `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_reference"`
	OrgID                 snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payment_transactions_idempotency_key,priority:1"`
	ProviderKind          string            `gorm:"type:text;not null"`
	ProviderConfigID      snowflake.ID      `gorm:"not null"`
	OrderID               *snowflake.ID     `gorm:"index"`
	UserID                *snowflake.ID     `gorm:"index"`
	PaymentMethodID       *string           `gorm:"type:text"`
	Kind                  TransactionKind   `gorm:"type:text;not null"`
	Amount                int64             `gorm:"not null"`
	Currency              string            `gorm:"type:text;not null"`
	Status                PaymentStatus     `gorm:"type:text;not null;default:'PENDING'"`
	ProviderTransactionID *string           `gorm:"type:text;index"`
	ProviderResponse      datatypes.JSONMap `gorm:"type:jsonb"`
	ErrorCode             *string           `gorm:"type:text"`
	ErrorMessage          *string           `gorm:"type:text"`
	ErrorRetryable        *bool             `gorm:""`
	IdempotencyKey        *string           `gorm:"type:text;uniqueIndex:ux_payment_transactions_idempotency_key,priority:2"`
	ClientIP              *string           `gorm:"type:text"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CompletedAt           *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

// NewTransactionInput carries the attributes required to open a transaction.
type NewTransactionInput struct {
	ID               snowflake.ID
	OrgID            snowflake.ID
	ProviderKind     string
	ProviderConfigID snowflake.ID
	OrderID          *snowflake.ID
	UserID           *snowflake.ID
	PaymentMethodID  *string
	Kind             TransactionKind
	Amount           money.Money
	IdempotencyKey   *string
	ClientIP         *string
	Metadata         map[string]any
}

// NewPaymentTransaction validates the input and opens a PENDING transaction,
// returning it together with the PaymentCreated event.
func NewPaymentTransaction(in NewTransactionInput, now time.Time) (*PaymentTransaction, []Event, error) {
	if in.OrgID == 0 {
		return nil, nil, ErrMissingOrg
	}
	if strings.TrimSpace(in.ProviderKind) == "" {
		return nil, nil, ErrMissingProvider
	}
	if in.ProviderConfigID == 0 {
		return nil, nil, ErrMissingProviderConf
	}
	if !ValidKind(in.Kind) {
		return nil, nil, ErrInvalidKind
	}
	if !in.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	now = now.UTC()
	txn := &PaymentTransaction{
		ID:               in.ID,
		Reference:        NewTransactionReference(now),
		OrgID:            in.OrgID,
		ProviderKind:     strings.ToLower(strings.TrimSpace(in.ProviderKind)),
		ProviderConfigID: in.ProviderConfigID,
		OrderID:          in.OrderID,
		UserID:           in.UserID,
		PaymentMethodID:  in.PaymentMethodID,
		Kind:             in.Kind,
		Amount:           in.Amount.Amount(),
		Currency:         in.Amount.Currency(),
		Status:           StatusPending,
		IdempotencyKey:   in.IdempotencyKey,
		ClientIP:         in.ClientIP,
		Metadata:         toJSONMap(in.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	events := []Event{newTransactionEvent(EventPaymentCreated, txn, now, nil)}
	return txn, events, nil
}

// Money returns the transaction amount as a value object.
func (t *PaymentTransaction) Money() money.Money {
	m, err := money.New(t.Amount, t.Currency)
	if err != nil {
		return money.Money{}
	}
	return m
}

// BeginProcessing moves the transaction to PROCESSING ahead of the gateway
// call. Legal only from PENDING.
func (t *PaymentTransaction) BeginProcessing(providerKind string, now time.Time) ([]Event, error) {
	if err := t.transition(StatusProcessing); err != nil {
		return nil, err
	}
	now = now.UTC()
	t.Status = StatusProcessing
	if kind := strings.ToLower(strings.TrimSpace(providerKind)); kind != "" {
		t.ProviderKind = kind
	}
	t.UpdatedAt = now

	return []Event{newTransactionEvent(EventPaymentProcessing, t, now, nil)}, nil
}

// Complete records the provider's settlement. Legal from PENDING or
// PROCESSING; requires a non-empty provider transaction id. Prior error
// fields from failed attempts are cleared.
func (t *PaymentTransaction) Complete(providerTxnID string, response map[string]any, now time.Time) ([]Event, error) {
	providerTxnID = strings.TrimSpace(providerTxnID)
	if providerTxnID == "" {
		return nil, ErrMissingProviderTxnID
	}
	if err := t.transition(StatusCompleted); err != nil {
		return nil, err
	}

	now = now.UTC()
	t.Status = StatusCompleted
	t.ProviderTransactionID = &providerTxnID
	t.ProviderResponse = toJSONMap(response)
	t.ErrorCode = nil
	t.ErrorMessage = nil
	t.ErrorRetryable = nil
	t.CompletedAt = &now
	t.UpdatedAt = now

	extra := map[string]any{"provider_transaction_id": providerTxnID}
	return []Event{newTransactionEvent(EventPaymentCompleted, t, now, extra)}, nil
}

// Fail records a terminal failure. The retryable flag is recorded for audit;
// retry decisions happen at the orchestrator before Fail is called.
func (t *PaymentTransaction) Fail(errorCode, errorMessage string, response map[string]any, retryable bool, now time.Time) ([]Event, error) {
	if err := t.transition(StatusFailed); err != nil {
		return nil, err
	}

	now = now.UTC()
	t.Status = StatusFailed
	t.ErrorCode = &errorCode
	t.ErrorMessage = &errorMessage
	t.ErrorRetryable = &retryable
	if response != nil {
		t.ProviderResponse = toJSONMap(response)
	}
	t.UpdatedAt = now

	extra := map[string]any{
		"error_code":    errorCode,
		"error_message": errorMessage,
		"retryable":     retryable,
	}
	return []Event{newTransactionEvent(EventPaymentFailed, t, now, extra)}, nil
}

// Void cancels the transaction before settlement. Legal only from PENDING or
// PROCESSING; settled or terminal transactions return VoidNotAllowedError.
func (t *PaymentTransaction) Void(voidedBy *snowflake.ID, reason string, now time.Time) ([]Event, error) {
	if !CanTransition(t.Status, StatusVoided) {
		return nil, &VoidNotAllowedError{Status: t.Status}
	}

	now = now.UTC()
	t.Status = StatusVoided
	t.UpdatedAt = now

	extra := map[string]any{"reason": reason}
	if voidedBy != nil {
		extra["voided_by"] = voidedBy.String()
	}
	return []Event{newTransactionEvent(EventPaymentVoided, t, now, extra)}, nil
}

// RequestRefund validates the refund request against the cumulative sum of
// completed refunds and constructs a new PaymentRefund. The transaction's
// own status is not mutated.
func (t *PaymentTransaction) RequestRefund(refundID snowflake.ID, amount money.Money, reason string, requestedBy *snowflake.ID, completedSoFar money.Money, now time.Time) (*PaymentRefund, []Event, error) {
	if t.Status != StatusCompleted {
		return nil, nil, &RefundNotAllowedError{Status: t.Status}
	}
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}

	available, err := t.Money().Sub(completedSoFar)
	if err != nil {
		return nil, nil, err
	}
	if cmp, err := amount.Cmp(available); err != nil {
		return nil, nil, err
	} else if cmp > 0 {
		return nil, nil, &RefundAmountExceededError{Requested: amount, Available: available}
	}

	now = now.UTC()
	refund := &PaymentRefund{
		ID:            refundID,
		Reference:     NewRefundReference(now),
		TransactionID: t.ID,
		OrgID:         t.OrgID,
		Amount:        amount.Amount(),
		Currency:      amount.Currency(),
		Status:        RefundStatusPending,
		RequestedBy:   requestedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if r := strings.TrimSpace(reason); r != "" {
		refund.Reason = &r
	}

	events := []Event{newRefundEvent(EventRefundRequested, refund, now, map[string]any{
		"transaction_reference": t.Reference,
	})}
	return refund, events, nil
}

// MarkRefunded closes the transaction once cumulative completed refunds
// equal its amount exactly. Partial totals are rejected.
func (t *PaymentTransaction) MarkRefunded(completedTotal money.Money, now time.Time) ([]Event, error) {
	if t.Status != StatusCompleted {
		return nil, &InvalidTransactionStateError{Current: t.Status, Attempted: StatusRefunded}
	}
	if !t.Money().Equal(completedTotal) {
		return nil, ErrRefundTotalMismatch
	}
	if err := t.transition(StatusRefunded); err != nil {
		return nil, err
	}

	now = now.UTC()
	t.Status = StatusRefunded
	t.UpdatedAt = now
	return nil, nil
}

func (t *PaymentTransaction) transition(to PaymentStatus) error {
	if !CanTransition(t.Status, to) {
		return &InvalidTransactionStateError{Current: t.Status, Attempted: to}
	}
	return nil
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
