package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Service orchestrates payment transactions end to end: idempotent creation,
// gateway processing with bounded retries, refunds, voids, and webhook
// application.
type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentTransaction, error)
	ProcessPayment(ctx context.Context, orgID snowflake.ID, reference string) (*PaymentTransaction, error)
	VoidPayment(ctx context.Context, orgID snowflake.ID, reference string, req VoidRequest) (*PaymentTransaction, error)
	RequestRefund(ctx context.Context, orgID snowflake.ID, reference string, req RefundRequest) (*PaymentRefund, error)
	ProcessRefund(ctx context.Context, orgID snowflake.ID, refundReference string) (*PaymentRefund, error)
	ApplyWebhook(ctx context.Context, orgID snowflake.ID, providerKind string, payload []byte, signature string) error

	GetByReference(ctx context.Context, orgID snowflake.ID, reference string) (*PaymentTransaction, error)
	ListByOrder(ctx context.Context, orgID, orderID snowflake.ID) ([]*PaymentTransaction, error)
	ListByStore(ctx context.Context, orgID snowflake.ID, limit, offset int) ([]*PaymentTransaction, error)
	ListRefunds(ctx context.Context, orgID snowflake.ID, reference string) ([]*PaymentRefund, error)
}

// CreatePaymentRequest opens a new transaction. Amount is a major-unit
// decimal string ("49.99"). ProviderKind is optional; when empty the
// tenant's primary active provider is used.
type CreatePaymentRequest struct {
	OrgID              snowflake.ID   `json:"-"`
	Kind               string         `json:"kind"`
	Amount             string         `json:"amount"`
	Currency           string         `json:"currency"`
	ProviderKind       string         `json:"provider,omitempty"`
	OrderID            *snowflake.ID  `json:"order_id,omitempty"`
	UserID             *snowflake.ID  `json:"user_id,omitempty"`
	PaymentMethodToken string         `json:"payment_method_token,omitempty"`
	IdempotencyKey     string         `json:"idempotency_key,omitempty"`
	ClientIP           string         `json:"-"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// VoidRequest cancels a transaction before settlement.
type VoidRequest struct {
	VoidedBy *snowflake.ID `json:"voided_by,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// RefundRequest reverses part or all of a completed transaction.
type RefundRequest struct {
	Amount      string        `json:"amount"`
	Currency    string        `json:"currency,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RequestedBy *snowflake.ID `json:"requested_by,omitempty"`
}
