// Package gateway defines the contract every external payment provider
// adapter implements, the provider error taxonomy, and the explicit
// kind→constructor registry used to build adapter instances.
package gateway

import "context"

// Normalized provider-side statuses. Adapters translate gateway-specific
// response shapes into these before the core ever sees them.
const (
	StatusSucceeded = "succeeded"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Credentials is a decrypted tenant-scoped credential map. Contents must
// never be logged or persisted in clear.
type Credentials map[string]string

// ChargeRequest asks the provider to move money.
type ChargeRequest struct {
	Reference          string
	Amount             int64
	Currency           string
	PaymentMethodToken string
	Metadata           map[string]string
}

// ChargeResult is the normalized outcome of a charge.
type ChargeResult struct {
	ProviderTransactionID string
	Status                string
	RawResponse           map[string]any
}

// RefundRequest asks the provider to reverse a settled charge.
type RefundRequest struct {
	ProviderTransactionID string
	Amount                int64
	Currency              string
	Reason                string
}

// RefundResult is the normalized outcome of a refund.
type RefundResult struct {
	ProviderRefundID string
	Status           string
	RawResponse      map[string]any
}

// TransactionStatus is the provider's current view of a transaction.
type TransactionStatus struct {
	ProviderTransactionID string
	Status                string
	RawResponse           map[string]any
}

// PaymentData carries raw payment instrument fields into tokenization.
type PaymentData map[string]string

// Token is an opaque payment-method token issued by the provider.
type Token struct {
	Value    string
	Metadata map[string]string
}

// WebhookEvent is a normalized provider notification. ProviderEventID is
// the provider's own delivery id and is the dedupe key for redeliveries.
type WebhookEvent struct {
	ProviderEventID       string
	Type                  string
	ProviderTransactionID string
	ProviderRefundID      string
	Status                string
	RawPayload            map[string]any
}

// Gateway is the contract a concrete provider adapter satisfies. All
// operations are I/O-bound and may fail with a *ProviderError.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	Void(ctx context.Context, providerTxnID string) error
	GetTransaction(ctx context.Context, providerTxnID string) (*TransactionStatus, error)
	Tokenize(ctx context.Context, data PaymentData) (*Token, error)
	ValidateWebhook(payload []byte, signature string) bool
	ProcessWebhook(eventType string, payload []byte) (*WebhookEvent, error)
	// Ping is the lightweight probe used by resolver health checks.
	Ping(ctx context.Context) error
}
