package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/payflow/internal/money"
)

// DomainError is a business-rule violation with a stable machine-readable
// code. Domain errors are never retried and surface to callers unchanged.
type DomainError struct {
	ErrCode string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Code returns the stable machine-readable error code.
func (e *DomainError) Code() string { return e.ErrCode }

var (
	ErrInvalidAmount        = &DomainError{ErrCode: "INVALID_AMOUNT", Message: "amount must be greater than zero"}
	ErrInvalidKind          = &DomainError{ErrCode: "INVALID_TRANSACTION_KIND", Message: "unknown transaction kind"}
	ErrMissingOrg           = &DomainError{ErrCode: "MISSING_ORGANIZATION", Message: "organization id is required"}
	ErrMissingProvider      = &DomainError{ErrCode: "MISSING_PROVIDER", Message: "provider kind is required"}
	ErrMissingProviderConf  = &DomainError{ErrCode: "MISSING_PROVIDER_CONFIG", Message: "provider configuration id is required"}
	ErrMissingProviderTxnID = &DomainError{ErrCode: "MISSING_PROVIDER_TRANSACTION_ID", Message: "provider transaction id is required"}
	ErrMissingProviderRefID = &DomainError{ErrCode: "MISSING_PROVIDER_REFUND_ID", Message: "provider refund id is required"}
	ErrDuplicateTransaction = &DomainError{ErrCode: "DUPLICATE_TRANSACTION", Message: "a transaction with this idempotency key already exists"}
	ErrTransactionNotFound  = &DomainError{ErrCode: "TRANSACTION_NOT_FOUND", Message: "transaction not found"}
	ErrRefundNotFound       = &DomainError{ErrCode: "REFUND_NOT_FOUND", Message: "refund not found"}
	ErrStoreNotConfigured   = &DomainError{ErrCode: "STORE_NOT_CONFIGURED", Message: "no active payment provider is configured for this store"}
	ErrProviderNotActive    = &DomainError{ErrCode: "PROVIDER_NOT_ACTIVE", Message: "the requested payment provider is not active for this store"}
	ErrRefundNotMutable     = &DomainError{ErrCode: "REFUND_NOT_MUTABLE", Message: "refund is already in a terminal state"}
	ErrRefundTotalMismatch  = &DomainError{ErrCode: "REFUND_TOTAL_MISMATCH", Message: "cumulative completed refunds do not equal the transaction amount"}
	ErrInvalidWebhookEvent  = &DomainError{ErrCode: "WEBHOOK_EVENT_INVALID", Message: "webhook event is missing a provider event id"}
)

// InvalidTransactionStateError reports an illegal status transition attempt.
// The aggregate is left unmodified when it is returned.
type InvalidTransactionStateError struct {
	Current   PaymentStatus
	Attempted PaymentStatus
}

func (e *InvalidTransactionStateError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.Current, e.Attempted)
}

func (e *InvalidTransactionStateError) Code() string { return "INVALID_TRANSACTION_STATE" }

// RefundAmountExceededError reports a refund request above the refundable
// remainder of a transaction.
type RefundAmountExceededError struct {
	Requested money.Money
	Available money.Money
}

func (e *RefundAmountExceededError) Error() string {
	return fmt.Sprintf("refund of %s exceeds refundable amount %s", e.Requested, e.Available)
}

func (e *RefundAmountExceededError) Code() string { return "REFUND_AMOUNT_EXCEEDED" }

// VoidNotAllowedError reports a void attempt on a settled or terminal
// transaction. Void cancels before settlement; refund reverses after.
type VoidNotAllowedError struct {
	Status PaymentStatus
}

func (e *VoidNotAllowedError) Error() string {
	return fmt.Sprintf("transaction in status %s cannot be voided", e.Status)
}

func (e *VoidNotAllowedError) Code() string { return "VOID_NOT_ALLOWED" }

// RefundNotAllowedError reports a refund request against a transaction that
// has not completed.
type RefundNotAllowedError struct {
	Status PaymentStatus
}

func (e *RefundNotAllowedError) Error() string {
	return fmt.Sprintf("transaction in status %s cannot be refunded", e.Status)
}

func (e *RefundNotAllowedError) Code() string { return "REFUND_NOT_ALLOWED" }

// coder is implemented by every error in the taxonomy.
type coder interface {
	Code() string
}

// ErrorCode extracts the stable code from any domain or provider error.
// Unknown errors map to INTERNAL_ERROR.
func ErrorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return "INTERNAL_ERROR"
}

// IsDomainError reports whether the error belongs to the business-rule
// family (as opposed to the provider family).
func IsDomainError(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return true
	}
	var (
		state  *InvalidTransactionStateError
		bound  *RefundAmountExceededError
		void   *VoidNotAllowedError
		refund *RefundNotAllowedError
		cur    *money.CurrencyMismatchError
	)
	return errors.As(err, &state) ||
		errors.As(err, &bound) ||
		errors.As(err, &void) ||
		errors.As(err, &refund) ||
		errors.As(err, &cur)
}
