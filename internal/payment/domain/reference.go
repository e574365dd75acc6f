package domain

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewTransactionReference generates a unique, human-legible transaction
// reference such as TXN-20260828-01J5ZX2M7Q.... It is immutable for the
// transaction's lifetime and serves as the external lookup key.
func NewTransactionReference(now time.Time) string {
	return fmt.Sprintf("TXN-%s-%s", now.UTC().Format("20060102"), ulid.Make())
}

// NewRefundReference generates a unique refund reference.
func NewRefundReference(now time.Time) string {
	return fmt.Sprintf("REF-%s-%s", now.UTC().Format("20060102"), ulid.Make())
}
