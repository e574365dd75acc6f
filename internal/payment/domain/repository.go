package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TransactionRepository persists payment transactions. Uniqueness of
// (idempotency_key) and (reference) is enforced at this boundary; Save
// surfaces the database conflict unchanged so the orchestrator can resolve
// idempotent-create races.
type TransactionRepository interface {
	Save(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	Update(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	FindByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*PaymentTransaction, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*PaymentTransaction, error)
	FindByProviderTransactionID(ctx context.Context, db *gorm.DB, providerTxnID string) (*PaymentTransaction, error)
	FindByOrder(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]*PaymentTransaction, error)
	FindByStore(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit, offset int) ([]*PaymentTransaction, error)
}

// RefundRepository persists payment refunds.
type RefundRepository interface {
	Save(ctx context.Context, db *gorm.DB, refund *PaymentRefund) error
	Update(ctx context.Context, db *gorm.DB, refund *PaymentRefund) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRefund, error)
	FindByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*PaymentRefund, error)
	FindByProviderRefundID(ctx context.Context, db *gorm.DB, providerRefundID string) (*PaymentRefund, error)
	FindByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]*PaymentRefund, error)
	// SumCompletedAmount returns the cumulative minor-unit amount of
	// completed refunds for a transaction.
	SumCompletedAmount(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error)
}
