package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type transactionRepo struct{}

// ProvideTransactionRepository builds the transaction repository.
func ProvideTransactionRepository() domain.TransactionRepository {
	return &transactionRepo{}
}

func (transactionRepo) Save(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (transactionRepo) Update(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Save(txn).Error
}

func (transactionRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	return oneTransaction(&txn, err)
}

func (transactionRepo) FindByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Where("org_id = ? AND reference = ?", orgID, reference).First(&txn).Error
	return oneTransaction(&txn, err)
}

func (transactionRepo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Where("org_id = ? AND idempotency_key = ?", orgID, key).First(&txn).Error
	return oneTransaction(&txn, err)
}

func (transactionRepo) FindByProviderTransactionID(ctx context.Context, db *gorm.DB, providerTxnID string) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Where("provider_transaction_id = ?", providerTxnID).First(&txn).Error
	return oneTransaction(&txn, err)
}

func (transactionRepo) FindByOrder(ctx context.Context, db *gorm.DB, orgID, orderID snowflake.ID) ([]*domain.PaymentTransaction, error) {
	var txns []*domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("org_id = ? AND order_id = ?", orgID, orderID).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (transactionRepo) FindByStore(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit, offset int) ([]*domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var txns []*domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func oneTransaction(txn *domain.PaymentTransaction, err error) (*domain.PaymentTransaction, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

type refundRepo struct{}

// ProvideRefundRepository builds the refund repository.
func ProvideRefundRepository() domain.RefundRepository {
	return &refundRepo{}
}

func (refundRepo) Save(ctx context.Context, db *gorm.DB, refund *domain.PaymentRefund) error {
	return db.WithContext(ctx).Create(refund).Error
}

func (refundRepo) Update(ctx context.Context, db *gorm.DB, refund *domain.PaymentRefund) error {
	return db.WithContext(ctx).Save(refund).Error
}

func (refundRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRefund, error) {
	var refund domain.PaymentRefund
	err := db.WithContext(ctx).Where("id = ?", id).First(&refund).Error
	return oneRefund(&refund, err)
}

func (refundRepo) FindByReference(ctx context.Context, db *gorm.DB, orgID snowflake.ID, reference string) (*domain.PaymentRefund, error) {
	var refund domain.PaymentRefund
	err := db.WithContext(ctx).Where("org_id = ? AND reference = ?", orgID, reference).First(&refund).Error
	return oneRefund(&refund, err)
}

func (refundRepo) FindByProviderRefundID(ctx context.Context, db *gorm.DB, providerRefundID string) (*domain.PaymentRefund, error) {
	var refund domain.PaymentRefund
	err := db.WithContext(ctx).Where("provider_refund_id = ?", providerRefundID).First(&refund).Error
	return oneRefund(&refund, err)
}

func (refundRepo) FindByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) ([]*domain.PaymentRefund, error) {
	var refunds []*domain.PaymentRefund
	err := db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (refundRepo) SumCompletedAmount(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payment_refunds WHERE transaction_id = ? AND status = ?`,
		transactionID,
		domain.RefundStatusCompleted,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func oneRefund(refund *domain.PaymentRefund, err error) (*domain.PaymentRefund, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return refund, nil
}

type webhookEventRepo struct{}

// ProvideWebhookEventRepository builds the webhook dedupe store.
func ProvideWebhookEventRepository() domain.WebhookEventRepository {
	return &webhookEventRepo{}
}

func (webhookEventRepo) InsertEvent(ctx context.Context, db *gorm.DB, record *domain.WebhookEventRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (webhookEventRepo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEventRecord, error) {
	var record domain.WebhookEventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (webhookEventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		processedAt,
		id,
	).Error
}
