package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/gateway"
	"github.com/smallbiznis/payflow/internal/money"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"github.com/smallbiznis/payflow/internal/outbox"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	"github.com/smallbiznis/payflow/internal/resolver"
	pkgdb "github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	TxnRepo     paymentdomain.TransactionRepository
	RefundRepo  paymentdomain.RefundRepository
	WebhookRepo paymentdomain.WebhookEventRepository
	Resolver    *resolver.Resolver
	Outbox      outbox.Publisher
	Cfg         config.Config
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Service orchestrates the transaction lifecycle against resolved gateways.
// Every state change and the events it raises commit in one database
// transaction through the outbox.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	txnRepo     paymentdomain.TransactionRepository
	refundRepo  paymentdomain.RefundRepository
	webhookRepo paymentdomain.WebhookEventRepository
	resolver    *resolver.Resolver
	outbox      outbox.Publisher
	timeout     time.Duration
	maxAttempts int
	backoffBase time.Duration
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	timeout := p.Cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := p.Cfg.GatewayMaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := p.Cfg.GatewayBackoffBase
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		txnRepo:     p.TxnRepo,
		refundRepo:  p.RefundRepo,
		webhookRepo: p.WebhookRepo,
		resolver:    p.Resolver,
		outbox:      p.Outbox,
		timeout:     timeout,
		maxAttempts: attempts,
		backoffBase: backoff,
		obsMetrics:  p.ObsMetrics,
	}
}

var _ paymentdomain.Service = (*Service)(nil)

// CreatePayment opens a PENDING transaction. Creation is idempotent: a
// request carrying a known idempotency key returns the existing transaction,
// and the database unique constraint resolves concurrent duplicates.
func (s *Service) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.PaymentTransaction, error) {
	if req.OrgID == 0 {
		return nil, paymentdomain.ErrMissingOrg
	}

	amount, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	kind := paymentdomain.TransactionKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = paymentdomain.KindCharge
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey != "" {
		existing, err := s.txnRepo.FindByIdempotencyKey(ctx, s.db, req.OrgID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	res, err := s.resolver.Resolve(ctx, req.OrgID, req.ProviderKind)
	if err != nil {
		return nil, err
	}

	input := paymentdomain.NewTransactionInput{
		ID:               s.genID.Generate(),
		OrgID:            req.OrgID,
		ProviderKind:     res.Kind,
		ProviderConfigID: res.ConfigID,
		OrderID:          req.OrderID,
		UserID:           req.UserID,
		Kind:             kind,
		Amount:           amount,
		Metadata:         req.Metadata,
	}
	if token := strings.TrimSpace(req.PaymentMethodToken); token != "" {
		input.PaymentMethodID = &token
	}
	if idempotencyKey != "" {
		input.IdempotencyKey = &idempotencyKey
	}
	if ip := strings.TrimSpace(req.ClientIP); ip != "" {
		input.ClientIP = &ip
	}

	txn, events, err := paymentdomain.NewPaymentTransaction(input, time.Now())
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.txnRepo.Save(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	})
	if err != nil {
		// A concurrent request with the same idempotency key won the insert
		// race; the winner's row is the canonical transaction.
		if pkgdb.IsDuplicateKeyErr(err) && idempotencyKey != "" {
			existing, ferr := s.txnRepo.FindByIdempotencyKey(ctx, s.db, req.OrgID, idempotencyKey)
			if ferr == nil && existing != nil {
				return existing, nil
			}
			return nil, paymentdomain.ErrDuplicateTransaction
		}
		return nil, err
	}

	s.obsMetrics.RecordTransaction(ctx, txn.ProviderKind, string(txn.Status))
	s.log.Info("payment created",
		zap.String("org_id", txn.OrgID.String()),
		zap.String("reference", txn.Reference),
		zap.String("provider", txn.ProviderKind),
	)
	return txn, nil
}

// ProcessPayment pushes a PENDING transaction through its gateway charge.
// Transient provider faults are retried with exponential backoff; when the
// resolved provider fails permanently an alternate configured provider gets
// one chance before the transaction is marked FAILED. A timed-out charge is
// first reconciled against the provider, since it may have settled after the
// deadline.
func (s *Service) ProcessPayment(ctx context.Context, orgID snowflake.ID, reference string) (*paymentdomain.PaymentTransaction, error) {
	txn, err := s.txnRepo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}

	res, err := s.resolver.Resolve(ctx, orgID, txn.ProviderKind)
	if err != nil {
		return nil, err
	}

	events, err := txn.BeginProcessing(res.Kind, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, txn, events); err != nil {
		return nil, err
	}

	chargeReq := gateway.ChargeRequest{
		Reference: txn.Reference,
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		Metadata:  map[string]string{"org_id": txn.OrgID.String()},
	}
	if txn.PaymentMethodID != nil {
		chargeReq.PaymentMethodToken = *txn.PaymentMethodID
	}

	result, chargeErr := s.chargeWithRetry(ctx, res.Gateway, res.Kind, chargeReq)
	if chargeErr != nil {
		if ambiguousChargeError(chargeErr) {
			// The provider may have settled the charge after our deadline.
			// Re-sending it anywhere, original or failover, risks a double
			// charge: reconcile against the provider, then fail.
			if settled := s.reconcileCharge(ctx, res.Gateway, txn.Reference, res.Kind); settled != nil {
				result = settled
				chargeErr = nil
			}
		} else if alt := s.tryFailover(ctx, orgID, res.Kind, chargeReq); alt != nil {
			result = alt.result
			chargeErr = nil
			txn.ProviderKind = alt.kind
			txn.ProviderConfigID = alt.configID
		}
	}

	now := time.Now()
	if chargeErr != nil {
		code, message, retryable := classify(chargeErr)
		events, err := txn.Fail(code, message, nil, retryable, now)
		if err != nil {
			return nil, err
		}
		if err := s.persist(ctx, txn, events); err != nil {
			return nil, err
		}
		s.obsMetrics.RecordTransaction(ctx, txn.ProviderKind, string(txn.Status))
		s.log.Warn("payment failed",
			zap.String("reference", txn.Reference),
			zap.String("error_code", code),
			zap.Bool("retryable", retryable),
		)
		return txn, nil
	}

	events, err = txn.Complete(result.ProviderTransactionID, result.RawResponse, now)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, txn, events); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordTransaction(ctx, txn.ProviderKind, string(txn.Status))
	s.log.Info("payment completed",
		zap.String("reference", txn.Reference),
		zap.String("provider", txn.ProviderKind),
	)
	return txn, nil
}

// VoidPayment cancels a transaction before settlement. The provider-side
// void is best effort: a transaction that never reached the provider has
// nothing to cancel there.
func (s *Service) VoidPayment(ctx context.Context, orgID snowflake.ID, reference string, req paymentdomain.VoidRequest) (*paymentdomain.PaymentTransaction, error) {
	txn, err := s.txnRepo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}

	events, err := txn.Void(req.VoidedBy, req.Reason, time.Now())
	if err != nil {
		return nil, err
	}

	if txn.ProviderTransactionID != nil {
		if res, rerr := s.resolver.Resolve(ctx, orgID, txn.ProviderKind); rerr == nil {
			if verr := res.Gateway.Void(ctx, *txn.ProviderTransactionID); verr != nil {
				s.log.Warn("provider void failed",
					zap.String("reference", txn.Reference),
					zap.Error(verr),
				)
			}
		}
	}

	if err := s.persist(ctx, txn, events); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordTransaction(ctx, txn.ProviderKind, string(txn.Status))
	return txn, nil
}

// RequestRefund opens a pending refund against a COMPLETED transaction. The
// requested amount is validated against the cumulative total of already
// completed refunds.
func (s *Service) RequestRefund(ctx context.Context, orgID snowflake.ID, reference string, req paymentdomain.RefundRequest) (*paymentdomain.PaymentRefund, error) {
	txn, err := s.txnRepo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = txn.Currency
	}
	amount, err := money.FromString(req.Amount, currency)
	if err != nil {
		return nil, err
	}

	completedMinor, err := s.refundRepo.SumCompletedAmount(ctx, s.db, txn.ID)
	if err != nil {
		return nil, err
	}
	completed, err := money.New(completedMinor, txn.Currency)
	if err != nil {
		return nil, err
	}

	refund, events, err := txn.RequestRefund(s.genID.Generate(), amount, req.Reason, req.RequestedBy, completed, time.Now())
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.refundRepo.Save(ctx, tx, refund); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRefund(ctx, txn.ProviderKind, string(refund.Status))
	s.log.Info("refund requested",
		zap.String("transaction_reference", txn.Reference),
		zap.String("refund_reference", refund.Reference),
	)
	return refund, nil
}

// ProcessRefund executes a pending refund against the gateway. Once the
// cumulative completed refund total equals the transaction amount exactly,
// the transaction closes as REFUNDED.
func (s *Service) ProcessRefund(ctx context.Context, orgID snowflake.ID, refundReference string) (*paymentdomain.PaymentRefund, error) {
	refund, err := s.refundRepo.FindByReference(ctx, s.db, orgID, refundReference)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, paymentdomain.ErrRefundNotFound
	}

	txn, err := s.txnRepo.FindByID(ctx, s.db, refund.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	if txn.ProviderTransactionID == nil {
		return nil, paymentdomain.ErrMissingProviderTxnID
	}

	res, err := s.resolver.Resolve(ctx, orgID, txn.ProviderKind)
	if err != nil {
		return nil, err
	}

	if err := refund.MarkProcessing(time.Now()); err != nil {
		return nil, err
	}
	if err := s.refundRepo.Update(ctx, s.db, refund); err != nil {
		return nil, err
	}

	refundReq := gateway.RefundRequest{
		ProviderTransactionID: *txn.ProviderTransactionID,
		Amount:                refund.Amount,
		Currency:              refund.Currency,
	}
	if refund.Reason != nil {
		refundReq.Reason = *refund.Reason
	}

	result, refundErr := s.refundWithRetry(ctx, res.Gateway, res.Kind, refundReq)
	now := time.Now()

	if refundErr != nil {
		_, message, _ := classify(refundErr)
		events, ferr := refund.Fail(message, nil, now)
		if ferr != nil {
			return nil, ferr
		}
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.refundRepo.Update(ctx, tx, refund); err != nil {
				return err
			}
			return s.outbox.Publish(ctx, tx, events...)
		})
		if err != nil {
			return nil, err
		}
		s.obsMetrics.RecordRefund(ctx, txn.ProviderKind, string(refund.Status))
		s.log.Warn("refund failed",
			zap.String("refund_reference", refund.Reference),
			zap.String("message", message),
		)
		return refund, nil
	}

	events, err := refund.Complete(result.ProviderRefundID, result.RawResponse, now)
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.refundRepo.Update(ctx, tx, refund); err != nil {
			return err
		}

		total, err := s.refundRepo.SumCompletedAmount(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		if total == txn.Amount {
			completedTotal, err := money.New(total, txn.Currency)
			if err != nil {
				return err
			}
			if _, err := txn.MarkRefunded(completedTotal, now); err != nil {
				return err
			}
			if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
				return err
			}
		}

		return s.outbox.Publish(ctx, tx, events...)
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRefund(ctx, txn.ProviderKind, string(refund.Status))
	s.log.Info("refund completed",
		zap.String("refund_reference", refund.Reference),
		zap.String("transaction_status", string(txn.Status)),
	)
	return refund, nil
}

// ApplyWebhook verifies, dedupes, and applies a provider notification.
// Redelivered events are acknowledged without reprocessing.
func (s *Service) ApplyWebhook(ctx context.Context, orgID snowflake.ID, providerKind string, payload []byte, signature string) error {
	res, err := s.resolver.Resolve(ctx, orgID, providerKind)
	if err != nil {
		return err
	}

	if !res.Gateway.ValidateWebhook(payload, signature) {
		return gateway.NewWebhookVerificationError()
	}

	event, err := res.Gateway.ProcessWebhook("", payload)
	if err != nil {
		return err
	}
	if strings.TrimSpace(event.ProviderEventID) == "" {
		return paymentdomain.ErrInvalidWebhookEvent
	}

	now := time.Now().UTC()
	record := &paymentdomain.WebhookEventRecord{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		Provider:        res.Kind,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.webhookRepo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		stored, err := s.webhookRepo.FindEvent(ctx, s.db, res.Kind, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidWebhookEvent
		}
		if stored.ProcessedAt != nil {
			return nil
		}
		record = stored
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.applyWebhookEvent(ctx, tx, orgID, event, now); err != nil {
			return err
		}
		return s.webhookRepo.MarkProcessed(ctx, tx, record.ID, now)
	})
	if err != nil {
		return err
	}

	s.obsMetrics.RecordWebhookEvent(ctx, res.Kind, event.Type)
	return nil
}

func (s *Service) GetByReference(ctx context.Context, orgID snowflake.ID, reference string) (*paymentdomain.PaymentTransaction, error) {
	txn, err := s.txnRepo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) ListByOrder(ctx context.Context, orgID, orderID snowflake.ID) ([]*paymentdomain.PaymentTransaction, error) {
	return s.txnRepo.FindByOrder(ctx, s.db, orgID, orderID)
}

func (s *Service) ListByStore(ctx context.Context, orgID snowflake.ID, limit, offset int) ([]*paymentdomain.PaymentTransaction, error) {
	return s.txnRepo.FindByStore(ctx, s.db, orgID, limit, offset)
}

func (s *Service) ListRefunds(ctx context.Context, orgID snowflake.ID, reference string) ([]*paymentdomain.PaymentRefund, error) {
	txn, err := s.txnRepo.FindByReference(ctx, s.db, orgID, reference)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, paymentdomain.ErrTransactionNotFound
	}
	return s.refundRepo.FindByTransaction(ctx, s.db, txn.ID)
}

// applyWebhookEvent routes a verified event onto the matching refund or
// transaction. Events that reference nothing we know about are accepted and
// logged; the provider will not be asked to redeliver them.
func (s *Service) applyWebhookEvent(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, event *gateway.WebhookEvent, now time.Time) error {
	if event.ProviderRefundID != "" {
		refund, err := s.refundRepo.FindByProviderRefundID(ctx, tx, event.ProviderRefundID)
		if err != nil {
			return err
		}
		if refund != nil && refund.OrgID == orgID {
			return s.applyRefundEvent(ctx, tx, refund, event, now)
		}
	}

	if event.ProviderTransactionID != "" {
		txn, err := s.txnRepo.FindByProviderTransactionID(ctx, tx, event.ProviderTransactionID)
		if err != nil {
			return err
		}
		if txn != nil && txn.OrgID == orgID {
			return s.applyTransactionEvent(ctx, tx, txn, event, now)
		}
	}

	s.log.Warn("webhook event matched no transaction",
		zap.String("org_id", orgID.String()),
		zap.String("event_type", event.Type),
	)
	return nil
}

func (s *Service) applyTransactionEvent(ctx context.Context, tx *gorm.DB, txn *paymentdomain.PaymentTransaction, event *gateway.WebhookEvent, now time.Time) error {
	switch event.Status {
	case gateway.StatusSucceeded:
		if txn.Status == paymentdomain.StatusCompleted {
			return nil
		}
		events, err := txn.Complete(event.ProviderTransactionID, event.RawPayload, now)
		if err != nil {
			return err
		}
		if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	case gateway.StatusFailed:
		if txn.Status == paymentdomain.StatusFailed {
			return nil
		}
		events, err := txn.Fail("PROVIDER_DECLINED", "provider reported failure via webhook", event.RawPayload, false, now)
		if err != nil {
			return err
		}
		if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	default:
		return nil
	}
}

func (s *Service) applyRefundEvent(ctx context.Context, tx *gorm.DB, refund *paymentdomain.PaymentRefund, event *gateway.WebhookEvent, now time.Time) error {
	switch event.Status {
	case gateway.StatusSucceeded:
		if refund.Status == paymentdomain.RefundStatusCompleted {
			return nil
		}
		events, err := refund.Complete(event.ProviderRefundID, event.RawPayload, now)
		if err != nil {
			return err
		}
		if err := s.refundRepo.Update(ctx, tx, refund); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	case gateway.StatusFailed:
		if refund.Status == paymentdomain.RefundStatusFailed {
			return nil
		}
		events, err := refund.Fail("provider reported refund failure via webhook", event.RawPayload, now)
		if err != nil {
			return err
		}
		if err := s.refundRepo.Update(ctx, tx, refund); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	default:
		return nil
	}
}

func (s *Service) persist(ctx context.Context, txn *paymentdomain.PaymentTransaction, events []paymentdomain.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.txnRepo.Update(ctx, tx, txn); err != nil {
			return err
		}
		return s.outbox.Publish(ctx, tx, events...)
	})
}

// chargeWithRetry runs the charge under the retry policy: each attempt gets
// its own gateway timeout, and only transient provider faults are retried.
func (s *Service) chargeWithRetry(ctx context.Context, gw gateway.Gateway, kind string, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	var result *gateway.ChargeResult
	err := s.withRetry(ctx, kind, func(callCtx context.Context) error {
		r, err := gw.Charge(callCtx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) refundWithRetry(ctx context.Context, gw gateway.Gateway, kind string, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	var result *gateway.RefundResult
	err := s.withRetry(ctx, kind, func(callCtx context.Context) error {
		r, err := gw.Refund(callCtx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) withRetry(ctx context.Context, kind string, call func(ctx context.Context) error) error {
	backoff := s.backoffBase
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !gateway.IsRetryable(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}

		s.obsMetrics.RecordGatewayRetry(ctx, kind)
		select {
		case <-ctx.Done():
			return gateway.NewTimeoutError(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// ambiguousChargeError reports errors where the charge may have reached the
// provider even though no response came back.
func ambiguousChargeError(err error) bool {
	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		return pe.ErrCode == "PROVIDER_TIMEOUT" || pe.ErrCode == "PROVIDER_CONNECTION"
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// reconcileCharge asks the provider for its view of a charge whose outcome
// is unknown, looking it up by the merchant reference sent with the charge.
// It returns the settled result, or nil when the provider reports anything
// other than success (including adapters without a status lookup).
func (s *Service) reconcileCharge(ctx context.Context, gw gateway.Gateway, reference, kind string) *gateway.ChargeResult {
	// The original context may already be done; reconciliation gets its own
	// deadline so a client-side cancel cannot skip it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	status, err := gw.GetTransaction(rctx, reference)
	if err != nil || status == nil {
		s.log.Warn("charge reconciliation inconclusive",
			zap.String("reference", reference),
			zap.String("provider", kind),
			zap.Error(err),
		)
		return nil
	}
	if status.Status != gateway.StatusSucceeded || status.ProviderTransactionID == "" {
		return nil
	}

	s.log.Info("charge settled at provider despite timeout",
		zap.String("reference", reference),
		zap.String("provider", kind),
	)
	return &gateway.ChargeResult{
		ProviderTransactionID: status.ProviderTransactionID,
		Status:                status.Status,
		RawResponse:           status.RawResponse,
	}
}

type failoverOutcome struct {
	result   *gateway.ChargeResult
	kind     string
	configID snowflake.ID
}

// tryFailover gives one alternate provider a single shot at the charge.
// Returning nil means the original failure stands.
func (s *Service) tryFailover(ctx context.Context, orgID snowflake.ID, failedKind string, req gateway.ChargeRequest) *failoverOutcome {
	alt, err := s.resolver.GetFailover(ctx, orgID, failedKind)
	if err != nil || alt == nil {
		return nil
	}

	s.log.Info("attempting provider failover",
		zap.String("org_id", orgID.String()),
		zap.String("failed_provider", failedKind),
		zap.String("failover_provider", alt.Kind),
	)

	result, err := s.chargeWithRetry(ctx, alt.Gateway, alt.Kind, req)
	if err != nil {
		s.log.Warn("failover provider also failed",
			zap.String("provider", alt.Kind),
			zap.Error(err),
		)
		return nil
	}
	return &failoverOutcome{result: result, kind: alt.Kind, configID: alt.ConfigID}
}

// classify splits an error into the stable code, message, and retryability
// recorded on a failed transaction.
func classify(err error) (code, message string, retryable bool) {
	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		return pe.ErrCode, pe.Message, pe.Transient
	}
	return paymentdomain.ErrorCode(err), err.Error(), false
}
