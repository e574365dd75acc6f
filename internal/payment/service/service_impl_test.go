package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/gateway"
	"github.com/smallbiznis/payflow/internal/outbox"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/payflow/internal/payment/repository"
	pcdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	pcrepo "github.com/smallbiznis/payflow/internal/providerconfig/repository"
	pcservice "github.com/smallbiznis/payflow/internal/providerconfig/service"
	"github.com/smallbiznis/payflow/internal/resolver"
	pkgdb "github.com/smallbiznis/payflow/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test"

type testEnv struct {
	svc   *Service
	db    *gorm.DB
	node  *snowflake.Node
	orgID snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRegistry(t, gateway.NewDefaultRegistry())
}

func newTestEnvWithRegistry(t *testing.T, registry *gateway.Registry) *testEnv {
	t.Helper()

	dbConn, err := pkgdb.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(
		&paymentdomain.PaymentTransaction{},
		&paymentdomain.PaymentRefund{},
		&paymentdomain.WebhookEventRecord{},
		&outbox.PaymentEvent{},
		&pcdomain.CatalogProvider{},
		&pcdomain.StoreProviderConfig{},
		&pcdomain.ProviderHealth{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	log := zap.NewNop()

	cfg := config.Config{
		ProviderConfigSecret: "test-secret",
		GatewayTimeout:       5 * time.Second,
		GatewayMaxAttempts:   2,
		GatewayBackoffBase:   time.Millisecond,
	}

	if err := dbConn.Create(&pcdomain.CatalogProvider{
		Provider:        "sandbox",
		DisplayName:     "Sandbox",
		SupportsWebhook: true,
		SupportsRefund:  true,
		CreatedAt:       time.Now().UTC(),
	}).Error; err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}

	repo := pcrepo.Provide()
	pcSvc := pcservice.New(pcservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Repo:  repo,
		Cfg:   cfg,
	})

	orgID := node.Generate()
	if _, err := pcSvc.UpsertConfig(context.Background(), orgID, pcdomain.UpsertRequest{
		Provider:  "sandbox",
		Config:    map[string]any{"webhook_secret": testWebhookSecret},
		IsPrimary: true,
	}); err != nil {
		t.Fatalf("failed to configure sandbox: %v", err)
	}

	res := resolver.New(dbConn, log, repo, pcservice.NewCredentialResolver(pcSvc), registry, node, nil, resolver.Config{})

	svc := NewService(Params{
		DB:          dbConn,
		Log:         log,
		GenID:       node,
		TxnRepo:     paymentrepo.ProvideTransactionRepository(),
		RefundRepo:  paymentrepo.ProvideRefundRepository(),
		WebhookRepo: paymentrepo.ProvideWebhookEventRepository(),
		Resolver:    res,
		Outbox:      outbox.NewPublisher(node),
		Cfg:         cfg,
	})

	return &testEnv{svc: svc, db: dbConn, node: node, orgID: orgID}
}

func (e *testEnv) createPayment(t *testing.T, token string) *paymentdomain.PaymentTransaction {
	t.Helper()
	txn, err := e.svc.CreatePayment(context.Background(), paymentdomain.CreatePaymentRequest{
		OrgID:              e.orgID,
		Amount:             "49.99",
		Currency:           "USD",
		PaymentMethodToken: token,
	})
	if err != nil {
		t.Fatalf("failed to create payment: %v", err)
	}
	return txn
}

func (e *testEnv) outboxEventTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	if err := e.db.Model(&outbox.PaymentEvent{}).Order("created_at, id").Pluck("event_type", &types).Error; err != nil {
		t.Fatalf("failed to read outbox: %v", err)
	}
	return types
}

func TestCreatePaymentOpensPending(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createPayment(t, "tok_visa")

	if txn.Status != paymentdomain.StatusPending {
		t.Fatalf("expected PENDING, got %s", txn.Status)
	}
	if txn.Reference == "" {
		t.Fatal("expected a transaction reference")
	}
	if txn.ProviderKind != "sandbox" {
		t.Fatalf("expected primary provider sandbox, got %s", txn.ProviderKind)
	}
	if txn.Amount != 4999 || txn.Currency != "USD" {
		t.Fatalf("unexpected amount %d %s", txn.Amount, txn.Currency)
	}

	types := env.outboxEventTypes(t)
	if len(types) != 1 || types[0] != string(paymentdomain.EventPaymentCreated) {
		t.Fatalf("expected payment.created in outbox, got %v", types)
	}
}

func TestCreatePaymentIdempotencyKeyReturnsExisting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := paymentdomain.CreatePaymentRequest{
		OrgID:          env.orgID,
		Amount:         "10.00",
		Currency:       "USD",
		IdempotencyKey: "order-42",
	}
	first, err := env.svc.CreatePayment(ctx, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := env.svc.CreatePayment(ctx, req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same transaction, got %s and %s", first.ID, second.ID)
	}

	var count int64
	env.db.Model(&paymentdomain.PaymentTransaction{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one persisted transaction, got %d", count)
	}
}

func TestCreatePaymentConcurrentSameKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := paymentdomain.CreatePaymentRequest{
		OrgID:          env.orgID,
		Amount:         "10.00",
		Currency:       "USD",
		IdempotencyKey: "order-77",
	}

	const workers = 8
	results := make([]*paymentdomain.PaymentTransaction, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.CreatePayment(ctx, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("workers observed different transactions: %s and %s", results[0].ID, results[i].ID)
		}
	}

	var count int64
	env.db.Model(&paymentdomain.PaymentTransaction{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one persisted transaction, got %d", count)
	}
}

func TestCreatePaymentNoProviderConfigured(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.CreatePayment(context.Background(), paymentdomain.CreatePaymentRequest{
		OrgID:    env.node.Generate(),
		Amount:   "10.00",
		Currency: "USD",
	})
	if !errors.Is(err, paymentdomain.ErrStoreNotConfigured) {
		t.Fatalf("expected ErrStoreNotConfigured, got %v", err)
	}
}

func TestProcessPaymentCompletes(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createPayment(t, "tok_visa")

	processed, err := env.svc.ProcessPayment(context.Background(), env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", processed.Status)
	}
	if processed.ProviderTransactionID == nil {
		t.Fatal("expected provider transaction id")
	}

	types := env.outboxEventTypes(t)
	want := []string{
		string(paymentdomain.EventPaymentCreated),
		string(paymentdomain.EventPaymentProcessing),
		string(paymentdomain.EventPaymentCompleted),
	}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestProcessPaymentDeclinedRecordsFailure(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createPayment(t, gateway.SandboxTokenDeclined)

	processed, err := env.svc.ProcessPayment(context.Background(), env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", processed.Status)
	}
	if processed.ErrorCode == nil || *processed.ErrorCode != "PROVIDER_DECLINED" {
		t.Fatalf("expected PROVIDER_DECLINED, got %v", processed.ErrorCode)
	}
	if processed.ErrorRetryable == nil || *processed.ErrorRetryable {
		t.Fatal("a decline is not retryable")
	}
}

// flakyGateway fails every charge with a configured error and answers
// status lookups with a canned response.
type flakyGateway struct {
	chargeErr error
	status    *gateway.TransactionStatus
	statusErr error

	mu          sync.Mutex
	chargeCalls int
	lookups     []string
}

func (g *flakyGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	g.chargeCalls++
	g.mu.Unlock()
	return nil, g.chargeErr
}

func (g *flakyGateway) GetTransaction(ctx context.Context, providerTxnID string) (*gateway.TransactionStatus, error) {
	g.mu.Lock()
	g.lookups = append(g.lookups, providerTxnID)
	g.mu.Unlock()
	return g.status, g.statusErr
}

func (g *flakyGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	return nil, gateway.NewResponseError(500, "refund unavailable")
}

func (g *flakyGateway) Void(ctx context.Context, providerTxnID string) error { return nil }

func (g *flakyGateway) Tokenize(ctx context.Context, data gateway.PaymentData) (*gateway.Token, error) {
	return nil, gateway.NewResponseError(500, "tokenize unavailable")
}

func (g *flakyGateway) ValidateWebhook(payload []byte, signature string) bool { return true }

func (g *flakyGateway) ProcessWebhook(eventType string, payload []byte) (*gateway.WebhookEvent, error) {
	return nil, gateway.NewResponseError(500, "webhook unavailable")
}

func (g *flakyGateway) Ping(ctx context.Context) error { return nil }

func registryWith(kind string, gw gateway.Gateway) *gateway.Registry {
	reg := gateway.NewRegistry()
	reg.Register(kind, func(gateway.Credentials, *zap.Logger) (gateway.Gateway, error) {
		return gw, nil
	})
	return reg
}

func TestProcessPaymentTimeoutReconciledAsSettled(t *testing.T) {
	stub := &flakyGateway{
		chargeErr: gateway.NewTimeoutError(context.DeadlineExceeded),
		status: &gateway.TransactionStatus{
			ProviderTransactionID: "sb_settled_1",
			Status:                gateway.StatusSucceeded,
		},
	}
	env := newTestEnvWithRegistry(t, registryWith("sandbox", stub))
	txn := env.createPayment(t, "tok_visa")

	processed, err := env.svc.ProcessPayment(context.Background(), env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusCompleted {
		t.Fatalf("settled charge must complete the transaction, got %s", processed.Status)
	}
	if processed.ProviderTransactionID == nil || *processed.ProviderTransactionID != "sb_settled_1" {
		t.Fatalf("expected the provider's transaction id, got %v", processed.ProviderTransactionID)
	}
	if stub.chargeCalls != 2 {
		t.Fatalf("expected the retry policy to run before reconciliation, got %d charge calls", stub.chargeCalls)
	}
	if len(stub.lookups) != 1 || stub.lookups[0] != txn.Reference {
		t.Fatalf("reconciliation must look the charge up by merchant reference, got %v", stub.lookups)
	}
}

func TestProcessPaymentTimeoutInconclusiveFails(t *testing.T) {
	stub := &flakyGateway{
		chargeErr: gateway.NewTimeoutError(context.DeadlineExceeded),
		statusErr: gateway.NewConnectionError(errors.New("connection reset")),
	}
	env := newTestEnvWithRegistry(t, registryWith("sandbox", stub))
	txn := env.createPayment(t, "tok_visa")

	processed, err := env.svc.ProcessPayment(context.Background(), env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if processed.Status != paymentdomain.StatusFailed {
		t.Fatalf("inconclusive reconciliation must fail the transaction, got %s", processed.Status)
	}
	if processed.ErrorCode == nil || *processed.ErrorCode != "PROVIDER_TIMEOUT" {
		t.Fatalf("expected PROVIDER_TIMEOUT, got %v", processed.ErrorCode)
	}
	if processed.ErrorRetryable == nil || !*processed.ErrorRetryable {
		t.Fatal("a timeout is retryable by the caller")
	}
	if len(stub.lookups) == 0 {
		t.Fatal("expected the provider to be asked for the charge outcome")
	}
}

func TestProcessPaymentNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.ProcessPayment(context.Background(), env.orgID, "TXN-MISSING")
	if !errors.Is(err, paymentdomain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestVoidBeforeProcessing(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createPayment(t, "tok_visa")

	voided, err := env.svc.VoidPayment(context.Background(), env.orgID, txn.Reference, paymentdomain.VoidRequest{Reason: "customer cancelled"})
	if err != nil {
		t.Fatalf("void payment: %v", err)
	}
	if voided.Status != paymentdomain.StatusVoided {
		t.Fatalf("expected VOIDED, got %s", voided.Status)
	}

	// Settled transactions cannot be voided.
	settled := env.createPayment(t, "tok_visa")
	if _, err := env.svc.ProcessPayment(context.Background(), env.orgID, settled.Reference); err != nil {
		t.Fatalf("process payment: %v", err)
	}
	var notAllowed *paymentdomain.VoidNotAllowedError
	if _, err := env.svc.VoidPayment(context.Background(), env.orgID, settled.Reference, paymentdomain.VoidRequest{}); !errors.As(err, &notAllowed) {
		t.Fatalf("expected VoidNotAllowedError, got %v", err)
	}
}

func TestRefundCumulativeClosure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.createPayment(t, "tok_visa")
	if _, err := env.svc.ProcessPayment(ctx, env.orgID, txn.Reference); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	first, err := env.svc.RequestRefund(ctx, env.orgID, txn.Reference, paymentdomain.RefundRequest{Amount: "20.00"})
	if err != nil {
		t.Fatalf("request first refund: %v", err)
	}
	if _, err := env.svc.ProcessRefund(ctx, env.orgID, first.Reference); err != nil {
		t.Fatalf("process first refund: %v", err)
	}

	after, err := env.svc.GetByReference(ctx, env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if after.Status != paymentdomain.StatusCompleted {
		t.Fatalf("partial refund must not close the transaction, got %s", after.Status)
	}

	// Over the remainder: 20.00 refunded of 49.99 leaves 29.99.
	var exceeded *paymentdomain.RefundAmountExceededError
	if _, err := env.svc.RequestRefund(ctx, env.orgID, txn.Reference, paymentdomain.RefundRequest{Amount: "30.00"}); !errors.As(err, &exceeded) {
		t.Fatalf("expected RefundAmountExceededError, got %v", err)
	}

	second, err := env.svc.RequestRefund(ctx, env.orgID, txn.Reference, paymentdomain.RefundRequest{Amount: "29.99"})
	if err != nil {
		t.Fatalf("request second refund: %v", err)
	}
	processed, err := env.svc.ProcessRefund(ctx, env.orgID, second.Reference)
	if err != nil {
		t.Fatalf("process second refund: %v", err)
	}
	if processed.Status != paymentdomain.RefundStatusCompleted {
		t.Fatalf("expected completed refund, got %s", processed.Status)
	}

	closed, err := env.svc.GetByReference(ctx, env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if closed.Status != paymentdomain.StatusRefunded {
		t.Fatalf("exact cumulative total must close the transaction, got %s", closed.Status)
	}

	refunds, err := env.svc.ListRefunds(ctx, env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 2 {
		t.Fatalf("expected two refunds, got %d", len(refunds))
	}
}

func TestRefundRequiresCompletedTransaction(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createPayment(t, "tok_visa")

	var notAllowed *paymentdomain.RefundNotAllowedError
	_, err := env.svc.RequestRefund(context.Background(), env.orgID, txn.Reference, paymentdomain.RefundRequest{Amount: "5.00"})
	if !errors.As(err, &notAllowed) {
		t.Fatalf("expected RefundNotAllowedError, got %v", err)
	}
}

func signSandboxPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestApplyWebhookCompletesTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.createPayment(t, "tok_visa")

	payload, _ := json.Marshal(map[string]any{
		"id":             "evt_1",
		"type":           "payment.updated",
		"transaction_id": "sb_unknown",
		"status":         gateway.StatusSucceeded,
	})
	// Unmatched events are accepted without mutating anything.
	if err := env.svc.ApplyWebhook(ctx, env.orgID, "sandbox", payload, signSandboxPayload(payload)); err != nil {
		t.Fatalf("apply unmatched webhook: %v", err)
	}

	processed, err := env.svc.ProcessPayment(ctx, env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	failedPayload, _ := json.Marshal(map[string]any{
		"id":             "evt_2",
		"type":           "payment.updated",
		"transaction_id": *processed.ProviderTransactionID,
		"status":         gateway.StatusFailed,
	})
	// Already COMPLETED; a failure event cannot transition it and must error.
	if err := env.svc.ApplyWebhook(ctx, env.orgID, "sandbox", failedPayload, signSandboxPayload(failedPayload)); err == nil {
		t.Fatal("expected illegal transition to surface")
	}
}

func TestApplyWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"id":"evt_9","status":"succeeded"}`)

	err := env.svc.ApplyWebhook(context.Background(), env.orgID, "sandbox", payload, "deadbeef")
	var pe *gateway.ProviderError
	if !errors.As(err, &pe) || pe.ErrCode != "WEBHOOK_VERIFICATION" {
		t.Fatalf("expected webhook verification error, got %v", err)
	}
}

func TestApplyWebhookDeduplicatesDeliveries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.createPayment(t, "tok_visa")
	processed, err := env.svc.ProcessPayment(ctx, env.orgID, txn.Reference)
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"id":             "evt_dup_1",
		"type":           "payment.updated",
		"transaction_id": *processed.ProviderTransactionID,
		"status":         gateway.StatusSucceeded,
	})
	sig := signSandboxPayload(payload)

	if err := env.svc.ApplyWebhook(ctx, env.orgID, "sandbox", payload, sig); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := env.svc.ApplyWebhook(ctx, env.orgID, "sandbox", payload, sig); err != nil {
		t.Fatalf("redelivery must be acknowledged: %v", err)
	}

	var count int64
	env.db.Model(&paymentdomain.WebhookEventRecord{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one stored webhook event, got %d", count)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	err := env.svc.withRetry(context.Background(), "sandbox", func(ctx context.Context) error {
		calls++
		return gateway.NewResponseError(402, "card declined")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestWithRetryRetriesTransientErrors(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	err := env.svc.withRetry(context.Background(), "sandbox", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return gateway.NewTimeoutError(context.DeadlineExceeded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetryGivesEachAttemptItsOwnDeadline(t *testing.T) {
	env := newTestEnv(t)
	var deadlines []time.Time
	err := env.svc.withRetry(context.Background(), "sandbox", func(ctx context.Context) error {
		d, ok := ctx.Deadline()
		if !ok {
			t.Fatal("expected a deadline on the attempt context")
		}
		deadlines = append(deadlines, d)
		if len(deadlines) == 1 {
			return gateway.NewTimeoutError(context.DeadlineExceeded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if len(deadlines) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(deadlines))
	}
	if !deadlines[1].After(deadlines[0]) {
		t.Fatal("the retry must start a fresh gateway timeout, not inherit the first attempt's deadline")
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	err := env.svc.withRetry(context.Background(), "sandbox", func(ctx context.Context) error {
		calls++
		return gateway.NewConnectionError(errors.New("connection reset"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("expected GatewayMaxAttempts calls, got %d", calls)
	}
}
