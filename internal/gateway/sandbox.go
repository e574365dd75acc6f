package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Magic tokens the sandbox reacts to deterministically. Anything else
// charges successfully.
const (
	SandboxTokenDeclined    = "tok_declined"
	SandboxTokenTimeout     = "tok_timeout"
	SandboxTokenMaintenance = "tok_maintenance"
)

// Sandbox is an in-process gateway used by tests and local runs. It keeps
// charges in memory and never performs network I/O.
type Sandbox struct {
	mu            sync.Mutex
	log           *zap.Logger
	webhookSecret string
	transactions  map[string]*TransactionStatus
	refunds       map[string]*RefundResult
}

// NewSandbox builds the sandbox adapter. The only credential it understands
// is webhook_secret, used for webhook signature verification.
func NewSandbox(creds Credentials, log *zap.Logger) (Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sandbox{
		log:           log.Named("gateway.sandbox"),
		webhookSecret: creds["webhook_secret"],
		transactions:  make(map[string]*TransactionStatus),
		refunds:       make(map[string]*RefundResult),
	}, nil
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectionError(err)
	}

	switch req.PaymentMethodToken {
	case SandboxTokenTimeout:
		return nil, NewTimeoutError(context.DeadlineExceeded)
	case SandboxTokenMaintenance:
		return nil, NewMaintenanceError("sandbox maintenance window")
	case SandboxTokenDeclined:
		return nil, NewResponseError(http.StatusPaymentRequired, "card declined")
	}

	id := "sb_" + ulid.Make().String()
	raw := map[string]any{
		"id":        id,
		"reference": req.Reference,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"status":    StatusSucceeded,
	}

	s.mu.Lock()
	s.transactions[id] = &TransactionStatus{
		ProviderTransactionID: id,
		Status:                StatusSucceeded,
		RawResponse:           raw,
	}
	s.mu.Unlock()

	s.log.Debug("sandbox charge", zap.String("provider_transaction_id", id))
	return &ChargeResult{ProviderTransactionID: id, Status: StatusSucceeded, RawResponse: raw}, nil
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectionError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[req.ProviderTransactionID]; !ok {
		return nil, NewResponseError(http.StatusNotFound, "unknown provider transaction")
	}

	id := "sbr_" + ulid.Make().String()
	result := &RefundResult{
		ProviderRefundID: id,
		Status:           StatusSucceeded,
		RawResponse: map[string]any{
			"id":          id,
			"transaction": req.ProviderTransactionID,
			"amount":      req.Amount,
			"currency":    req.Currency,
			"status":      StatusSucceeded,
		},
	}
	s.refunds[id] = result
	return result, nil
}

func (s *Sandbox) Void(ctx context.Context, providerTxnID string) error {
	if err := ctx.Err(); err != nil {
		return NewConnectionError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[providerTxnID]
	if !ok {
		return NewResponseError(http.StatusNotFound, "unknown provider transaction")
	}
	txn.Status = StatusFailed
	return nil
}

func (s *Sandbox) GetTransaction(ctx context.Context, providerTxnID string) (*TransactionStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectionError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[providerTxnID]
	if !ok {
		return nil, NewResponseError(http.StatusNotFound, "unknown provider transaction")
	}
	copied := *txn
	return &copied, nil
}

func (s *Sandbox) Tokenize(ctx context.Context, data PaymentData) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewConnectionError(err)
	}
	if strings.TrimSpace(data["number"]) == "" {
		return nil, NewResponseError(http.StatusUnprocessableEntity, "card number is required")
	}

	number := data["number"]
	last4 := number
	if len(number) > 4 {
		last4 = number[len(number)-4:]
	}
	return &Token{
		Value:    "tok_" + ulid.Make().String(),
		Metadata: map[string]string{"last4": last4},
	}, nil
}

func (s *Sandbox) ValidateWebhook(payload []byte, signature string) bool {
	if s.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

type sandboxWebhookPayload struct {
	ID                    string         `json:"id"`
	Type                  string         `json:"type"`
	ProviderTransactionID string         `json:"transaction_id"`
	ProviderRefundID      string         `json:"refund_id"`
	Status                string         `json:"status"`
	Data                  map[string]any `json:"data"`
}

func (s *Sandbox) ProcessWebhook(eventType string, payload []byte) (*WebhookEvent, error) {
	var parsed sandboxWebhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, NewResponseError(http.StatusBadRequest, "malformed webhook payload")
	}
	if parsed.Type == "" {
		parsed.Type = eventType
	}
	return &WebhookEvent{
		ProviderEventID:       parsed.ID,
		Type:                  parsed.Type,
		ProviderTransactionID: parsed.ProviderTransactionID,
		ProviderRefundID:      parsed.ProviderRefundID,
		Status:                parsed.Status,
		RawPayload:            parsed.Data,
	}, nil
}

func (s *Sandbox) Ping(ctx context.Context) error {
	return ctx.Err()
}
