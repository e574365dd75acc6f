package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const stripeDefaultBaseURL = "https://api.stripe.com/v1"

// Stripe talks to the Stripe charges API. Credentials: api_key (secret key),
// webhook_secret, and optionally api_base for test servers.
type Stripe struct {
	log           *zap.Logger
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

// NewStripe builds the Stripe adapter.
func NewStripe(creds Credentials, log *zap.Logger) (Gateway, error) {
	apiKey := strings.TrimSpace(creds["api_key"])
	if apiKey == "" {
		return nil, NewConfigurationError("stripe api_key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	baseURL := strings.TrimSpace(creds["api_base"])
	if baseURL == "" {
		baseURL = stripeDefaultBaseURL
	}

	return &Stripe{
		log:           log.Named("gateway.stripe"),
		apiKey:        apiKey,
		webhookSecret: strings.TrimSpace(creds["webhook_secret"]),
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (g *Stripe) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("source", req.PaymentMethodToken)
	form.Set("metadata[reference]", req.Reference)
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	raw, err := g.call(ctx, http.MethodPost, "/charges", form)
	if err != nil {
		return nil, err
	}

	id, _ := raw["id"].(string)
	if id == "" {
		return nil, NewResponseError(http.StatusBadGateway, "stripe charge response missing id")
	}
	return &ChargeResult{
		ProviderTransactionID: id,
		Status:                normalizeStripeStatus(raw),
		RawResponse:           raw,
	}, nil
}

func (g *Stripe) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	form := url.Values{}
	form.Set("charge", req.ProviderTransactionID)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	raw, err := g.call(ctx, http.MethodPost, "/refunds", form)
	if err != nil {
		return nil, err
	}

	id, _ := raw["id"].(string)
	if id == "" {
		return nil, NewResponseError(http.StatusBadGateway, "stripe refund response missing id")
	}
	return &RefundResult{
		ProviderRefundID: id,
		Status:           normalizeStripeStatus(raw),
		RawResponse:      raw,
	}, nil
}

// Void issues a full refund; the charges API has no separate cancel for
// settled card charges.
func (g *Stripe) Void(ctx context.Context, providerTxnID string) error {
	form := url.Values{}
	form.Set("charge", providerTxnID)
	_, err := g.call(ctx, http.MethodPost, "/refunds", form)
	return err
}

func (g *Stripe) GetTransaction(ctx context.Context, providerTxnID string) (*TransactionStatus, error) {
	raw, err := g.call(ctx, http.MethodGet, "/charges/"+url.PathEscape(providerTxnID), nil)
	if err != nil {
		return nil, err
	}
	return &TransactionStatus{
		ProviderTransactionID: providerTxnID,
		Status:                normalizeStripeStatus(raw),
		RawResponse:           raw,
	}, nil
}

func (g *Stripe) Tokenize(ctx context.Context, data PaymentData) (*Token, error) {
	form := url.Values{}
	for k, v := range data {
		form.Set("card["+k+"]", v)
	}

	raw, err := g.call(ctx, http.MethodPost, "/tokens", form)
	if err != nil {
		return nil, err
	}

	id, _ := raw["id"].(string)
	if id == "" {
		return nil, NewResponseError(http.StatusBadGateway, "stripe token response missing id")
	}

	meta := map[string]string{}
	if card, ok := raw["card"].(map[string]any); ok {
		if last4, ok := card["last4"].(string); ok {
			meta["last4"] = last4
		}
		if brand, ok := card["brand"].(string); ok {
			meta["brand"] = brand
		}
	}
	return &Token{Value: id, Metadata: meta}, nil
}

// ValidateWebhook checks the Stripe-Signature header scheme: the signed
// payload is "<timestamp>.<body>" keyed by the webhook secret.
func (g *Stripe) ValidateWebhook(payload []byte, signature string) bool {
	if g.webhookSecret == "" {
		return false
	}
	timestamp, signatures, err := parseStripeSignature(signature)
	if err != nil {
		return false
	}

	signedPayload := timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

func (g *Stripe) ProcessWebhook(eventType string, payload []byte) (*WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewResponseError(http.StatusBadRequest, "malformed stripe event payload")
	}
	if event.ID == "" {
		return nil, NewResponseError(http.StatusBadRequest, "stripe event missing id")
	}
	if eventType == "" {
		eventType = event.Type
	}

	out := &WebhookEvent{
		ProviderEventID: event.ID,
		Type:            eventType,
		RawPayload:      event.Data.Object,
	}

	objectID, _ := event.Data.Object["id"].(string)
	switch eventType {
	case "charge.succeeded", "payment_intent.succeeded":
		out.ProviderTransactionID = objectID
		out.Status = StatusSucceeded
	case "charge.failed", "payment_intent.payment_failed":
		out.ProviderTransactionID = objectID
		out.Status = StatusFailed
	case "charge.refunded":
		out.ProviderTransactionID = objectID
		out.Status = StatusSucceeded
	case "refund.created", "refund.updated", "charge.refund.updated":
		out.ProviderRefundID = objectID
		out.Status = normalizeStripeStatus(event.Data.Object)
	default:
		out.ProviderTransactionID = objectID
		out.Status = normalizeStripeStatus(event.Data.Object)
	}
	return out, nil
}

func (g *Stripe) Ping(ctx context.Context) error {
	_, err := g.call(ctx, http.MethodGet, "/balance", nil)
	return err
}

func (g *Stripe) call(ctx context.Context, method, path string, form url.Values) (map[string]any, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, NewConfigurationError(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewTimeoutError(err)
		}
		return nil, NewConnectionError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, NewConnectionError(err)
	}

	var raw map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, NewResponseError(resp.StatusCode, "stripe returned a non-JSON response")
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, NewAuthenticationError("stripe rejected the api key")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewRateLimitError("stripe rate limit exceeded")
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, NewResponseError(resp.StatusCode, stripeErrorMessage(raw))
	}
	return raw, nil
}

func stripeErrorMessage(raw map[string]any) string {
	if errObj, ok := raw["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return "stripe request failed"
}

func normalizeStripeStatus(raw map[string]any) string {
	status, _ := raw["status"].(string)
	switch status {
	case "succeeded":
		return StatusSucceeded
	case "pending", "processing", "requires_action", "requires_capture":
		return StatusPending
	default:
		return StatusFailed
	}
}

// parseStripeSignature splits "t=<ts>,v1=<sig>[,v1=<sig>...]".
func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, fmt.Errorf("malformed signature header")
	}
	return timestamp, signatures, nil
}
