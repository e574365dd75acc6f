package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const adyenDefaultBaseURL = "https://checkout-test.adyen.com/v71"

// Adyen talks to the Adyen checkout API. Credentials: api_key,
// merchant_account, hmac_key (hex, webhook verification), and optionally
// api_base for test servers.
type Adyen struct {
	log             *zap.Logger
	apiKey          string
	merchantAccount string
	hmacKey         string
	baseURL         string
	client          *http.Client
}

// NewAdyen builds the Adyen adapter.
func NewAdyen(creds Credentials, log *zap.Logger) (Gateway, error) {
	apiKey := strings.TrimSpace(creds["api_key"])
	merchant := strings.TrimSpace(creds["merchant_account"])
	if apiKey == "" || merchant == "" {
		return nil, NewConfigurationError("adyen api_key and merchant_account are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	baseURL := strings.TrimSpace(creds["api_base"])
	if baseURL == "" {
		baseURL = adyenDefaultBaseURL
	}

	return &Adyen{
		log:             log.Named("gateway.adyen"),
		apiKey:          apiKey,
		merchantAccount: merchant,
		hmacKey:         strings.TrimSpace(creds["hmac_key"]),
		baseURL:         strings.TrimRight(baseURL, "/"),
		client:          &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (g *Adyen) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := map[string]any{
		"amount": map[string]any{
			"value":    req.Amount,
			"currency": strings.ToUpper(req.Currency),
		},
		"reference":       req.Reference,
		"merchantAccount": g.merchantAccount,
		"paymentMethod": map[string]any{
			"type":                  "scheme",
			"storedPaymentMethodId": req.PaymentMethodToken,
		},
		"shopperInteraction": "ContAuth",
	}

	raw, err := g.call(ctx, "/payments", payload)
	if err != nil {
		return nil, err
	}

	pspReference, _ := raw["pspReference"].(string)
	resultCode, _ := raw["resultCode"].(string)

	status, perr := normalizeAdyenResult(resultCode, raw)
	if perr != nil {
		return nil, perr
	}
	if pspReference == "" {
		return nil, NewResponseError(http.StatusBadGateway, "adyen payment response missing pspReference")
	}
	return &ChargeResult{
		ProviderTransactionID: pspReference,
		Status:                status,
		RawResponse:           raw,
	}, nil
}

func (g *Adyen) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	payload := map[string]any{
		"amount": map[string]any{
			"value":    req.Amount,
			"currency": strings.ToUpper(req.Currency),
		},
		"merchantAccount": g.merchantAccount,
		"reference":       req.Reason,
	}

	raw, err := g.call(ctx, "/payments/"+url.PathEscape(req.ProviderTransactionID)+"/refunds", payload)
	if err != nil {
		return nil, err
	}

	pspReference, _ := raw["pspReference"].(string)
	if pspReference == "" {
		return nil, NewResponseError(http.StatusBadGateway, "adyen refund response missing pspReference")
	}
	// Refunds settle asynchronously; the REFUND notification completes them.
	return &RefundResult{
		ProviderRefundID: pspReference,
		Status:           StatusPending,
		RawResponse:      raw,
	}, nil
}

func (g *Adyen) Void(ctx context.Context, providerTxnID string) error {
	payload := map[string]any{"merchantAccount": g.merchantAccount}
	_, err := g.call(ctx, "/payments/"+url.PathEscape(providerTxnID)+"/cancels", payload)
	return err
}

// GetTransaction is not supported: the checkout API has no synchronous
// status lookup; state arrives through notifications.
func (g *Adyen) GetTransaction(ctx context.Context, providerTxnID string) (*TransactionStatus, error) {
	return nil, NewNotSupportedError("adyen")
}

// Tokenize is not supported: Adyen tokenizes during the payment flow with
// storePaymentMethod, not through a standalone endpoint.
func (g *Adyen) Tokenize(ctx context.Context, data PaymentData) (*Token, error) {
	return nil, NewNotSupportedError("adyen")
}

// ValidateWebhook verifies the per-item HMAC carried inside the
// notification payload. Adyen signs each notification item, not the HTTP
// body, so the signature argument is unused.
func (g *Adyen) ValidateWebhook(payload []byte, signature string) bool {
	if g.hmacKey == "" {
		return false
	}

	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return false
	}
	if len(root.NotificationItems) == 0 {
		return false
	}

	for _, item := range root.NotificationItems {
		sig := item.NotificationRequestItem.AdditionalData["hmacSignature"]
		if sig == "" {
			return false
		}
		if !g.verifyItemSignature(item.NotificationRequestItem, sig) {
			return false
		}
	}
	return true
}

func (g *Adyen) verifyItemSignature(item adyenNotificationRequestItem, expected string) bool {
	// Signing string field order and escaping follow the Adyen HMAC spec:
	// backslash doubles, colon becomes backslash-colon, fields join on colon.
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}

	var sb strings.Builder
	for i, part := range parts {
		escaped := strings.ReplaceAll(part, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, ":", `\:`)
		sb.WriteString(escaped)
		if i < len(parts)-1 {
			sb.WriteString(":")
		}
	}

	keyBytes, err := hex.DecodeString(g.hmacKey)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, keyBytes)
	mac.Write([]byte(sb.String()))
	calculated := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(calculated), []byte(expected))
}

type adyenNotificationRoot struct {
	NotificationItems []adyenNotificationItem `json:"notificationItems"`
}

type adyenNotificationItem struct {
	NotificationRequestItem adyenNotificationRequestItem `json:"NotificationRequestItem"`
}

type adyenNotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              adyenAmount       `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Success             string            `json:"success"`
	Reason              string            `json:"reason"`
}

type adyenAmount struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
}

// ProcessWebhook normalizes the first notification item; Adyen batches are
// configured to one item per request.
func (g *Adyen) ProcessWebhook(eventType string, payload []byte) (*WebhookEvent, error) {
	var root adyenNotificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, NewResponseError(http.StatusBadRequest, "malformed adyen notification payload")
	}
	if len(root.NotificationItems) == 0 {
		return nil, NewResponseError(http.StatusBadRequest, "adyen notification has no items")
	}

	item := root.NotificationItems[0].NotificationRequestItem
	if item.PspReference == "" || item.EventCode == "" {
		return nil, NewResponseError(http.StatusBadRequest, "adyen notification item missing pspReference or eventCode")
	}

	status := StatusFailed
	if item.Success == "true" {
		status = StatusSucceeded
	}

	out := &WebhookEvent{
		ProviderEventID: item.PspReference + ":" + item.EventCode,
		Type:            item.EventCode,
		Status:          status,
		RawPayload: map[string]any{
			"pspReference":      item.PspReference,
			"originalReference": item.OriginalReference,
			"eventCode":         item.EventCode,
			"reason":            item.Reason,
			"amount":            item.Amount.Value,
			"currency":          item.Amount.Currency,
		},
	}

	switch item.EventCode {
	case "REFUND", "REFUND_FAILED", "CANCELLATION":
		out.ProviderRefundID = item.PspReference
		out.ProviderTransactionID = item.OriginalReference
		if item.EventCode == "REFUND_FAILED" {
			out.Status = StatusFailed
		}
	default:
		out.ProviderTransactionID = item.PspReference
	}
	return out, nil
}

func (g *Adyen) Ping(ctx context.Context) error {
	_, err := g.call(ctx, "/paymentMethods", map[string]any{"merchantAccount": g.merchantAccount})
	return err
}

func (g *Adyen) call(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewConfigurationError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, NewConfigurationError(err.Error())
	}
	req.Header.Set("X-API-Key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")

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
			return nil, NewResponseError(resp.StatusCode, "adyen returned a non-JSON response")
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, NewAuthenticationError("adyen rejected the api key")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewRateLimitError("adyen rate limit exceeded")
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, NewResponseError(resp.StatusCode, adyenErrorMessage(raw))
	}
	return raw, nil
}

func adyenErrorMessage(raw map[string]any) string {
	if msg, ok := raw["message"].(string); ok && msg != "" {
		return msg
	}
	return "adyen request failed"
}

func normalizeAdyenResult(resultCode string, raw map[string]any) (string, error) {
	switch resultCode {
	case "Authorised":
		return StatusSucceeded, nil
	case "Received", "Pending":
		return StatusPending, nil
	case "Refused":
		reason, _ := raw["refusalReason"].(string)
		if reason == "" {
			reason = "payment refused"
		}
		return "", NewResponseError(http.StatusPaymentRequired, reason)
	default:
		return "", NewResponseError(http.StatusBadGateway, "unexpected adyen resultCode "+resultCode)
	}
}
