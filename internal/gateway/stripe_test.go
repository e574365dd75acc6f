package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func stripeSign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestStripe(t *testing.T, baseURL string) Gateway {
	t.Helper()
	gw, err := NewStripe(Credentials{
		"api_key":        "sk_test_123",
		"webhook_secret": "whsec_stripe",
		"api_base":       baseURL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build stripe adapter: %v", err)
	}
	return gw
}

func TestStripeRequiresAPIKey(t *testing.T) {
	_, err := NewStripe(Credentials{}, zap.NewNop())
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.ErrCode != "PROVIDER_CONFIGURATION" {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStripeChargeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charges" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test_123" {
			t.Error("missing bearer auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("amount") != "4999" || r.PostForm.Get("currency") != "usd" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ch_123", "status": "succeeded"})
	}))
	defer srv.Close()

	gw := newTestStripe(t, srv.URL)
	result, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 4999, Currency: "USD", PaymentMethodToken: "tok_visa"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.ProviderTransactionID != "ch_123" || result.Status != StatusSucceeded {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestStripeChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "Your card was declined."}})
	}))
	defer srv.Close()

	gw := newTestStripe(t, srv.URL)
	_, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 100, Currency: "USD"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.ErrCode != "PROVIDER_RESPONSE" || pe.Transient {
		t.Fatalf("a decline is a permanent response error, got %+v", pe)
	}
	if pe.Message != "Your card was declined." {
		t.Fatalf("expected provider message passthrough, got %q", pe.Message)
	}
}

func TestStripeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	gw := newTestStripe(t, srv.URL)
	_, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 100, Currency: "USD"})
	if !IsRetryable(err) {
		t.Fatalf("5xx must be retryable, got %v", err)
	}
}

func TestStripeAuthAndRateLimitMapping(t *testing.T) {
	for status, code := range map[int]string{
		http.StatusUnauthorized:    "PROVIDER_AUTHENTICATION",
		http.StatusTooManyRequests: "PROVIDER_RATE_LIMIT",
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{})
		}))
		gw := newTestStripe(t, srv.URL)
		_, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 100, Currency: "USD"})
		srv.Close()

		var pe *ProviderError
		if !errors.As(err, &pe) || pe.ErrCode != code {
			t.Fatalf("status %d: expected %s, got %v", status, code, err)
		}
	}
}

func TestStripeValidateWebhook(t *testing.T) {
	gw := newTestStripe(t, "http://unused")
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_123","status":"succeeded"}}}`)

	sig := "t=1700000000,v1=" + stripeSign("whsec_stripe", "1700000000", payload)
	if !gw.ValidateWebhook(payload, sig) {
		t.Fatal("valid signature must verify")
	}
	if gw.ValidateWebhook(payload, "t=1700000000,v1=deadbeef") {
		t.Fatal("bad signature must fail")
	}
	if gw.ValidateWebhook(payload, "garbage") {
		t.Fatal("malformed header must fail")
	}

	// Second v1 entry still verifies (secret rotation).
	rotated := "t=1700000000,v1=deadbeef,v1=" + stripeSign("whsec_stripe", "1700000000", payload)
	if !gw.ValidateWebhook(payload, rotated) {
		t.Fatal("any matching v1 signature must verify")
	}
}

func TestStripeProcessWebhookRouting(t *testing.T) {
	gw := newTestStripe(t, "http://unused")

	charge := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_123","status":"succeeded"}}}`)
	event, err := gw.ProcessWebhook("", charge)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.ProviderEventID != "evt_1" || event.ProviderTransactionID != "ch_123" || event.Status != StatusSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	failed := []byte(`{"id":"evt_2","type":"charge.failed","data":{"object":{"id":"ch_124","status":"failed"}}}`)
	event, err = gw.ProcessWebhook("", failed)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", event.Status)
	}

	refund := []byte(`{"id":"evt_3","type":"refund.updated","data":{"object":{"id":"re_1","status":"succeeded"}}}`)
	event, err = gw.ProcessWebhook("", refund)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.ProviderRefundID != "re_1" || event.Status != StatusSucceeded {
		t.Fatalf("unexpected refund event %+v", event)
	}

	if _, err := gw.ProcessWebhook("", []byte(`{"type":"charge.succeeded"}`)); err == nil {
		t.Fatal("event without id must be rejected")
	}
}
