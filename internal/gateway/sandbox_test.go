package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestSandbox(t *testing.T) Gateway {
	t.Helper()
	gw, err := NewSandbox(Credentials{"webhook_secret": "whsec"}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build sandbox: %v", err)
	}
	return gw
}

func TestSandboxChargeRefundRoundTrip(t *testing.T) {
	gw := newTestSandbox(t)
	ctx := context.Background()

	charge, err := gw.Charge(ctx, ChargeRequest{Reference: "TXN-1", Amount: 4999, Currency: "USD", PaymentMethodToken: "tok_visa"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if charge.Status != StatusSucceeded || charge.ProviderTransactionID == "" {
		t.Fatalf("unexpected charge result %+v", charge)
	}

	status, err := gw.GetTransaction(ctx, charge.ProviderTransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if status.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", status.Status)
	}

	refund, err := gw.Refund(ctx, RefundRequest{ProviderTransactionID: charge.ProviderTransactionID, Amount: 4999, Currency: "USD"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Status != StatusSucceeded || refund.ProviderRefundID == "" {
		t.Fatalf("unexpected refund result %+v", refund)
	}
}

func TestSandboxMagicTokens(t *testing.T) {
	gw := newTestSandbox(t)
	ctx := context.Background()

	cases := []struct {
		token     string
		code      string
		transient bool
	}{
		{SandboxTokenDeclined, "PROVIDER_RESPONSE", false},
		{SandboxTokenTimeout, "PROVIDER_TIMEOUT", true},
		{SandboxTokenMaintenance, "PROVIDER_MAINTENANCE", true},
	}
	for _, c := range cases {
		_, err := gw.Charge(ctx, ChargeRequest{Reference: "TXN-1", Amount: 100, Currency: "USD", PaymentMethodToken: c.token})
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected provider error, got %v", c.token, err)
		}
		if pe.ErrCode != c.code {
			t.Errorf("%s: expected %s, got %s", c.token, c.code, pe.ErrCode)
		}
		if pe.Transient != c.transient {
			t.Errorf("%s: expected transient=%v", c.token, c.transient)
		}
	}
}

func TestSandboxRefundUnknownTransaction(t *testing.T) {
	gw := newTestSandbox(t)
	_, err := gw.Refund(context.Background(), RefundRequest{ProviderTransactionID: "sb_missing", Amount: 100, Currency: "USD"})
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("a 404 is not retryable")
	}
}

func TestSandboxWebhookVerification(t *testing.T) {
	gw := newTestSandbox(t)
	payload := []byte(`{"id":"evt_1","type":"payment.updated","status":"succeeded"}`)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !gw.ValidateWebhook(payload, sig) {
		t.Fatal("valid signature must verify")
	}
	if gw.ValidateWebhook(payload, "deadbeef") {
		t.Fatal("bad signature must fail")
	}
	if gw.ValidateWebhook([]byte(`{"tampered":true}`), sig) {
		t.Fatal("tampered payload must fail")
	}

	event, err := gw.ProcessWebhook("", payload)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.ProviderEventID != "evt_1" || event.Type != "payment.updated" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestSandboxTokenize(t *testing.T) {
	gw := newTestSandbox(t)

	token, err := gw.Tokenize(context.Background(), PaymentData{"number": "4242424242424242"})
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if token.Value == "" || token.Metadata["last4"] != "4242" {
		t.Fatalf("unexpected token %+v", token)
	}

	if _, err := gw.Tokenize(context.Background(), PaymentData{}); !IsProviderError(err) {
		t.Fatalf("expected provider error for missing number, got %v", err)
	}
}
