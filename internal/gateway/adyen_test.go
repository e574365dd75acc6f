package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

const adyenTestHMACKey = "44782def547aaf6b703d1890246c9ae9adf4cee2aed89b46d2cabc2870dc21f2"

func newTestAdyen(t *testing.T, baseURL string) Gateway {
	t.Helper()
	gw, err := NewAdyen(Credentials{
		"api_key":          "adyen_key",
		"merchant_account": "TestMerchant",
		"hmac_key":         adyenTestHMACKey,
		"api_base":         baseURL,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build adyen adapter: %v", err)
	}
	return gw
}

func adyenSignItem(t *testing.T, item map[string]any) string {
	t.Helper()
	amount := item["amount"].(map[string]any)
	signing := fmt.Sprintf("%v:%v:%v:%v:%v:%v:%v:%v",
		item["pspReference"],
		item["originalReference"],
		item["merchantAccountCode"],
		item["merchantReference"],
		amount["value"],
		amount["currency"],
		item["eventCode"],
		item["success"],
	)
	key, err := hex.DecodeString(adyenTestHMACKey)
	if err != nil {
		t.Fatalf("decode hmac key: %v", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signing))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func adyenNotification(t *testing.T, item map[string]any, sign bool) []byte {
	t.Helper()
	additional := map[string]any{}
	if sign {
		additional["hmacSignature"] = adyenSignItem(t, item)
	}
	item["additionalData"] = additional
	payload, err := json.Marshal(map[string]any{
		"notificationItems": []map[string]any{{"NotificationRequestItem": item}},
	})
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return payload
}

func authorisationItem() map[string]any {
	return map[string]any{
		"pspReference":        "psp_1",
		"originalReference":   "",
		"merchantAccountCode": "TestMerchant",
		"merchantReference":   "TXN-1",
		"amount":              map[string]any{"value": int64(4999), "currency": "USD"},
		"eventCode":           "AUTHORISATION",
		"success":             "true",
	}
}

func TestAdyenRequiresCredentials(t *testing.T) {
	_, err := NewAdyen(Credentials{"api_key": "k"}, zap.NewNop())
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.ErrCode != "PROVIDER_CONFIGURATION" {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestAdyenChargeAuthorised(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "adyen_key" {
			t.Error("missing api key header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["merchantAccount"] != "TestMerchant" {
			t.Errorf("unexpected merchant account %v", body["merchantAccount"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pspReference": "psp_1", "resultCode": "Authorised"})
	}))
	defer srv.Close()

	gw := newTestAdyen(t, srv.URL)
	result, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 4999, Currency: "usd", PaymentMethodToken: "stored_pm"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if result.ProviderTransactionID != "psp_1" || result.Status != StatusSucceeded {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAdyenChargeRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"pspReference": "psp_2", "resultCode": "Refused", "refusalReason": "Not enough balance"})
	}))
	defer srv.Close()

	gw := newTestAdyen(t, srv.URL)
	_, err := gw.Charge(context.Background(), ChargeRequest{Reference: "TXN-1", Amount: 100, Currency: "USD"})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if pe.Transient {
		t.Fatal("a refusal is permanent")
	}
	if pe.Message != "Not enough balance" {
		t.Fatalf("expected refusal reason, got %q", pe.Message)
	}
}

func TestAdyenRefundIsAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/psp_1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"pspReference": "psp_refund_1", "status": "received"})
	}))
	defer srv.Close()

	gw := newTestAdyen(t, srv.URL)
	result, err := gw.Refund(context.Background(), RefundRequest{ProviderTransactionID: "psp_1", Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.Status != StatusPending {
		t.Fatalf("refunds settle via notification; expected pending, got %s", result.Status)
	}
}

func TestAdyenUnsupportedOperations(t *testing.T) {
	gw := newTestAdyen(t, "http://unused")

	var pe *ProviderError
	if _, err := gw.GetTransaction(context.Background(), "psp_1"); !errors.As(err, &pe) || pe.ErrCode != "PROVIDER_NOT_SUPPORTED" {
		t.Fatalf("expected PROVIDER_NOT_SUPPORTED, got %v", err)
	}
	if _, err := gw.Tokenize(context.Background(), PaymentData{}); !errors.As(err, &pe) || pe.ErrCode != "PROVIDER_NOT_SUPPORTED" {
		t.Fatalf("expected PROVIDER_NOT_SUPPORTED, got %v", err)
	}
}

func TestAdyenValidateWebhook(t *testing.T) {
	gw := newTestAdyen(t, "http://unused")

	valid := adyenNotification(t, authorisationItem(), true)
	if !gw.ValidateWebhook(valid, "") {
		t.Fatal("valid item HMAC must verify")
	}

	unsigned := adyenNotification(t, authorisationItem(), false)
	if gw.ValidateWebhook(unsigned, "") {
		t.Fatal("missing item signature must fail")
	}

	tampered := authorisationItem()
	sig := adyenSignItem(t, tampered)
	tampered["amount"] = map[string]any{"value": int64(1), "currency": "USD"}
	tampered["additionalData"] = map[string]any{"hmacSignature": sig}
	payload, _ := json.Marshal(map[string]any{
		"notificationItems": []map[string]any{{"NotificationRequestItem": tampered}},
	})
	if gw.ValidateWebhook(payload, "") {
		t.Fatal("tampered item must fail verification")
	}
}

func TestAdyenProcessWebhookRouting(t *testing.T) {
	gw := newTestAdyen(t, "http://unused")

	event, err := gw.ProcessWebhook("", adyenNotification(t, authorisationItem(), true))
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.ProviderEventID != "psp_1:AUTHORISATION" {
		t.Fatalf("unexpected event id %s", event.ProviderEventID)
	}
	if event.ProviderTransactionID != "psp_1" || event.Status != StatusSucceeded {
		t.Fatalf("unexpected event %+v", event)
	}

	refundItem := map[string]any{
		"pspReference":        "psp_refund_1",
		"originalReference":   "psp_1",
		"merchantAccountCode": "TestMerchant",
		"merchantReference":   "TXN-1",
		"amount":              map[string]any{"value": int64(4999), "currency": "USD"},
		"eventCode":           "REFUND",
		"success":             "true",
	}
	event, err = gw.ProcessWebhook("", adyenNotification(t, refundItem, true))
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if event.ProviderRefundID != "psp_refund_1" || event.ProviderTransactionID != "psp_1" {
		t.Fatalf("refund events must carry both references, got %+v", event)
	}
	if event.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", event.Status)
	}
}
