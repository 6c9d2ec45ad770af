package paymentgateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

const testWebhookSecret = "whsec_test"

func newTestStripeAdapter(t *testing.T, handler http.HandlerFunc) *StripeAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	backends := &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	return NewStripeAdapter("sk_test_123", testWebhookSecret, backends, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStripeAdapter_RetrievePayment(t *testing.T) {
	adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":999,"currency":"usd",
			"metadata":{"credits":"10","user_id":"acc_1"}}`)
	})

	p, err := adapter.RetrievePayment(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", p.ID)
	assert.True(t, p.Succeeded())
	assert.True(t, decimal.RequireFromString("9.99").Equal(p.Amount))
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, int64(10), p.Credits)
	assert.Equal(t, "acc_1", p.AccountID)
}

func TestStripeAdapter_RetrievePaymentErrors(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent: 'pi_x'"}}`)
		})
		_, err := adapter.RetrievePayment(context.Background(), "pi_x")
		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
	})

	t.Run("server error", func(t *testing.T) {
		adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"type":"api_error","message":"boom"}}`)
		})
		_, err := adapter.RetrievePayment(context.Background(), "pi_x")
		assert.ErrorIs(t, err, domain.ErrPaymentProcessor)
		assert.NotErrorIs(t, err, domain.ErrPaymentNotFound)
	})
}

func TestPaymentFromIntent(t *testing.T) {
	p := paymentFromIntent(&stripe.PaymentIntent{
		ID: "pi_jp", Status: stripe.PaymentIntentStatusProcessing, Amount: 500, Currency: "JPY",
		Metadata: map[string]string{"credits": "abc"},
	})
	assert.Equal(t, "processing", p.Status)
	assert.False(t, p.Succeeded())
	assert.True(t, decimal.NewFromInt(500).Equal(p.Amount))
	assert.Equal(t, "jpy", p.Currency)
	assert.Equal(t, int64(0), p.Credits)
	assert.Empty(t, p.AccountID)
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeAdapter_ParseWebhookEvent(t *testing.T) {
	adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("webhook parsing must not call the API, got %s", r.URL.Path)
	})
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_wh","object":"payment_intent","status":"succeeded","metadata":{"user_id":"acc_wh","credits":"5"}}}}`)

	ev, err := adapter.ParseWebhookEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, domain.EventTypePaymentSucceeded, ev.Type)
	assert.Equal(t, "pi_wh", ev.PaymentID)
	assert.Equal(t, "acc_wh", ev.AccountID)

	_, err = adapter.ParseWebhookEvent(context.Background(), payload, signPayload(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, domain.ErrInvalidWebhookSignature)

	_, err = adapter.ParseWebhookEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, domain.ErrInvalidWebhookSignature, "stale timestamps are rejected")
}

func TestStripeAdapter_ParseWebhookEventOtherType(t *testing.T) {
	adapter := newTestStripeAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	ev, err := adapter.ParseWebhookEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.PaymentID)
}
