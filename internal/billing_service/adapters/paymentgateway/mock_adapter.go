package paymentgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

// MockProcessor is an in-memory payment processor for local runs and tests.
//
// Besides registered payments it resolves scripted ids of the form
// mock_<status>_<credits>[_suffix], e.g. mock_succeeded_10_abc.
type MockProcessor struct {
	mu            sync.RWMutex
	payments      map[string]domain.Payment
	webhookSecret string
	logger        *slog.Logger
}

func NewMockProcessor(webhookSecret string, logger *slog.Logger) *MockProcessor {
	return &MockProcessor{
		payments:      make(map[string]domain.Payment),
		webhookSecret: webhookSecret,
		logger:        logger.With("adapter", "mock_payment_processor"),
	}
}

// CreatePayment registers a succeeded payment and returns it.
func (m *MockProcessor) CreatePayment(accountID string, credits int64, amount decimal.Decimal, currency string) domain.Payment {
	p := domain.Payment{
		ID:        "pi_mock_" + uuid.NewString(),
		Status:    domain.PaymentStatusSucceeded,
		Amount:    amount,
		Currency:  currency,
		Credits:   credits,
		AccountID: accountID,
	}
	m.SetPayment(p)
	return p
}

// SetPayment registers or replaces a payment.
func (m *MockProcessor) SetPayment(p domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

func (m *MockProcessor) RetrievePayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	m.mu.RLock()
	p, ok := m.payments[paymentID]
	m.mu.RUnlock()
	if !ok {
		scripted, err := parseScriptedID(paymentID)
		if err != nil {
			m.logger.WarnContext(ctx, "Mock payment not found", "payment_id", paymentID)
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, paymentID)
		}
		p = *scripted
	}
	m.logger.InfoContext(ctx, "Mock payment retrieved", "payment_id", paymentID, "status", p.Status, "credits", p.Credits)
	return &p, nil
}

func parseScriptedID(id string) (*domain.Payment, error) {
	parts := strings.SplitN(id, "_", 4)
	if len(parts) < 3 || parts[0] != "mock" {
		return nil, fmt.Errorf("not a scripted payment id: %q", id)
	}
	credits, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("scripted payment id %q: %w", id, err)
	}
	return &domain.Payment{
		ID:       id,
		Status:   parts[1],
		Amount:   decimal.NewFromInt(credits),
		Currency: "usd",
		Credits:  credits,
	}, nil
}

// mockWebhookEvent is the JSON body the mock processor accepts on its webhook.
type mockWebhookEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	PaymentID string `json:"payment_id"`
	AccountID string `json:"account_id"`
}

// ParseWebhookEvent accepts a delivery whose signature equals the configured
// webhook secret.
func (m *MockProcessor) ParseWebhookEvent(ctx context.Context, payload []byte, signature string) (*domain.PaymentEvent, error) {
	if m.webhookSecret == "" || signature != m.webhookSecret {
		m.logger.WarnContext(ctx, "Mock webhook signature mismatch")
		return nil, domain.ErrInvalidWebhookSignature
	}
	var ev mockWebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decoding mock webhook: %w", err)
	}
	if ev.ID == "" {
		ev.ID = "evt_mock_" + uuid.NewString()
	}
	return &domain.PaymentEvent{ID: ev.ID, Type: ev.Type, PaymentID: ev.PaymentID, AccountID: ev.AccountID}, nil
}
