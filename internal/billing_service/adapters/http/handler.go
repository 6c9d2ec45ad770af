package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/donghaozhang/GenAI-tool-sub001/internal/billing_service/domain"
)

const maxJSONBodySize = 64 << 10

// CreditService is the ledger surface the handlers need.
type CreditService interface {
	Consume(ctx context.Context, accountID string, amount int64) (*domain.AccountCredit, error)
	Balance(ctx context.Context, accountID string) (*domain.AccountCredit, error)
}

// SettlementService is the settlement surface the handlers need.
type SettlementService interface {
	Settle(ctx context.Context, paymentID, accountID string) (*domain.Settlement, error)
	History(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error)
}

type CreditsHandler struct {
	credits       CreditService
	settlements   SettlementService
	defaultAmount int64
	logger        *slog.Logger
}

func NewCreditsHandler(credits CreditService, settlements SettlementService, defaultAmount int64, logger *slog.Logger) *CreditsHandler {
	return &CreditsHandler{
		credits:       credits,
		settlements:   settlements,
		defaultAmount: defaultAmount,
		logger:        logger.With("component", "credits_handler"),
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type insufficientCreditsResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Available int64  `json:"available"`
	Required  int64  `json:"required"`
}

type consumeRequest struct {
	Amount *int64 `json:"amount"`
}

type consumeResponse struct {
	Success          bool  `json:"success"`
	CreditsRemaining int64 `json:"creditsRemaining"`
	CreditsConsumed  int64 `json:"creditsConsumed"`
}

type settleRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type settleResponse struct {
	Success      bool   `json:"success"`
	CreditsAdded int64  `json:"creditsAdded"`
	TotalCredits int64  `json:"totalCredits"`
	Message      string `json:"message"`
}

type balanceResponse struct {
	Success   bool       `json:"success"`
	Credits   int64      `json:"credits"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type transactionJSON struct {
	PaymentID      string    `json:"paymentIntentId"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	CreditsGranted int64     `json:"creditsPurchased"`
	BalanceAfter   int64     `json:"balanceAfter"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

type historyResponse struct {
	Success      bool              `json:"success"`
	Transactions []transactionJSON `json:"transactions"`
}

// decodeBody reads an optional JSON body; an empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *CreditsHandler) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := AccountIDFromContext(ctx)
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "account_id", accountID)

	var req consumeRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.WarnContext(ctx, "Invalid consume request body", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	amount := h.defaultAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	credit, err := h.credits.Consume(ctx, accountID, amount)
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, consumeResponse{Success: true, CreditsRemaining: credit.Credits, CreditsConsumed: amount})
}

func (h *CreditsHandler) ProcessPaymentSuccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := AccountIDFromContext(ctx)
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "account_id", accountID)

	var req settleRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.WarnContext(ctx, "Invalid settlement request body", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	res, err := h.settlements.Settle(ctx, req.PaymentIntentID, accountID)
	if err != nil {
		h.writeError(ctx, w, logger.With("payment_id", req.PaymentIntentID), err)
		return
	}

	message := "Payment processed successfully"
	if res.AlreadySettled {
		message = "Payment already processed"
	}
	writeJSON(w, http.StatusOK, settleResponse{
		Success:      true,
		CreditsAdded: res.CreditsAdded,
		TotalCredits: res.TotalCredits,
		Message:      message,
	})
}

func (h *CreditsHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := AccountIDFromContext(ctx)

	credit, err := h.credits.Balance(ctx, accountID)
	if err != nil {
		h.writeError(ctx, w, h.logger.With("account_id", accountID), err)
		return
	}
	res := balanceResponse{Success: true, Credits: credit.Credits}
	if !credit.UpdatedAt.IsZero() {
		res.UpdatedAt = &credit.UpdatedAt
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := AccountIDFromContext(ctx)
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx), "account_id", accountID)

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer"})
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offset must be an integer"})
		return
	}

	txns, err := h.settlements.History(ctx, accountID, limit, offset)
	if err != nil {
		h.writeError(ctx, w, logger, err)
		return
	}

	res := historyResponse{Success: true, Transactions: make([]transactionJSON, 0, len(txns))}
	for _, t := range txns {
		res.Transactions = append(res.Transactions, transactionJSON{
			PaymentID:      t.PaymentID,
			Amount:         t.Amount.String(),
			Currency:       t.Currency,
			CreditsGranted: t.CreditsGranted,
			BalanceAfter:   t.BalanceAfter,
			Status:         string(t.Status),
			CreatedAt:      t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// writeError maps a service error to its status code and JSON body.
func (h *CreditsHandler) writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	var insufficient *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusBadRequest, insufficientCreditsResponse{
			Error:     "Insufficient credits",
			Available: insufficient.Available,
			Required:  insufficient.Required,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Unauthorized"})
	case errors.Is(err, domain.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Amount must be a positive integer"})
	case errors.Is(err, domain.ErrPaymentIDRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Payment intent ID is required"})
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Payment not completed"})
	case errors.Is(err, domain.ErrPaymentNotFound):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Payment not found"})
	case errors.Is(err, domain.ErrPaymentAccountMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Payment does not belong to caller"})
	case errors.Is(err, domain.ErrInvalidPaymentMetadata):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Payment has no valid credits amount"})
	case errors.Is(err, domain.ErrPaymentProcessor):
		logger.ErrorContext(ctx, "Payment processor error", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Payment processor unavailable"})
	default:
		logger.ErrorContext(ctx, "Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
