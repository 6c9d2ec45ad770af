package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Credits           *CreditsHandler
	Webhooks          *WebhookHandler
	Verifier          TokenVerifier
	Store             Pinger
	CORSAllowedOrigin string
	Logger            *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chi_middleware.RequestID)
	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(CORS(cfg.CORSAllowedOrigin))

	r.Get("/healthz", healthHandler(cfg.Store, cfg.Logger))
	r.Post("/webhooks/stripe", cfg.Webhooks.HandlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier, cfg.Logger))
		r.Post("/consume-credits", cfg.Credits.ConsumeCredits)
		r.Post("/process-payment-success", cfg.Credits.ProcessPaymentSuccess)
		r.Get("/credits", cfg.Credits.GetCredits)
		r.Get("/transactions", cfg.Credits.ListTransactions)
	})
	return r
}

func healthHandler(store Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.WarnContext(ctx, "Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
