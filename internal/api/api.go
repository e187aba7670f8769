package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"wealthlog/pkg/wealthlog"
)

// NewRouter builds the HTTP API router.
func NewRouter(core *wealthlog.Core, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &handler{
		core: core,
		// Shared across backfill requests so concurrent runs cannot
		// overrun the provider quota.
		backfillLimiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
	}

	r.Get("/api/health", h.health)

	// Accounts
	r.Get("/api/accounts", h.getAccounts)
	r.Post("/api/accounts", h.addAccount)
	r.Delete("/api/accounts/{id}", h.deleteAccount)
	r.Put("/api/accounts/{id}/balance", h.setAccountBalance)

	// Ledger
	r.Get("/api/transactions", h.getTransactions)
	r.Post("/api/transactions", h.addTransaction)
	r.Delete("/api/transactions/{id}", h.rollbackTransaction)
	r.Post("/api/transactions/undo", h.undoLastTransaction)
	r.Post("/api/sell", h.sellShares)

	// Derived state
	r.Get("/api/holdings", h.getHoldings)
	r.Post("/api/holdings/reconstruct", h.reconstructHoldings)
	r.Get("/api/lots", h.getLots)

	// Prices
	r.Post("/api/prices", h.upsertPrice)
	r.Get("/api/prices/{symbol}", h.getPrice)
	r.Get("/api/prices/{symbol}/history", h.getPriceHistory)
	r.Get("/api/prices/{symbol}/gaps", h.getPriceGaps)
	r.Post("/api/prices/backfill", h.backfillPrices)

	// Symbols
	r.Get("/api/symbols", h.getSymbols)
	r.Post("/api/symbols/{symbol}/auto-update", h.updateSymbolAutoUpdate)

	// Reconciliation
	r.Get("/api/reconciliation/{accountID}", h.runReconciliation)
	r.Post("/api/reconciliation/{accountID}/apply", h.applySuggestion)

	// Recovery audit log
	r.Get("/api/sync-errors", h.getSyncErrors)
	r.Post("/api/sync-errors/{id}/recover", h.recoverSyncError)
	r.Post("/api/sync-errors/{id}/resolve", h.resolveSyncError)

	// Portfolio series
	r.Get("/api/portfolio-history", h.getPortfolioHistory)

	return r
}

type handler struct {
	core            *wealthlog.Core
	backfillLimiter *rate.Limiter
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
