/**
 * @description
 * This file sets up the HTTP router for the linking-service using the `chi`
 * routing library. It defines all the API routes and applies necessary middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS for native and web app callers.
 * - The service's internal packages for handlers and middleware.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/config"
	"github.com/payex/linking-service/pkg/middleware"
)

// NewRouter creates and configures a new HTTP router. limiter may be nil.
func NewRouter(
	cfg *config.Config,
	accounts *AccountHandler,
	webhooks *WebhookHandler,
	limiter *middleware.RateLimiter,
	logger logrus.FieldLogger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestLogger(&chimiddleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	// Provider callback. Unauthenticated and never rate limited.
	r.Post("/mpesa-transaction-callback", webhooks.HandleMpesaCallback)

	// Group routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg))
		if limiter != nil {
			r.Use(middleware.RateLimitMiddleware(limiter))
		}

		r.Post("/link-trading-account", accounts.LinkTradingAccount)
		r.Post("/link-mpesa-account", accounts.LinkMpesaAccount)
		r.Post("/link-bank-account", accounts.LinkBankAccount)
		r.Post("/mpesa-balance-check", accounts.MpesaBalanceCheck)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accounts.ListAccounts)
			r.Post("/sync", accounts.SyncAllAccounts)
			r.Post("/{id}/sync", accounts.SyncAccount)
		})

		r.Get("/banks", accounts.ListBanks)
	})

	return r
}
