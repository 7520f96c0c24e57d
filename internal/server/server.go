// Package server assembles the HTTP API: routing, authentication,
// idempotent replay, request logging and metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"tournament-wallet/internal/config"
	"tournament-wallet/internal/handler"
	"tournament-wallet/internal/pkg/metrics"
	"tournament-wallet/internal/repository"
	"tournament-wallet/internal/service"
)

// Deps are the collaborators the router is built from. A nil Redis disables
// idempotent replay.
type Deps struct {
	Config   config.Config
	Store    repository.Store
	Accounts *service.AccountService
	Wallet   *service.WalletService
	Join     *service.JoinService
	Settle   *service.SettlementService
	Matches  *service.MatchService
	Metrics  *metrics.Metrics
	Redis    redis.Cmdable
}

// NewRouter builds the chi router serving the API.
func NewRouter(d Deps) (http.Handler, error) {
	auth, err := NewAuthenticator(d.Config.Auth)
	if err != nil {
		return nil, err
	}
	maxBody := d.Config.Server.MaxBodyBytes

	wallet := handler.NewWalletHandler(d.Wallet, maxBody)
	matches := handler.NewMatchHandler(d.Matches, d.Join, maxBody)
	admin := handler.NewAdminHandler(d.Matches, d.Settle, d.Wallet, d.Accounts, maxBody)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.Config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, ReplayedHeader},
		MaxAge:         300,
	}))
	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Get("/health", health(d.Store))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		if d.Redis != nil {
			r.Use(NewIdempotency(d.Redis, d.Config.Redis.IdempotencyTTL).Middleware)
		}

		r.Get("/wallet", wallet.HandleGetWallet)
		r.Post("/wallet/recharges", wallet.HandleRecharge)
		r.Post("/wallet/withdrawals", wallet.HandleWithdrawal)

		r.Get("/matches", matches.HandleList)
		r.Route("/matches/{id}", func(r chi.Router) {
			r.Get("/", matches.HandleGet)
			r.Get("/teams", matches.HandleTeams)
			r.Post("/join", matches.HandleJoin)
			r.Get("/room", matches.HandleRoom)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/matches", admin.HandleCreateMatch)
			r.Post("/matches/{id}/start", admin.HandleStartMatch)
			r.Post("/matches/{id}/settle", admin.HandleSettle)
			r.Put("/matches/{id}/room", admin.HandleSetRoom)

			r.Get("/transactions", admin.HandleListTransactions)
			r.Post("/transactions/{id}/decision", admin.HandleDecide)

			r.Get("/accounts/{id}/wallet", admin.HandleAccountWallet)
			r.Get("/accounts/{id}/reconcile", admin.HandleReconcile)
			r.Post("/accounts/{id}/block", admin.HandleBlock)
			r.Post("/accounts/{id}/unblock", admin.HandleUnblock)
			r.Post("/accounts/{id}/referral-bonus", admin.HandleReferralBonus)
		})
	})

	return r, nil
}

// New builds the HTTP server for cfg.Server.
func New(d Deps) (*http.Server, error) {
	router, err := NewRouter(d)
	if err != nil {
		return nil, fmt.Errorf("failed to build router: %w", err)
	}
	return &http.Server{
		Addr:              d.Config.Server.Addr,
		Handler:           router,
		ReadTimeout:       d.Config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      d.Config.Server.WriteTimeout,
	}, nil
}

func health(store repository.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			handler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// requestLogger logs every request and counts it by matched route.
func requestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.IncHTTPRequest(r.Method, route, status)

			evt := log.Info()
			switch {
			case status >= http.StatusInternalServerError:
				evt = log.Error()
			case status >= http.StatusBadRequest:
				evt = log.Warn()
			}
			evt.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
