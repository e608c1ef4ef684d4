package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"subgate/internal/app"
	"subgate/internal/config"
	"subgate/internal/logging"
	"subgate/internal/metrics"
	subscriptionhttp "subgate/internal/subscription/transport/http"
	"subgate/pkg/middleware"
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{})
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.RequireServer(); err != nil {
		log.Fatal().Err(err).Msg("incomplete config")
	}
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	limiter := middleware.NewRateLimiter(120, time.Minute)
	go sweepLimiter(ctx, limiter)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, a, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		a.Poller.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Int("plans", len(a.Plans.List())).Msg("subgate API listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server failed")
		stop()
	}

	<-pollerDone
	log.Info().Msg("server stopped")
}

func newRouter(cfg *config.Config, a *app.App, limiter *middleware.RateLimiter) http.Handler {
	h := subscriptionhttp.NewSubscriptionHandler(a.Engine, a.Plans)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	if cfg.MetricsUser != "" {
		r.With(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPasswordHash)).Handle("/metrics", promhttp.Handler())
	} else {
		log.Warn().Msg("METRICS_USER not set, /metrics is disabled")
	}

	r.Group(func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Use(middleware.ValidateRequest)

		api.Get("/api/plans", h.ListPlans)

		api.Group(func(pr chi.Router) {
			pr.Use(middleware.JWTAuth(cfg.JWTSecret))
			pr.Get("/api/subscription", h.GetSubscription)
			pr.Post("/api/subscription/buy", h.Buy)
			pr.Post("/api/subscription/check", h.Check)
			pr.Post("/api/subscription/cancel", h.Cancel)
			pr.Post("/api/subscription/bind", h.Bind)
			pr.Post("/api/subscription/unbind", h.Unbind)
			pr.Post("/api/access/check", h.CheckAccess)
		})
	})

	return r
}

func sweepLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
