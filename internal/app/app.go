package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"subgate/internal/access"
	"subgate/internal/btzpay"
	"subgate/internal/config"
	"subgate/internal/plan"
	"subgate/internal/subscription/repository"
	"subgate/internal/subscription/service"
	"subgate/pkg/db"
)

// App holds the wired core shared by the server and the CLI.
type App struct {
	Config  *config.Config
	Plans   *plan.Catalog
	Subs    *service.Service
	Engine  *service.Engine
	Poller  *service.Poller
	Gateway *btzpay.Client

	db *sql.DB
}

// NewCatalog applies PLAN_PRICES to the default plans.
func NewCatalog(cfg *config.Config) (*plan.Catalog, error) {
	plans, err := plan.WithPrices(plan.Defaults(), cfg.PlanPrices)
	if err != nil {
		return nil, fmt.Errorf("PLAN_PRICES: %w", err)
	}
	return plan.NewCatalog(plans...)
}

// NewRepository opens the store named by DATABASE_URL. An empty URL keeps
// everything in memory.
func NewRepository(ctx context.Context, databaseURL string) (service.SubscriptionRepository, *sql.DB, error) {
	if databaseURL == "" {
		log.Warn().Str("component", "app").Msg("DATABASE_URL not set, subscriptions are kept in memory only")
		return repository.NewInMemoryRepository(), nil, nil
	}

	conn, dialect, err := db.Open(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewSQLRepository(conn, dialect)
	if err := repo.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	log.Info().Str("component", "app").Str("dialect", string(dialect)).Msg("database connected")
	return repo, conn, nil
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	catalog, err := NewCatalog(cfg)
	if err != nil {
		return nil, err
	}

	repo, conn, err := NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	client, err := btzpay.NewClient(btzpay.Config{
		BaseURL:  cfg.BTZPayBaseURL,
		APIKey:   cfg.BTZPayAPIKey,
		Timeout:  cfg.BTZPayHTTPTimeout,
		ProxyURL: cfg.ProxyURL,
	})
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}

	subs := service.NewService(repo, nil)
	engine := service.NewEngine(subs, client, catalog, service.EngineConfig{
		IntentTimeout: cfg.IntentTimeout,
		CallbackURL:   cfg.CallbackURL,
		Policy:        access.NewPolicy(cfg.OwnerID, cfg.SudoUsers, cfg.AuthorizedChats, cfg.FreeGroupID),
	})

	pollerCfg := service.DefaultPollerConfig()
	pollerCfg.Interval = cfg.PollInterval
	pollerCfg.Concurrency = cfg.PollConcurrency
	pollerCfg.Rate = rate.Limit(cfg.PollRate)

	return &App{
		Config:  cfg,
		Plans:   catalog,
		Subs:    subs,
		Engine:  engine,
		Poller:  service.NewPoller(engine, pollerCfg),
		Gateway: client,
		db:      conn,
	}, nil
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
