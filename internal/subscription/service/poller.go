package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"subgate/internal/metrics"
	"subgate/internal/subscription"
)

type PollerConfig struct {
	Interval    time.Duration
	Concurrency int
	Rate        rate.Limit // status checks per second; 0 means unlimited
	Retry       RetryConfig
}

func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    30 * time.Second,
		Concurrency: 4,
		Rate:        5,
		Retry:       DefaultRetryConfig(),
	}
}

// SweepReport counts what one pass over the pending transactions did.
type SweepReport struct {
	Checked      int `json:"checked"`
	Activated    int `json:"activated"`
	Terminated   int `json:"terminated"`
	StillPending int `json:"still_pending"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Poller periodically reconciles every pending transaction, so payments
// settle even when the user never asks.
type Poller struct {
	engine  *Engine
	cfg     PollerConfig
	limiter *rate.Limiter
}

func NewPoller(engine *Engine, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := cfg.Rate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := int(cfg.Rate)
	if burst < 1 {
		burst = 1
	}
	return &Poller{engine: engine, cfg: cfg, limiter: rate.NewLimiter(limit, burst)}
}

// Run sweeps every Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	log.Info().Str("component", "poller").Dur("interval", p.cfg.Interval).
		Int("concurrency", p.cfg.Concurrency).Msg("reconciliation poller started")

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("component", "poller").Msg("sweep failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Str("component", "poller").Msg("reconciliation poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce checks every user with a pending transaction once.
func (p *Poller) RunOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { metrics.PollSweepDuration.Observe(time.Since(start).Seconds()) }()

	var report SweepReport
	ids, err := p.engine.subs.ListPending(ctx)
	if err != nil {
		return report, err
	}
	metrics.PendingTransactions.Set(float64(len(ids)))
	if len(ids) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for _, userID := range ids {
		userID := userID
		g.Go(func() error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}

			var res *CheckResult
			err := withRetry(ctx, p.cfg.Retry, func() error {
				var err error
				res, err = p.engine.CheckPending(ctx, userID)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case errors.Is(err, subscription.ErrNoPendingTransaction):
				report.Skipped++
			case err != nil:
				report.Failed++
				log.Warn().Err(err).Str("component", "poller").Int64("user_id", userID).Msg("pending check failed")
			case res.Outcome == OutcomeActivated:
				report.Activated++
			case res.Outcome == OutcomeTerminated:
				report.Terminated++
			default:
				report.StillPending++
			}
			return nil
		})
	}

	err = g.Wait()

	log.Debug().Str("component", "poller").Int("checked", report.Checked).Int("activated", report.Activated).
		Int("terminated", report.Terminated).Int("failed", report.Failed).Dur("took", time.Since(start)).Msg("sweep finished")
	return report, err
}
