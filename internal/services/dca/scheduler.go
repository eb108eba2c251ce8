// Package dca runs recurring purchases.
package dca

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = time.Minute
	defaultBatchSize     = 50
)

// Store plan persistence.
type Store interface {
	CreateDCAPlan(ctx context.Context, p domain.DCAPlan) (domain.DCAPlan, error)
	ListDCAPlans(ctx context.Context, userID string) ([]domain.DCAPlan, error)
	DueDCAPlans(ctx context.Context, now time.Time, limit int) ([]domain.DCAPlan, error)
	ScheduleDCAPlan(ctx context.Context, id string, next time.Time) error
	SetDCAPlanActive(ctx context.Context, userID, id string, active bool) error
	ListDCAExecutions(ctx context.Context, planID string) ([]domain.DCAExecution, error)
}

// Executor places the purchase of one plan run.
type Executor interface {
	ExecuteDCA(ctx context.Context, plan domain.DCAPlan, defaultSlippage decimal.Decimal) (domain.DCAExecution, error)
}

// Scheduler sweeps due plans on a fixed interval.
type Scheduler struct {
	store           Store
	executor        Executor
	interval        time.Duration
	defaultSlippage decimal.Decimal
	logger          *zap.Logger
	now             func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, executor Executor, interval time.Duration, defaultSlippage decimal.Decimal, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:           store,
		executor:        executor,
		interval:        interval,
		defaultSlippage: defaultSlippage,
		logger:          logger,
		now:             time.Now,
	}
}

// Run sweeps until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting dca scheduler", zap.Duration("sweep_interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context done, stopping dca scheduler")
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("DCA sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("DCA sweep done", zap.Int("plans", n))
			}
		}
	}
}

// Sweep runs every due plan once and returns how many ran.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	plans, err := s.store.DueDCAPlans(ctx, now, defaultBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load due plans")
	}

	ran := 0
	for _, plan := range plans {
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}

		// schedule first so a crash mid-trade never buys twice for one period
		next, err := nextRun(plan, now)
		if err != nil {
			s.logger.Error("Plan has invalid frequency, pausing", zap.String("plan", plan.ID), zap.Error(err))
			if err := s.store.SetDCAPlanActive(ctx, plan.UserID, plan.ID, false); err != nil {
				s.logger.Error("Failed to pause plan", zap.String("plan", plan.ID), zap.Error(err))
			}
			continue
		}
		if err := s.store.ScheduleDCAPlan(ctx, plan.ID, next); err != nil {
			s.logger.Error("Failed to schedule plan, skipping run", zap.String("plan", plan.ID), zap.Error(err))
			continue
		}

		exec, err := s.executor.ExecuteDCA(ctx, plan, s.defaultSlippage)
		ran++
		if err != nil {
			s.logger.Warn("DCA run failed",
				zap.String("plan", plan.ID),
				zap.String("profile", plan.UserID),
				zap.String("kind", string(domain.KindOf(err))),
				zap.Time("next_run_at", next),
				zap.Error(err))
			continue
		}
		s.logger.Info("DCA run filled",
			zap.String("plan", plan.ID),
			zap.String("profile", plan.UserID),
			zap.String("asset", plan.Asset),
			zap.String("amount", exec.CryptoAmount.String()),
			zap.Time("next_run_at", next))
	}
	return ran, nil
}

// nextRun first run time after now on the plan's cadence. Missed periods are skipped.
func nextRun(plan domain.DCAPlan, now time.Time) (time.Time, error) {
	next := plan.NextRunAt
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		n, err := plan.Frequency.Next(next)
		if err != nil {
			return time.Time{}, err
		}
		next = n
	}
	return next, nil
}
