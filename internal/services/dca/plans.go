package dca

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
)

var maxSlippage = decimal.NewFromInt(50)

// NewPlan parameters of a plan to create.
type NewPlan struct {
	Asset           string
	AmountUSD       decimal.Decimal
	Frequency       domain.Frequency
	SlippagePercent decimal.NullDecimal
	// StartAt first run, now when zero.
	StartAt time.Time
}

// CreatePlan validates and stores a plan for userID.
func (s *Scheduler) CreatePlan(ctx context.Context, userID string, p NewPlan) (domain.DCAPlan, error) {
	asset := strings.ToUpper(strings.TrimSpace(p.Asset))
	if asset == "" {
		return domain.DCAPlan{}, domain.NewError(domain.KindInvalidRequest, "asset is required")
	}
	if !p.AmountUSD.IsPositive() {
		return domain.DCAPlan{}, domain.NewError(domain.KindInvalidRequest, "amount must be positive")
	}
	if !p.Frequency.IsValid() {
		return domain.DCAPlan{}, domain.NewError(domain.KindInvalidRequest, "unknown frequency %q", p.Frequency)
	}
	if s := p.SlippagePercent; s.Valid && (s.Decimal.IsNegative() || s.Decimal.GreaterThan(maxSlippage)) {
		return domain.DCAPlan{}, domain.NewError(domain.KindInvalidRequest, "slippage must be between 0 and %s percent", maxSlippage)
	}

	start := p.StartAt
	if start.IsZero() {
		start = s.now()
	}

	return s.store.CreateDCAPlan(ctx, domain.DCAPlan{
		UserID:          userID,
		Asset:           asset,
		AmountUSD:       p.AmountUSD,
		Frequency:       p.Frequency,
		SlippagePercent: p.SlippagePercent,
		Active:          true,
		NextRunAt:       start.UTC(),
	})
}

// Plans of userID.
func (s *Scheduler) Plans(ctx context.Context, userID string) ([]domain.DCAPlan, error) {
	return s.store.ListDCAPlans(ctx, userID)
}

// SetActive pauses or resumes a plan of userID.
func (s *Scheduler) SetActive(ctx context.Context, userID, planID string, active bool) error {
	return s.store.SetDCAPlanActive(ctx, userID, planID, active)
}

// Executions run history of a plan owned by userID.
func (s *Scheduler) Executions(ctx context.Context, userID, planID string) ([]domain.DCAExecution, error) {
	plans, err := s.store.ListDCAPlans(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.ID == planID {
			return s.store.ListDCAExecutions(ctx, planID)
		}
	}
	return nil, domain.NewError(domain.KindNotFound, "dca plan %s not found", planID)
}
