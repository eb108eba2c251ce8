package dca

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/storage/gormstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) ExecuteDCA(ctx context.Context, plan domain.DCAPlan, defaultSlippage decimal.Decimal) (domain.DCAExecution, error) {
	args := m.Called(ctx, plan, defaultSlippage)
	return args.Get(0).(domain.DCAExecution), args.Error(1)
}

var sweepNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gormstore.Store, *mockExecutor, *Scheduler) {
	t.Helper()
	store, err := gormstore.Open(filepath.Join(t.TempDir(), "dca.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exec := &mockExecutor{}
	s := NewScheduler(store, exec, time.Minute, decimal.NewFromInt(1), zap.NewNop())
	s.now = func() time.Time { return sweepNow }
	return store, exec, s
}

func createPlan(t *testing.T, s *Scheduler, freq domain.Frequency, start time.Time) domain.DCAPlan {
	t.Helper()
	p, err := s.CreatePlan(context.Background(), "user-1", NewPlan{
		Asset:     "btc",
		AmountUSD: decimal.NewFromInt(25),
		Frequency: freq,
		StartAt:   start,
	})
	require.NoError(t, err)
	return p
}

func findPlan(t *testing.T, store *gormstore.Store, id string) domain.DCAPlan {
	t.Helper()
	plans, err := store.ListDCAPlans(context.Background(), "user-1")
	require.NoError(t, err)
	for _, p := range plans {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("plan %s not found", id)
	return domain.DCAPlan{}
}

func TestSweep(t *testing.T) {
	store, exec, s := setup(t)
	ctx := context.Background()

	due := createPlan(t, s, domain.FrequencyDaily, sweepNow.Add(-time.Hour))
	later := createPlan(t, s, domain.FrequencyDaily, sweepNow.Add(48*time.Hour))
	paused := createPlan(t, s, domain.FrequencyDaily, sweepNow.Add(-time.Hour))
	require.NoError(t, s.SetActive(ctx, "user-1", paused.ID, false))

	exec.On("ExecuteDCA", mock.Anything, mock.MatchedBy(func(p domain.DCAPlan) bool { return p.ID == due.ID }), decimal.NewFromInt(1)).
		Return(domain.DCAExecution{PlanID: due.ID, Status: domain.DCAExecutionSuccess}, nil).Once()

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	exec.AssertExpectations(t)

	assert.True(t, findPlan(t, store, due.ID).NextRunAt.Equal(sweepNow.Add(23*time.Hour)))
	assert.True(t, findPlan(t, store, later.ID).NextRunAt.Equal(sweepNow.Add(48*time.Hour)))
	assert.True(t, findPlan(t, store, paused.ID).NextRunAt.Equal(sweepNow.Add(-time.Hour)))

	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweep_FailureStillAdvances(t *testing.T) {
	store, exec, s := setup(t)
	plan := createPlan(t, s, domain.FrequencyWeekly, sweepNow.Add(-time.Minute))

	exec.On("ExecuteDCA", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.DCAExecution{Status: domain.DCAExecutionFailed}, domain.ErrNoLiquidity("BTC")).Once()

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, findPlan(t, store, plan.ID).NextRunAt.Equal(sweepNow.Add(7*24*time.Hour-time.Minute)))
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		plan domain.DCAPlan
		want time.Time
	}{
		{
			name: "one period",
			plan: domain.DCAPlan{Frequency: domain.FrequencyDaily, NextRunAt: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)},
			want: time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "missed periods are skipped",
			plan: domain.DCAPlan{Frequency: domain.FrequencyWeekly, NextRunAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
			want: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "monthly",
			plan: domain.DCAPlan{Frequency: domain.FrequencyMonthly, NextRunAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextRun(tt.plan, sweepNow)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := nextRun(domain.DCAPlan{Frequency: "hourly", NextRunAt: sweepNow}, sweepNow)
	assert.Error(t, err)
}

func TestCreatePlan_Validation(t *testing.T) {
	_, _, s := setup(t)

	tests := []struct {
		name string
		plan NewPlan
	}{
		{name: "no asset", plan: NewPlan{AmountUSD: decimal.NewFromInt(10), Frequency: domain.FrequencyDaily}},
		{name: "zero amount", plan: NewPlan{Asset: "BTC", Frequency: domain.FrequencyDaily}},
		{name: "bad frequency", plan: NewPlan{Asset: "BTC", AmountUSD: decimal.NewFromInt(10), Frequency: "hourly"}},
		{name: "slippage", plan: NewPlan{Asset: "BTC", AmountUSD: decimal.NewFromInt(10), Frequency: domain.FrequencyDaily, SlippagePercent: decimal.NewNullDecimal(decimal.NewFromInt(80))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreatePlan(context.Background(), "user-1", tt.plan)
			assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))
		})
	}

	p := createPlan(t, s, domain.FrequencyBiweekly, time.Time{})
	assert.Equal(t, "BTC", p.Asset)
	assert.True(t, p.Active)
	assert.True(t, p.NextRunAt.Equal(sweepNow))
}

func TestExecutions_Ownership(t *testing.T) {
	store, _, s := setup(t)
	ctx := context.Background()
	plan := createPlan(t, s, domain.FrequencyDaily, sweepNow)

	require.NoError(t, store.InsertDCAExecution(ctx, domain.DCAExecution{
		PlanID:     plan.ID,
		UserID:     "user-1",
		Asset:      "BTC",
		AmountUSD:  decimal.NewFromInt(25),
		Status:     domain.DCAExecutionSuccess,
		ExecutedAt: sweepNow,
	}))

	execs, err := s.Executions(ctx, "user-1", plan.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	_, err = s.Executions(ctx, "user-2", plan.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, _, s := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
