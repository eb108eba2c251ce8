package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTx(userID, hash string) domain.WalletTransaction {
	return domain.WalletTransaction{
		UserID:         userID,
		Type:           domain.TransactionBuy,
		Asset:          "BTC",
		Amount:         decimal.RequireFromString("0.002"),
		PriceUSD:       decimal.NewFromInt(50010),
		TotalUSD:       decimal.RequireFromString("100.02"),
		Status:         domain.TransactionStatusCompleted,
		Network:        domain.NetworkMainnet,
		ExchangeTxHash: hash,
		ExecutedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEnsureProfile(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p, err := s.EnsureProfile(ctx, "user-1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", p.WalletAddress)
	assert.Equal(t, domain.NetworkMainnet, p.Network)
	assert.False(t, p.HasAgentKey())

	p, err = s.EnsureProfile(ctx, "user-1", "0xdef")
	require.NoError(t, err)
	assert.Equal(t, "0xdef", p.WalletAddress)

	_, err = s.GetProfile(ctx, "missing")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestUpdateProfile(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, err := s.EnsureProfile(ctx, "user-1", "0xabc")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	testnet := domain.NetworkTestnet
	require.NoError(t, s.UpdateProfile(ctx, "user-1", domain.ProfileUpdate{
		Network:           &testnet,
		SetAuthorizedAt:   true,
		AgentAuthorizedAt: &now,
	}))

	p, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkTestnet, p.Network)
	require.NotNil(t, p.AgentAuthorizedAt)
	assert.True(t, now.Equal(*p.AgentAuthorizedAt))

	require.NoError(t, s.UpdateProfile(ctx, "user-1", domain.ProfileUpdate{SetAuthorizedAt: true}))
	p, err = s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, p.AgentAuthorizedAt)

	err = s.UpdateProfile(ctx, "missing", domain.ProfileUpdate{Network: &testnet})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestRotateAgentWallet_ClearsAuthorization(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, err := s.EnsureProfile(ctx, "user-1", "0xabc")
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateProfile(ctx, "user-1", domain.ProfileUpdate{SetAuthorizedAt: true, AgentAuthorizedAt: &now}))

	require.NoError(t, s.RotateAgentWallet(ctx, "user-1", "0xagent", "cipher"))
	p, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "0xagent", p.AgentAddress)
	assert.Equal(t, "cipher", p.AgentEncryptedKey)
	assert.Nil(t, p.AgentAuthorizedAt)

	err = s.RotateAgentWallet(ctx, "missing", "0x1", "c")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSwapAgentKey(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	_, err := s.EnsureProfile(ctx, "user-1", "0xuser")
	require.NoError(t, err)
	require.NoError(t, s.RotateAgentWallet(ctx, "user-1", "0xagentA", "legacyA"))

	swapped, err := s.SwapAgentKey(ctx, "user-1", "legacyA", "sealedA")
	require.NoError(t, err)
	assert.True(t, swapped)

	// a rotation landed in between, so the stale swap must not apply
	require.NoError(t, s.RotateAgentWallet(ctx, "user-1", "0xagentB", "sealedB"))
	swapped, err = s.SwapAgentKey(ctx, "user-1", "sealedA", "sealedA2")
	require.NoError(t, err)
	assert.False(t, swapped)

	p, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "0xagentB", p.AgentAddress)
	assert.Equal(t, "sealedB", p.AgentEncryptedKey)
}

func TestUpsertTransaction_KeepsExistingRow(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	local := testTx("user-1", "oid:77")
	require.NoError(t, s.InsertTransaction(ctx, local))

	synced := testTx("user-1", "oid:77")
	synced.Amount = decimal.RequireFromString("0.0021")
	synced.PriceUSD = decimal.NewFromInt(1)

	for i := 0; i < 2; i++ {
		inserted, err := s.UpsertTransaction(ctx, synced)
		require.NoError(t, err)
		assert.False(t, inserted)
	}

	txs, err := s.ListTransactions(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(local.Amount))
	assert.True(t, txs[0].PriceUSD.Equal(local.PriceUSD))

	inserted, err := s.UpsertTransaction(ctx, testTx("user-2", "oid:77"))
	require.NoError(t, err)
	assert.True(t, inserted, "the key is scoped per user")
}

func TestUpsertTransaction_FallbackWithoutUniqueConstraint(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "plain.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE wallet_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		asset TEXT,
		amount NUMERIC,
		price_usd NUMERIC,
		total_usd NUMERIC,
		fee NUMERIC,
		status TEXT,
		network TEXT,
		exchange_tx_hash TEXT NOT NULL,
		executed_at DATETIME,
		created_at DATETIME
	)`).Error)

	s := New(db, zap.NewNop())
	ctx := context.Background()

	inserted, err := s.UpsertTransaction(ctx, testTx("user-1", "0xhash"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertTransaction(ctx, testTx("user-1", "0xhash"))
	require.NoError(t, err)
	assert.False(t, inserted)

	var n int64
	require.NoError(t, db.Table("wallet_transactions").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestReplaceHoldings(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	first := []domain.Holding{
		{Asset: "BTC", Amount: decimal.NewFromInt(1), PriceUSD: decimal.NewFromInt(50000), ValueUSD: decimal.NewFromInt(50000), Network: domain.NetworkMainnet},
		{Asset: "ETH", Amount: decimal.NewFromInt(2), PriceUSD: decimal.NewFromInt(3000), ValueUSD: decimal.NewFromInt(6000), Network: domain.NetworkMainnet},
	}
	require.NoError(t, s.ReplaceHoldings(ctx, "user-1", first))
	require.NoError(t, s.ReplaceHoldings(ctx, "user-2", first[:1]))

	second := []domain.Holding{
		{Asset: "SOL", Amount: decimal.NewFromInt(10), PriceUSD: decimal.NewFromInt(100), ValueUSD: decimal.NewFromInt(1000), Network: domain.NetworkMainnet},
	}
	require.NoError(t, s.ReplaceHoldings(ctx, "user-1", second))

	hs, err := s.ListHoldings(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "SOL", hs[0].Asset)

	others, err := s.ListHoldings(ctx, "user-2")
	require.NoError(t, err)
	assert.Len(t, others, 1)

	require.NoError(t, s.ReplaceHoldings(ctx, "user-1", nil))
	hs, err = s.ListHoldings(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, hs)
}

func TestUpsertBalance(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	b, err := s.GetBalance(ctx, "user-1", domain.QuoteCurrency, domain.NetworkMainnet)
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())

	require.NoError(t, s.UpsertBalance(ctx, domain.Balance{UserID: "user-1", Currency: domain.QuoteCurrency, Network: domain.NetworkMainnet, Total: decimal.NewFromInt(100), Available: decimal.NewFromInt(90)}))
	require.NoError(t, s.UpsertBalance(ctx, domain.Balance{UserID: "user-1", Currency: domain.QuoteCurrency, Network: domain.NetworkMainnet, Total: decimal.NewFromInt(50), Available: decimal.NewFromInt(50)}))

	b, err = s.GetBalance(ctx, "user-1", domain.QuoteCurrency, domain.NetworkMainnet)
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(decimal.NewFromInt(50)))
	assert.True(t, b.Available.Equal(decimal.NewFromInt(50)))
}

func TestDCAPlans(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	due, err := s.CreateDCAPlan(ctx, domain.DCAPlan{UserID: "user-1", Asset: "BTC", AmountUSD: decimal.NewFromInt(25), Frequency: domain.FrequencyWeekly, SlippagePercent: decimal.NewNullDecimal(decimal.NewFromInt(1)), Active: true, NextRunAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, due.ID)
	_, err = s.CreateDCAPlan(ctx, domain.DCAPlan{UserID: "user-1", Asset: "ETH", AmountUSD: decimal.NewFromInt(25), Frequency: domain.FrequencyDaily, Active: true, NextRunAt: now.Add(time.Hour)})
	require.NoError(t, err)
	paused, err := s.CreateDCAPlan(ctx, domain.DCAPlan{UserID: "user-1", Asset: "SOL", AmountUSD: decimal.NewFromInt(25), Frequency: domain.FrequencyDaily, Active: true, NextRunAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, s.SetDCAPlanActive(ctx, "user-1", paused.ID, false))

	plans, err := s.DueDCAPlans(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, due.ID, plans[0].ID)

	require.NoError(t, s.ScheduleDCAPlan(ctx, due.ID, now.AddDate(0, 0, 7)))
	plans, err = s.DueDCAPlans(ctx, now, 0)
	require.NoError(t, err)
	assert.Empty(t, plans)

	all, err := s.ListDCAPlans(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	err = s.SetDCAPlanActive(ctx, "user-2", due.ID, false)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.NoError(t, s.InsertDCAExecution(ctx, domain.DCAExecution{PlanID: due.ID, UserID: "user-1", Asset: "BTC", AmountUSD: decimal.NewFromInt(25), Status: domain.DCAExecutionFailed, ErrorKind: domain.KindNoLiquidity, ErrorMessage: "not filled", ExecutedAt: now}))
	execs, err := s.ListDCAExecutions(ctx, due.ID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.KindNoLiquidity, execs[0].ErrorKind)
	assert.Equal(t, domain.DCAExecutionFailed, execs[0].Status)
}

func TestDCAPlans_SlippageRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	zero, err := s.CreateDCAPlan(ctx, domain.DCAPlan{UserID: "user-1", Asset: "BTC", AmountUSD: decimal.NewFromInt(10), Frequency: domain.FrequencyDaily, SlippagePercent: decimal.NewNullDecimal(decimal.Zero), Active: true})
	require.NoError(t, err)
	unset, err := s.CreateDCAPlan(ctx, domain.DCAPlan{UserID: "user-1", Asset: "ETH", AmountUSD: decimal.NewFromInt(10), Frequency: domain.FrequencyDaily, Active: true})
	require.NoError(t, err)

	plans, err := s.ListDCAPlans(ctx, "user-1")
	require.NoError(t, err)
	byID := map[string]domain.DCAPlan{}
	for _, p := range plans {
		byID[p.ID] = p
	}

	require.Contains(t, byID, zero.ID)
	assert.True(t, byID[zero.ID].SlippagePercent.Valid)
	assert.True(t, byID[zero.ID].SlippagePercent.Decimal.IsZero())

	require.Contains(t, byID, unset.ID)
	assert.False(t, byID[unset.ID].SlippagePercent.Valid)
}
