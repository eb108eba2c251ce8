package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/storage/gapjournal"
	"github.com/stino180/invest-simply/internal/storage/gormstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUser   = "user-1"
	testWallet = "0x00000000000000000000000000000000000000aa"
)

type fakeExchange struct {
	meta    *clients.SpotMeta
	mids    map[string]string
	state   *clients.SpotClearinghouseState
	fills   []clients.UserFill
	ledger  []clients.LedgerUpdate
	err     error
	started time.Time
}

func (f *fakeExchange) SpotMeta(context.Context, domain.Network) (*clients.SpotMeta, error) {
	return f.meta, nil
}

func (f *fakeExchange) AllMids(context.Context, domain.Network) (map[string]string, error) {
	return f.mids, nil
}

func (f *fakeExchange) SpotClearinghouseState(context.Context, domain.Network, string) (*clients.SpotClearinghouseState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeExchange) UserFillsByTime(_ context.Context, _ domain.Network, _ string, start time.Time) ([]clients.UserFill, error) {
	f.started = start
	return f.fills, nil
}

func (f *fakeExchange) UserNonFundingLedgerUpdates(context.Context, domain.Network, string, time.Time) ([]clients.LedgerUpdate, error) {
	return f.ledger, nil
}

func newExchange() *fakeExchange {
	return &fakeExchange{
		meta: &clients.SpotMeta{
			Tokens: []clients.SpotToken{
				{Name: "USDC", Index: 0},
				{Name: "PURR", Index: 1},
				{Name: "UBTC", Index: 2},
			},
			Universe: []clients.SpotUniverseEntry{
				{Name: "PURR/USDC", Tokens: []int{1, 0}, Index: 0, IsCanonical: true},
				{Name: "@3", Tokens: []int{2, 0}, Index: 3},
			},
		},
		mids: map[string]string{"PURR/USDC": "0.2", "@3": "50000"},
		state: &clients.SpotClearinghouseState{Balances: []clients.SpotBalance{
			{Coin: "USDC", Token: 0, Total: "150", Hold: "50"},
			{Coin: "PURR", Token: 1, Total: "100", Hold: "0"},
			{Coin: "UBTC", Token: 2, Total: "0.002", Hold: "0"},
			{Coin: "HYPE", Token: 5, Total: "0", Hold: "0"},
		}},
		fills: []clients.UserFill{
			{Coin: "@3", Px: "50000", Sz: "0.001", Side: "B", Time: 1_700_000_000_000, Hash: "0xf1", Oid: 77, Fee: "0.01"},
			{Coin: "@3", Px: "50200", Sz: "0.001", Side: "B", Time: 1_700_000_000_100, Hash: "0xf1", Oid: 77, Fee: "0.01"},
			{Coin: "PURR/USDC", Px: "0.25", Sz: "40", Side: "A", Time: 1_700_000_100_000, Hash: "0xf2", Oid: 78, Fee: "0"},
		},
		ledger: []clients.LedgerUpdate{
			{Time: 1_699_000_000_000, Hash: "0xd1", Delta: clients.LedgerDelta{Type: "deposit", Usdc: "200"}},
			{Time: 1_699_500_000_000, Hash: "0xw1", Delta: clients.LedgerDelta{Type: "withdraw", Usdc: "-50"}},
			{Time: 1_699_600_000_000, Hash: "0xs1", Delta: clients.LedgerDelta{Type: "spotTransfer", Usdc: "5"}},
		},
	}
}

func setupStore(t *testing.T) *gormstore.Store {
	t.Helper()
	s, err := gormstore.Open(filepath.Join(t.TempDir(), "sync.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSync_StoresBalancesAndHistory(t *testing.T) {
	store := setupStore(t)
	ex := newExchange()
	r := New(store, ex, nil, 0, zap.NewNop())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := r.Sync(ctx, testUser, testWallet, domain.NetworkMainnet)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-DefaultLookback), ex.started)
	require.Len(t, res.Holdings, 2)
	assert.Equal(t, "UBTC", res.Holdings[0].Asset)
	assert.True(t, res.Holdings[0].ValueUSD.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "PURR", res.Holdings[1].Asset)
	assert.True(t, res.Holdings[1].ValueUSD.Equal(decimal.NewFromInt(20)))

	assert.True(t, res.Balance.Total.Equal(decimal.NewFromInt(150)))
	assert.True(t, res.Balance.Available.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 4, res.TransactionsSynced)
	assert.Equal(t, 4, res.TransactionsInserted)

	stored, err := store.ListHoldings(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	bal, err := store.GetBalance(ctx, testUser, domain.QuoteCurrency, domain.NetworkMainnet)
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(100)))

	txs, err := store.ListTransactions(ctx, testUser, 0)
	require.NoError(t, err)
	byHash := make(map[string]domain.WalletTransaction)
	for _, tx := range txs {
		byHash[tx.ExchangeTxHash] = tx
	}
	require.Len(t, byHash, 4)

	btc := byHash["oid:77"]
	assert.Equal(t, domain.TransactionBuy, btc.Type)
	assert.Equal(t, "UBTC", btc.Asset)
	assert.True(t, btc.Amount.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, btc.PriceUSD.Equal(decimal.NewFromInt(50100)))

	assert.Equal(t, domain.TransactionSell, byHash["oid:78"].Type)
	assert.Equal(t, "PURR", byHash["oid:78"].Asset)
	assert.Equal(t, domain.TransactionDeposit, byHash["0xd1"].Type)
	assert.Equal(t, domain.TransactionWithdraw, byHash["0xw1"].Type)
	assert.True(t, byHash["0xw1"].Amount.Equal(decimal.NewFromInt(50)))
}

func TestSync_Idempotent(t *testing.T) {
	store := setupStore(t)
	r := New(store, newExchange(), nil, 0, zap.NewNop())
	ctx := context.Background()

	_, err := r.Sync(ctx, testUser, testWallet, domain.NetworkMainnet)
	require.NoError(t, err)
	res, err := r.Sync(ctx, testUser, testWallet, domain.NetworkMainnet)
	require.NoError(t, err)

	assert.Equal(t, 4, res.TransactionsSynced)
	assert.Zero(t, res.TransactionsInserted)

	txs, err := store.ListTransactions(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 4)

	holdings, err := store.ListHoldings(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, holdings, 2)
}

func TestSync_KeepsLocallyRecordedFill(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	local := domain.WalletTransaction{
		ID:             "local-1",
		UserID:         testUser,
		Type:           domain.TransactionBuy,
		Asset:          "BTC",
		Amount:         decimal.RequireFromString("0.002"),
		PriceUSD:       decimal.NewFromInt(50200),
		TotalUSD:       decimal.RequireFromString("100.4"),
		Status:         domain.TransactionStatusCompleted,
		Network:        domain.NetworkMainnet,
		ExchangeTxHash: domain.OrderTxHash(77),
		ExecutedAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.InsertTransaction(ctx, local))

	r := New(store, newExchange(), nil, 0, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := r.Sync(ctx, testUser, testWallet, domain.NetworkMainnet)
		require.NoError(t, err)
	}

	txs, err := store.ListTransactions(ctx, testUser, 0)
	require.NoError(t, err)

	var matches []domain.WalletTransaction
	for _, tx := range txs {
		if tx.ExchangeTxHash == local.ExchangeTxHash {
			matches = append(matches, tx)
		}
	}
	require.Len(t, matches, 1)
	assert.Equal(t, "local-1", matches[0].ID)
	assert.Equal(t, "BTC", matches[0].Asset)
	assert.True(t, matches[0].PriceUSD.Equal(decimal.NewFromInt(50200)))
}

func TestSync_ReplaysGapJournal(t *testing.T) {
	store := setupStore(t)
	journal, err := gapjournal.Open(filepath.Join(t.TempDir(), "gaps"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	gap := domain.WalletTransaction{
		ID:             "gap-tx",
		UserID:         testUser,
		Type:           domain.TransactionBuy,
		Asset:          "BTC",
		Amount:         decimal.RequireFromString("0.001"),
		PriceUSD:       decimal.NewFromInt(50000),
		TotalUSD:       decimal.NewFromInt(50),
		Status:         domain.TransactionStatusCompleted,
		Network:        domain.NetworkMainnet,
		ExchangeTxHash: domain.OrderTxHash(500),
		ExecutedAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err = journal.Record(gap, errors.New("database is locked"))
	require.NoError(t, err)

	r := New(store, newExchange(), journal, 0, zap.NewNop())
	res, err := r.Sync(context.Background(), testUser, testWallet, domain.NetworkMainnet)
	require.NoError(t, err)

	assert.Equal(t, 1, res.GapsRepaired)
	assert.Empty(t, journal.Pending(testUser))

	txs, err := store.ListTransactions(context.Background(), testUser, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 5)
}

func TestSync_ExchangeFailure(t *testing.T) {
	store := setupStore(t)
	ex := newExchange()
	ex.err = domain.NewError(domain.KindTransientNetwork, "could not reach the exchange")
	r := New(store, ex, nil, 0, zap.NewNop())

	_, err := r.Sync(context.Background(), testUser, testWallet, domain.NetworkMainnet)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransientNetwork))

	txs, err := store.ListTransactions(context.Background(), testUser, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSync_InvalidInput(t *testing.T) {
	r := New(setupStore(t), newExchange(), nil, 0, zap.NewNop())

	_, err := r.Sync(context.Background(), testUser, "", domain.NetworkMainnet)
	assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))

	_, err = r.Sync(context.Background(), testUser, testWallet, domain.Network("devnet"))
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestAssetName(t *testing.T) {
	meta := newExchange().meta
	tests := []struct {
		coin string
		want string
	}{
		{coin: "PURR/USDC", want: "PURR"},
		{coin: "@3", want: "UBTC"},
		{coin: "@99", want: "@99"},
		{coin: "HYPE", want: "HYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.coin, func(t *testing.T) {
			assert.Equal(t, tt.want, assetName(meta, tt.coin))
		})
	}
}
