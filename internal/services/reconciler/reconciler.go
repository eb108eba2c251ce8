// Package reconciler mirrors exchange-side balances and history into the local store.
package reconciler

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/services/pricer"
	"github.com/stino180/invest-simply/internal/storage/gapjournal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLookback history window pulled on every sync.
const DefaultLookback = 90 * 24 * time.Hour

const (
	ledgerDeposit  = "deposit"
	ledgerWithdraw = "withdraw"
	fillSideBuy    = "B"
)

// Store persistence the reconciler writes to.
type Store interface {
	UpsertTransaction(ctx context.Context, t domain.WalletTransaction) (bool, error)
	ReplaceHoldings(ctx context.Context, userID string, holdings []domain.Holding) error
	UpsertBalance(ctx context.Context, b domain.Balance) error
}

// Exchange read queries the reconciler needs.
type Exchange interface {
	SpotMeta(ctx context.Context, network domain.Network) (*clients.SpotMeta, error)
	AllMids(ctx context.Context, network domain.Network) (map[string]string, error)
	SpotClearinghouseState(ctx context.Context, network domain.Network, user string) (*clients.SpotClearinghouseState, error)
	UserFillsByTime(ctx context.Context, network domain.Network, user string, start time.Time) ([]clients.UserFill, error)
	UserNonFundingLedgerUpdates(ctx context.Context, network domain.Network, user string, start time.Time) ([]clients.LedgerUpdate, error)
}

// GapJournal pending fills that were never stored.
type GapJournal interface {
	Pending(userID string) []gapjournal.Entry
	Resolve(id string) error
}

// Reconciler syncs one profile at a time.
type Reconciler struct {
	store    Store
	exchange Exchange
	journal  GapJournal
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Reconciler. journal may be nil.
func New(store Store, exchange Exchange, journal GapJournal, lookback time.Duration, logger *zap.Logger) *Reconciler {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:    store,
		exchange: exchange,
		journal:  journal,
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
	}
}

type snapshot struct {
	meta     *clients.SpotMeta
	mids     pricer.Mids
	state    *clients.SpotClearinghouseState
	fills    []clients.UserFill
	transfer []clients.LedgerUpdate
}

// Sync pulls balances and history of walletAddress and stores them for profileID.
func (r *Reconciler) Sync(ctx context.Context, profileID, walletAddress string, network domain.Network) (domain.SyncResult, error) {
	if !network.IsValid() {
		return domain.SyncResult{}, domain.NewError(domain.KindConfiguration, "unknown network %q", network)
	}
	if strings.TrimSpace(walletAddress) == "" {
		return domain.SyncResult{}, domain.NewError(domain.KindInvalidRequest, "wallet address is required")
	}

	var result domain.SyncResult
	repaired, err := r.replayGaps(ctx, profileID)
	if err != nil {
		return result, err
	}
	result.GapsRepaired = repaired

	snap, err := r.fetch(ctx, walletAddress, network)
	if err != nil {
		return result, err
	}

	now := r.now().UTC()
	holdings, balance := buildHoldings(profileID, network, snap, now)
	if err := r.store.ReplaceHoldings(ctx, profileID, holdings); err != nil {
		return result, domain.WrapError(domain.KindInternal, err, "store holdings")
	}
	if err := r.store.UpsertBalance(ctx, balance); err != nil {
		return result, domain.WrapError(domain.KindInternal, err, "store balance")
	}
	result.Holdings = holdings
	result.Balance = balance

	txs := append(transfers(profileID, network, snap.transfer), trades(profileID, network, snap.meta, snap.fills)...)
	for _, t := range txs {
		inserted, err := r.store.UpsertTransaction(ctx, t)
		if err != nil {
			return result, domain.WrapError(domain.KindInternal, err, "store transaction %s", t.ExchangeTxHash)
		}
		result.TransactionsSynced++
		if inserted {
			result.TransactionsInserted++
		}
	}

	r.logger.Info("wallet synced",
		zap.String("profile", profileID),
		zap.String("network", network.String()),
		zap.Int("holdings", len(holdings)),
		zap.Int("transactions", result.TransactionsSynced),
		zap.Int("inserted", result.TransactionsInserted),
		zap.Int("gaps_repaired", result.GapsRepaired))

	return result, nil
}

func (r *Reconciler) replayGaps(ctx context.Context, profileID string) (int, error) {
	if r.journal == nil {
		return 0, nil
	}

	repaired := 0
	for _, e := range r.journal.Pending(profileID) {
		if _, err := r.store.UpsertTransaction(ctx, e.Transaction); err != nil {
			return repaired, domain.WrapError(domain.KindInternal, err, "replay unrecorded fill %s", e.Transaction.ExchangeTxHash)
		}
		if err := r.journal.Resolve(e.ID); err != nil {
			// stored already; a repeated replay is a no-op upsert
			r.logger.Error("failed to resolve gap entry", zap.String("entry", e.ID), zap.Error(err))
			continue
		}
		repaired++
		r.logger.Info("unrecorded fill repaired",
			zap.String("profile", profileID),
			zap.String("tx_hash", e.Transaction.ExchangeTxHash))
	}
	return repaired, nil
}

func (r *Reconciler) fetch(ctx context.Context, user string, network domain.Network) (snapshot, error) {
	var snap snapshot
	start := r.now().Add(-r.lookback)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := r.exchange.SpotMeta(gctx, network)
		snap.meta = meta
		return errors.WithMessage(err, "spot meta")
	})
	g.Go(func() error {
		raw, err := r.exchange.AllMids(gctx, network)
		snap.mids = pricer.ParseMids(raw)
		return errors.WithMessage(err, "mids")
	})
	g.Go(func() error {
		state, err := r.exchange.SpotClearinghouseState(gctx, network, user)
		snap.state = state
		return errors.WithMessage(err, "spot balances")
	})
	g.Go(func() error {
		fills, err := r.exchange.UserFillsByTime(gctx, network, user, start)
		snap.fills = fills
		return errors.WithMessage(err, "fills")
	})
	g.Go(func() error {
		updates, err := r.exchange.UserNonFundingLedgerUpdates(gctx, network, user, start)
		snap.transfer = updates
		return errors.WithMessage(err, "ledger updates")
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}

	if snap.meta == nil {
		snap.meta = &clients.SpotMeta{}
	}
	if snap.state == nil {
		snap.state = &clients.SpotClearinghouseState{}
	}
	return snap, nil
}

func buildHoldings(profileID string, network domain.Network, snap snapshot, now time.Time) ([]domain.Holding, domain.Balance) {
	balance := domain.Balance{
		UserID:    profileID,
		Currency:  domain.QuoteCurrency,
		Total:     decimal.Zero,
		Available: decimal.Zero,
		Network:   network,
		UpdatedAt: now,
	}

	holdings := make([]domain.Holding, 0, len(snap.state.Balances))
	for _, b := range snap.state.Balances {
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			continue
		}
		hold, err := decimal.NewFromString(b.Hold)
		if err != nil {
			hold = decimal.Zero
		}

		if strings.EqualFold(b.Coin, domain.QuoteCurrency) {
			balance.Total = total
			balance.Available = total.Sub(hold)
			continue
		}
		if !total.IsPositive() {
			continue
		}

		price := priceOf(snap.meta, snap.mids, b)
		holdings = append(holdings, domain.Holding{
			UserID:    profileID,
			Asset:     b.Coin,
			Amount:    total,
			PriceUSD:  price,
			ValueUSD:  total.Mul(price),
			Network:   network,
			UpdatedAt: now,
		})
	}

	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].ValueUSD.GreaterThan(holdings[j].ValueUSD)
	})
	return holdings, balance
}

// priceOf mid of the token's USDC market, zero when it has none.
func priceOf(meta *clients.SpotMeta, mids pricer.Mids, b clients.SpotBalance) decimal.Decimal {
	for _, m := range meta.Universe {
		if len(m.Tokens) != 2 || m.Tokens[0] != b.Token || m.Tokens[1] != 0 {
			continue
		}
		if px, ok := mids.Lookup(m.Name, "@"+strconv.Itoa(m.Index)); ok {
			return px
		}
	}
	if px, ok := mids.Lookup(b.Coin); ok {
		return px
	}
	return decimal.Zero
}

func transfers(profileID string, network domain.Network, updates []clients.LedgerUpdate) []domain.WalletTransaction {
	out := make([]domain.WalletTransaction, 0, len(updates))
	for _, u := range updates {
		var typ domain.TransactionType
		switch u.Delta.Type {
		case ledgerDeposit:
			typ = domain.TransactionDeposit
		case ledgerWithdraw:
			typ = domain.TransactionWithdraw
		default:
			continue
		}
		amount, err := decimal.NewFromString(u.Delta.Usdc)
		if err != nil || u.Hash == "" {
			continue
		}
		amount = amount.Abs()

		out = append(out, domain.WalletTransaction{
			ID:             uuid.NewString(),
			UserID:         profileID,
			Type:           typ,
			Asset:          domain.QuoteCurrency,
			Amount:         amount,
			PriceUSD:       decimal.NewFromInt(1),
			TotalUSD:       amount,
			Fee:            decimal.Zero,
			Status:         domain.TransactionStatusCompleted,
			Network:        network,
			ExchangeTxHash: u.Hash,
			ExecutedAt:     time.UnixMilli(u.Time).UTC(),
		})
	}
	return out
}

type tradeAgg struct {
	hash     string
	coin     string
	buy      bool
	size     decimal.Decimal
	notional decimal.Decimal
	fee      decimal.Decimal
	at       int64
}

// trades folds fills into one transaction per order, keyed like the executor keys them.
func trades(profileID string, network domain.Network, meta *clients.SpotMeta, fills []clients.UserFill) []domain.WalletTransaction {
	aggs := make(map[string]*tradeAgg)
	order := make([]string, 0, len(fills))

	for _, f := range fills {
		sz, err := decimal.NewFromString(f.Sz)
		if err != nil || !sz.IsPositive() {
			continue
		}
		px, err := decimal.NewFromString(f.Px)
		if err != nil {
			continue
		}
		fee, err := decimal.NewFromString(f.Fee)
		if err != nil {
			fee = decimal.Zero
		}

		key := f.Hash
		if f.Oid > 0 {
			key = domain.OrderTxHash(f.Oid)
		}
		if key == "" {
			continue
		}

		a, ok := aggs[key]
		if !ok {
			a = &tradeAgg{hash: key, coin: f.Coin, buy: f.Side == fillSideBuy, at: f.Time}
			aggs[key] = a
			order = append(order, key)
		}
		a.size = a.size.Add(sz)
		a.notional = a.notional.Add(sz.Mul(px))
		a.fee = a.fee.Add(fee)
		if f.Time < a.at {
			a.at = f.Time
		}
	}

	out := make([]domain.WalletTransaction, 0, len(order))
	for _, key := range order {
		a := aggs[key]
		typ := domain.TransactionSell
		if a.buy {
			typ = domain.TransactionBuy
		}
		out = append(out, domain.WalletTransaction{
			ID:             uuid.NewString(),
			UserID:         profileID,
			Type:           typ,
			Asset:          assetName(meta, a.coin),
			Amount:         a.size,
			PriceUSD:       a.notional.Div(a.size),
			TotalUSD:       a.notional,
			Fee:            a.fee,
			Status:         domain.TransactionStatusCompleted,
			Network:        network,
			ExchangeTxHash: a.hash,
			ExecutedAt:     time.UnixMilli(a.at).UTC(),
		})
	}
	return out
}

// assetName base token of a fill coin such as "PURR/USDC" or "@107".
func assetName(meta *clients.SpotMeta, coin string) string {
	if i := strings.Index(coin, "/"); i > 0 {
		return coin[:i]
	}
	if !strings.HasPrefix(coin, "@") {
		return coin
	}
	idx, err := strconv.Atoi(coin[1:])
	if err != nil {
		return coin
	}
	for _, m := range meta.Universe {
		if m.Index != idx || len(m.Tokens) == 0 {
			continue
		}
		if t, ok := meta.TokenByIndex(m.Tokens[0]); ok {
			return t.Name
		}
	}
	return coin
}
