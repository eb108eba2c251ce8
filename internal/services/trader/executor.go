package trader

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/services/agentwallet"
	"github.com/stino180/invest-simply/internal/services/pricer"
	"github.com/stino180/invest-simply/internal/services/signer"
	"github.com/stino180/invest-simply/internal/storage/gapjournal"
	"github.com/stino180/invest-simply/pkg/retrier"
	"go.uber.org/zap"
)

var (
	maxSlippagePercent = decimal.NewFromInt(50)
	hundred            = decimal.NewFromInt(100)
)

// Store persistence used by the executor.
type Store interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	UpsertTransaction(ctx context.Context, t domain.WalletTransaction) (bool, error)
	InsertDCAExecution(ctx context.Context, e domain.DCAExecution) error
}

// AgentWallets agent key lifecycle.
type AgentWallets interface {
	Ensure(ctx context.Context, p domain.Profile) (agentwallet.Wallet, error)
	CheckAuthorization(ctx context.Context, profileID string) (bool, error)
	ClearAuthorization(ctx context.Context, profileID string) error
}

// AssetResolver resolves symbols to spot assets.
type AssetResolver interface {
	Resolve(ctx context.Context, symbol string, network domain.Network) (domain.SpotAsset, error)
}

// Submitter posts signed actions to the exchange.
type Submitter interface {
	PostAction(ctx context.Context, network domain.Network, req clients.ExchangeRequest) (*clients.ExchangeResponse, error)
}

// GapJournal keeps fills that could not be stored.
type GapJournal interface {
	Record(tx domain.WalletTransaction, cause error) (gapjournal.Entry, error)
}

// Executor places IOC spot orders for profiles and records their fills.
type Executor struct {
	store     Store
	wallets   AgentWallets
	resolver  AssetResolver
	pricer    pricer.Pricer
	submitter Submitter
	journal   GapJournal
	nonces    *signer.NonceSource
	persist   *retrier.Retrier
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutor creates an Executor. persist is the retry policy for storing fills.
func NewExecutor(
	store Store,
	wallets AgentWallets,
	resolver AssetResolver,
	pr pricer.Pricer,
	submitter Submitter,
	journal GapJournal,
	persist *retrier.Retrier,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if persist == nil {
		persist = retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(500*time.Millisecond))
	}
	return &Executor{
		store:     store,
		wallets:   wallets,
		resolver:  resolver,
		pricer:    pr,
		submitter: submitter,
		journal:   journal,
		nonces:    signer.NewNonceSource(),
		persist:   persist,
		logger:    logger,
		now:       time.Now,
	}
}

type orderMode int

const (
	modeUSD orderMode = iota
	modeQuantity
)

type orderRequest struct {
	profileID string
	symbol    string
	side      domain.Side
	mode      orderMode
	amount    decimal.Decimal
	slippage  decimal.Decimal
}

// BuyByUSD buys symbol for usd worth at the current mid plus slippage.
func (e *Executor) BuyByUSD(ctx context.Context, profileID, symbol string, usd, slippagePercent decimal.Decimal) (domain.FillResult, error) {
	return e.execute(ctx, orderRequest{profileID: profileID, symbol: symbol, side: domain.SideBuy, mode: modeUSD, amount: usd, slippage: slippagePercent})
}

// BuyByQuantity buys qty units of symbol.
func (e *Executor) BuyByQuantity(ctx context.Context, profileID, symbol string, qty, slippagePercent decimal.Decimal) (domain.FillResult, error) {
	return e.execute(ctx, orderRequest{profileID: profileID, symbol: symbol, side: domain.SideBuy, mode: modeQuantity, amount: qty, slippage: slippagePercent})
}

// SellByQuantity sells qty units of symbol at the current mid minus slippage.
func (e *Executor) SellByQuantity(ctx context.Context, profileID, symbol string, qty, slippagePercent decimal.Decimal) (domain.FillResult, error) {
	return e.execute(ctx, orderRequest{profileID: profileID, symbol: symbol, side: domain.SideSell, mode: modeQuantity, amount: qty, slippage: slippagePercent})
}

func (r orderRequest) validate() error {
	if strings.TrimSpace(r.symbol) == "" {
		return domain.NewError(domain.KindInvalidRequest, "asset symbol is required")
	}
	if !r.amount.IsPositive() {
		return domain.NewError(domain.KindInvalidRequest, "amount must be positive")
	}
	if r.slippage.IsNegative() || r.slippage.GreaterThan(maxSlippagePercent) {
		return domain.NewError(domain.KindInvalidRequest, "slippage must be between 0 and %s percent", maxSlippagePercent)
	}
	return nil
}

// order fully priced and validated order, ready to sign.
type order struct {
	profile  domain.Profile
	asset    domain.SpotAsset
	key      *ecdsa.PrivateKey
	mid      decimal.Decimal
	quantity decimal.Decimal
	size     string
	limitPx  string
}

func (e *Executor) execute(ctx context.Context, req orderRequest) (domain.FillResult, error) {
	if err := req.validate(); err != nil {
		return domain.FillResult{}, err
	}
	req.symbol = strings.ToUpper(strings.TrimSpace(req.symbol))

	o, err := e.prepare(ctx, req)
	if err != nil {
		return domain.FillResult{}, err
	}

	action := domain.NewIOCOrderAction(o.asset.AssetID, req.side.IsBuy(), o.limitPx, o.size)
	nonce := e.nonces.Next()
	sig, err := signer.SignL1Action(o.key, action, nonce, nil, o.profile.Network.IsMainnet())
	if err != nil {
		return domain.FillResult{}, domain.WrapError(domain.KindInternal, err, "sign order")
	}

	e.logger.Info("submitting order",
		zap.String("profile", o.profile.ID),
		zap.String("network", o.profile.Network.String()),
		zap.String("symbol", req.symbol),
		zap.String("side", string(req.side)),
		zap.Int("asset", o.asset.AssetID),
		zap.String("size", o.size),
		zap.String("limit_px", o.limitPx),
		zap.Uint64("nonce", nonce))

	resp, err := e.submitter.PostAction(ctx, o.profile.Network, clients.ExchangeRequest{
		Action:    action,
		Nonce:     int64(nonce),
		Signature: sig,
	})
	if err != nil {
		e.logger.Warn("order submission failed",
			zap.String("profile", o.profile.ID),
			zap.String("symbol", req.symbol),
			zap.Bool("outcome_unknown", domain.IsOutcomeUnknown(err)),
			zap.Error(err))
		return domain.FillResult{}, err
	}

	filled, err := e.interpret(ctx, o.profile.ID, req.symbol, resp)
	if err != nil {
		return domain.FillResult{}, err
	}

	return e.record(ctx, req, o, filled), nil
}

// prepare runs every local check before anything is signed.
func (e *Executor) prepare(ctx context.Context, req orderRequest) (order, error) {
	p, err := e.store.GetProfile(ctx, req.profileID)
	if err != nil {
		return order{}, err
	}
	if !p.Network.IsValid() {
		return order{}, domain.NewError(domain.KindConfiguration, "profile %s has unknown network %q", p.ID, p.Network)
	}

	wallet, err := e.wallets.Ensure(ctx, p)
	if err != nil {
		return order{}, err
	}
	// ensure may have rotated the key, so the stored state is authoritative
	authorized, err := e.wallets.CheckAuthorization(ctx, p.ID)
	if err != nil {
		return order{}, err
	}
	if !authorized {
		return order{}, domain.ErrAgentNotAuthorized("")
	}

	asset, err := e.resolver.Resolve(ctx, req.symbol, p.Network)
	if err != nil {
		return order{}, err
	}

	mids, err := e.pricer.Mids(ctx, p.Network)
	if err != nil {
		return order{}, err
	}
	// the spot market's own mid first; a bare symbol may be a perp
	mid, hasMid := mids.Lookup(asset.MidKey(), asset.CanonicalName, req.symbol, baseOf(asset.CanonicalName))
	if !hasMid {
		return order{}, domain.NewError(domain.KindAssetNotFound, "no price available for %s on %s", req.symbol, p.Network)
	}

	quantity := req.amount
	if req.mode == modeUSD {
		quantity = req.amount.Div(mid)
	}
	quantity = domain.FloorWholeUnits(quantity, asset.SizeDecimals)

	slip := req.slippage.Div(hundred)
	limit := mid.Mul(decimal.NewFromInt(1).Add(slip))
	if !req.side.IsBuy() {
		limit = mid.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	if err := checkSize(req.symbol, asset, quantity, mid); err != nil {
		return order{}, err
	}

	size := domain.FormatSize(quantity, asset.SizeDecimals)
	if !decimal.RequireFromString(size).IsPositive() {
		return order{}, domain.NewError(domain.KindInsufficientOrderSize, "order size for %s rounds to zero", req.symbol)
	}
	limitPx := domain.FormatPrice(limit)
	if !decimal.RequireFromString(limitPx).IsPositive() {
		return order{}, domain.NewError(domain.KindInvalidRequest, "limit price for %s rounds to zero", req.symbol)
	}

	return order{
		profile:  p,
		asset:    asset,
		key:      wallet.PrivateKey,
		mid:      mid,
		quantity: quantity,
		size:     size,
		limitPx:  limitPx,
	}, nil
}

func checkSize(symbol string, asset domain.SpotAsset, quantity, mid decimal.Decimal) error {
	if asset.IsWholeUnit() && quantity.LessThan(decimal.NewFromInt(1)) {
		return domain.NewError(domain.KindInsufficientOrderSize,
			"%s trades in whole units only, at least $%s is needed to buy 1 %s",
			symbol, mid.RoundCeil(2).StringFixed(2), symbol)
	}
	if quantity.LessThan(asset.MinSize) {
		return domain.NewError(domain.KindInsufficientOrderSize,
			"order size %s is below the minimum %s %s (about $%s)",
			quantity.String(), asset.MinSize.String(), symbol, asset.MinSize.Mul(mid).RoundCeil(2).StringFixed(2))
	}
	return nil
}

func baseOf(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return ""
}

type fill struct {
	oid    int64
	size   decimal.Decimal
	avgPx  decimal.Decimal
	hasAvg bool
}

const unrecognizedAgentMarker = "does not exist"

// interpret maps an exchange response to a fill or a typed error.
func (e *Executor) interpret(ctx context.Context, profileID, symbol string, resp *clients.ExchangeResponse) (fill, error) {
	switch resp.Status {
	case clients.ResponseStatusErr:
		msg := resp.ErrorMessage()
		if strings.Contains(strings.ToLower(msg), unrecognizedAgentMarker) {
			if err := e.wallets.ClearAuthorization(ctx, profileID); err != nil {
				e.logger.Error("failed to clear agent authorization", zap.String("profile", profileID), zap.Error(err))
			}
			e.logger.Warn("exchange does not recognize agent wallet", zap.String("profile", profileID), zap.String("response", msg))
			return fill{}, domain.ErrAgentNotAuthorized("the exchange does not recognize your agent wallet, approve it again to continue trading")
		}
		return fill{}, domain.NewError(domain.KindExchangeRejected, "%s", msg)
	case clients.ResponseStatusOK:
	default:
		return fill{}, malformed("unexpected response status %q", resp.Status)
	}

	statuses, err := resp.OrderStatuses()
	if err != nil {
		return fill{}, malformed("%v", err)
	}
	if len(statuses) == 0 {
		return fill{}, malformed("order response has no statuses")
	}

	st := statuses[0]
	if st.Error != "" {
		return fill{}, domain.NewError(domain.KindExchangeRejected, "%s", st.Error)
	}
	if st.Filled == nil {
		return fill{}, domain.ErrNoLiquidity(symbol)
	}

	size, err := decimal.NewFromString(st.Filled.TotalSz)
	if err != nil || !size.IsPositive() {
		return fill{}, domain.ErrNoLiquidity(symbol)
	}

	f := fill{oid: st.Filled.Oid, size: size}
	if px, err := decimal.NewFromString(st.Filled.AvgPx); err == nil && px.IsPositive() {
		f.avgPx, f.hasAvg = px, true
	}
	return f, nil
}

// malformed response of unknown meaning; the order may still have executed.
func malformed(format string, args ...any) error {
	err := domain.NewError(domain.KindExchangeRejected, "unexpected exchange response: "+format, args...)
	err.OutcomeUnknown = true
	return err
}

// record stores the fill. A fill that cannot be stored is journaled and
// still reported as a success, since the funds already moved.
func (e *Executor) record(ctx context.Context, req orderRequest, o order, f fill) domain.FillResult {
	executedAt := e.now().UTC()
	avgPx := f.avgPx
	if !f.hasAvg {
		avgPx = decimal.RequireFromString(o.limitPx)
		e.logger.Warn("fill has no average price, using limit price", zap.String("profile", o.profile.ID), zap.Int64("oid", f.oid))
	}

	hash := domain.LocalTxHash(executedAt)
	if f.oid > 0 {
		hash = domain.OrderTxHash(f.oid)
	}

	txType := domain.TransactionBuy
	if !req.side.IsBuy() {
		txType = domain.TransactionSell
	}

	tx := domain.WalletTransaction{
		ID:             uuid.NewString(),
		UserID:         o.profile.ID,
		Type:           txType,
		Asset:          req.symbol,
		Amount:         f.size,
		PriceUSD:       avgPx,
		TotalUSD:       f.size.Mul(avgPx),
		Fee:            decimal.Zero,
		Status:         domain.TransactionStatusCompleted,
		Network:        o.profile.Network,
		ExchangeTxHash: hash,
		ExecutedAt:     executedAt,
	}

	result := domain.FillResult{
		Symbol:       req.symbol,
		Side:         req.side,
		OrderID:      f.oid,
		FilledSize:   f.size,
		AveragePrice: avgPx,
		TotalUSD:     tx.TotalUSD,
		LimitPrice:   o.limitPx,
		Size:         o.size,
		TxHash:       hash,
		Recorded:     true,
		ExecutedAt:   executedAt,
	}

	// the fill happened; a caller that went away must not cost the record
	inserted := false
	err := e.persist.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		var err error
		inserted, err = e.store.UpsertTransaction(ctx, tx)
		return err
	})
	if err == nil {
		e.logger.Info("order filled",
			zap.String("profile", o.profile.ID),
			zap.String("symbol", req.symbol),
			zap.String("filled", f.size.String()),
			zap.String("avg_px", avgPx.String()),
			zap.String("tx_hash", hash),
			zap.Bool("already_recorded", !inserted))
		return result
	}

	result.Recorded = false
	e.logger.Error("fill executed but could not be stored",
		zap.Bool("critical", true),
		zap.String("kind", string(domain.KindPersistenceGap)),
		zap.String("profile", o.profile.ID),
		zap.String("tx_hash", hash),
		zap.String("filled", f.size.String()),
		zap.String("avg_px", avgPx.String()),
		zap.Error(err))

	if e.journal == nil {
		return result
	}
	if _, jerr := e.journal.Record(tx, err); jerr != nil {
		e.logger.Error("failed to journal persistence gap",
			zap.Bool("critical", true),
			zap.String("profile", o.profile.ID),
			zap.String("tx_hash", hash),
			zap.Error(errors.Wrap(jerr, "journal")))
	}
	return result
}

// ExecuteDCA runs one plan purchase and always records the execution.
func (e *Executor) ExecuteDCA(ctx context.Context, plan domain.DCAPlan, defaultSlippage decimal.Decimal) (domain.DCAExecution, error) {
	slippage := defaultSlippage
	if plan.SlippagePercent.Valid {
		slippage = plan.SlippagePercent.Decimal
	}

	exec := domain.DCAExecution{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		UserID:    plan.UserID,
		Asset:     plan.Asset,
		AmountUSD: plan.AmountUSD,
	}

	res, err := e.BuyByUSD(ctx, plan.UserID, plan.Asset, plan.AmountUSD, slippage)
	if err != nil {
		exec.Status = domain.DCAExecutionFailed
		exec.ErrorKind = domain.KindOf(err)
		exec.ErrorMessage = domain.MessageOf(err)
		exec.ExecutedAt = e.now().UTC()
	} else {
		exec.Status = domain.DCAExecutionSuccess
		exec.CryptoAmount = res.FilledSize
		exec.PriceUSD = res.AveragePrice
		exec.TxHash = res.TxHash
		exec.ExecutedAt = res.ExecutedAt
	}

	if serr := e.store.InsertDCAExecution(ctx, exec); serr != nil {
		e.logger.Error("failed to record dca execution",
			zap.String("plan", plan.ID),
			zap.String("status", string(exec.Status)),
			zap.Error(serr))
	}
	return exec, err
}
