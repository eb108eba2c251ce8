// Package resolver maps human-readable symbols to spot asset descriptors.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSizeDecimals int32 = 4
	defaultCacheTTL           = 30 * time.Second
)

// aliases wrapped or bridged listings of well-known symbols.
var aliases = map[string][]string{
	"BTC": {"WBTC", "UBTC"},
	"ETH": {"WETH", "UETH"},
	"SOL": {"USOL"},
}

// MetaSource fetches the spot universe of a network.
type MetaSource interface {
	SpotMeta(ctx context.Context, network domain.Network) (*clients.SpotMeta, error)
}

type cachedMeta struct {
	meta      *clients.SpotMeta
	fetchedAt time.Time
}

// Resolver resolves symbols against the exchange spot universe.
// Metadata is cached per network for a short TTL.
type Resolver struct {
	source MetaSource
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[domain.Network]cachedMeta
	group singleflight.Group
}

// New creates a Resolver. A non-positive ttl selects the default.
func New(source MetaSource, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
		cache:  make(map[domain.Network]cachedMeta),
	}
}

// Resolve returns the descriptor of symbol on network or an AssetNotFound error.
func (r *Resolver) Resolve(ctx context.Context, symbol string, network domain.Network) (domain.SpotAsset, error) {
	meta, err := r.spotMeta(ctx, network)
	if err != nil {
		return domain.SpotAsset{}, err
	}

	entry, ok := match(meta, symbol)
	if !ok {
		return domain.SpotAsset{}, domain.ErrAssetNotFound(symbol, network)
	}
	return describe(meta, entry), nil
}

// Invalidate drops the cached universe of network.
func (r *Resolver) Invalidate(network domain.Network) {
	r.mu.Lock()
	delete(r.cache, network)
	r.mu.Unlock()
}

func (r *Resolver) spotMeta(ctx context.Context, network domain.Network) (*clients.SpotMeta, error) {
	r.mu.RLock()
	c, ok := r.cache[network]
	r.mu.RUnlock()
	if ok && r.now().Sub(c.fetchedAt) < r.ttl {
		return c.meta, nil
	}

	// concurrent misses on one network share a single fetch
	v, err, _ := r.group.Do(string(network), func() (any, error) {
		meta, err := r.source.SpotMeta(ctx, network)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[network] = cachedMeta{meta: meta, fetchedAt: r.now()}
		r.mu.Unlock()

		r.logger.Debug("spot universe refreshed",
			zap.String("network", network.String()),
			zap.Int("markets", len(meta.Universe)))
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*clients.SpotMeta), nil
}

// match applies, in order: exact name, "{symbol}/USDC", base token, alias table.
func match(meta *clients.SpotMeta, symbol string) (clients.SpotUniverseEntry, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return clients.SpotUniverseEntry{}, false
	}

	for _, e := range meta.Universe {
		if strings.EqualFold(e.Name, symbol) {
			return e, true
		}
	}

	pair := symbol + "/" + domain.QuoteCurrency
	for _, e := range meta.Universe {
		if strings.EqualFold(e.Name, pair) {
			return e, true
		}
	}

	if e, ok := matchBase(meta, strings.TrimPrefix(symbol, "@")); ok {
		return e, true
	}

	for _, alias := range aliases[symbol] {
		for _, e := range meta.Universe {
			if strings.EqualFold(e.Name, alias+"/"+domain.QuoteCurrency) {
				return e, true
			}
		}
		if e, ok := matchBase(meta, alias); ok {
			return e, true
		}
	}

	return clients.SpotUniverseEntry{}, false
}

func matchBase(meta *clients.SpotMeta, symbol string) (clients.SpotUniverseEntry, bool) {
	for _, e := range meta.Universe {
		if strings.EqualFold(baseName(meta, e), symbol) {
			return e, true
		}
	}
	return clients.SpotUniverseEntry{}, false
}

// baseName base token of a market. Unlisted markets are named "@index",
// their base comes from the token listing.
func baseName(meta *clients.SpotMeta, e clients.SpotUniverseEntry) string {
	name := e.Name
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	if !strings.HasPrefix(name, "@") {
		return name
	}
	if len(e.Tokens) > 0 {
		if tok, ok := meta.TokenByIndex(e.Tokens[0]); ok {
			return tok.Name
		}
	}
	return strings.TrimPrefix(name, "@")
}

func describe(meta *clients.SpotMeta, e clients.SpotUniverseEntry) domain.SpotAsset {
	szDecimals := defaultSizeDecimals
	switch {
	case e.SzDecimals != nil:
		szDecimals = *e.SzDecimals
	case len(e.Tokens) > 0:
		if tok, ok := meta.TokenByIndex(e.Tokens[0]); ok && tok.SzDecimals != nil {
			szDecimals = *tok.SzDecimals
		}
	}

	minSize := decimal.New(1, -szDecimals)
	if e.MinSz != nil {
		if v, err := decimal.NewFromString(*e.MinSz); err == nil && v.IsPositive() {
			minSize = v
		}
	}

	return domain.SpotAsset{
		AssetID:       domain.SpotAssetIDOffset + e.Index,
		UniverseIndex: e.Index,
		SizeDecimals:  szDecimals,
		MinSize:       minSize,
		CanonicalName: e.Name,
	}
}
