// Package pricer provides mid prices for spot markets.
package pricer

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
)

// Pricer returns the current mids of one network.
type Pricer interface {
	Mids(ctx context.Context, network domain.Network) (Mids, error)
}

// Mids mid prices keyed by coin name or "@index".
type Mids map[string]decimal.Decimal

// Lookup returns the first positive mid among keys.
func (m Mids) Lookup(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if px, ok := m[k]; ok && px.IsPositive() {
			return px, true
		}
	}
	return decimal.Zero, false
}

// ParseMids converts raw exchange mids, skipping entries that do not parse.
func ParseMids(raw map[string]string) Mids {
	mids := make(Mids, len(raw))
	for k, v := range raw {
		px, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		mids[k] = px
	}
	return mids
}
