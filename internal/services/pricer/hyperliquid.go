package pricer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/domain"
)

// MidsSource lists all mids of a network; *clients.HyperliquidAPI satisfies it.
type MidsSource interface {
	AllMids(ctx context.Context, network domain.Network) (map[string]string, error)
}

// HyperliquidPricer fetches mids through the exchange info API, inheriting its
// rate limit and transport retries.
type HyperliquidPricer struct {
	source MidsSource
}

// NewHyperliquidPricer creates a pricer reading from source.
func NewHyperliquidPricer(source MidsSource) *HyperliquidPricer {
	return &HyperliquidPricer{source: source}
}

func (p *HyperliquidPricer) Mids(ctx context.Context, network domain.Network) (Mids, error) {
	if !network.IsValid() {
		return nil, domain.NewError(domain.KindConfiguration, "no exchange host for network %q", network)
	}

	raw, err := p.source.AllMids(ctx, network)
	if err != nil {
		var typed *domain.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, domain.WrapError(domain.KindTransientNetwork, err, "fetch mid prices")
	}
	if len(raw) == 0 {
		return nil, domain.NewError(domain.KindExchangeRejected, "hyperliquid API returned no mid prices")
	}
	return ParseMids(raw), nil
}
