package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// SpotAssetIDOffset distinguishes spot instrument ids from perpetual ids.
const SpotAssetIDOffset = 10000

// QuoteCurrency spot quote token.
const QuoteCurrency = "USDC"

// SpotAsset exchange metadata for one tradeable spot market.
type SpotAsset struct {
	// AssetID instrument id used in order actions (SpotAssetIDOffset + universe index).
	AssetID int
	// UniverseIndex position of the market in the spot universe listing.
	UniverseIndex int
	// SizeDecimals number of decimals allowed in order sizes.
	SizeDecimals int32
	// MinSize smallest accepted order size.
	MinSize decimal.Decimal
	// CanonicalName market name as published, e.g. "PURR/USDC" or "@107".
	CanonicalName string
}

// IsWholeUnit reports whether the asset only trades in whole units.
func (a SpotAsset) IsWholeUnit() bool {
	return a.SizeDecimals == 0
}

// MidKey key of this market in the allMids response.
func (a SpotAsset) MidKey() string {
	return "@" + strconv.Itoa(a.UniverseIndex)
}

