package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		size     string
		decimals int32
		want     string
	}{
		{"strips trailing zeros", "0.00200", 5, "0.002"},
		{"rounds to precision", "0.0123456", 4, "0.0123"},
		{"whole units", "12.0", 0, "12"},
		{"rounds half up", "1.25", 1, "1.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSize(decimal.RequireFromString(tt.size), tt.decimals))
		})
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "50500", FormatPrice(decimal.RequireFromString("50500.000")))
	assert.Equal(t, "1.5", FormatPrice(decimal.RequireFromString("1.499")))
	assert.Equal(t, "0", FormatPrice(decimal.RequireFromString("0.0012")))
}

func TestFloorWholeUnits(t *testing.T) {
	assert.True(t, FloorWholeUnits(decimal.RequireFromString("2.9"), 0).Equal(decimal.NewFromInt(2)))
	assert.True(t, FloorWholeUnits(decimal.RequireFromString("0.9"), 0).IsZero())
	assert.True(t, FloorWholeUnits(decimal.RequireFromString("2.9"), 2).Equal(decimal.RequireFromString("2.9")))
}

func TestFrequencyNext(t *testing.T) {
	from := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

	next, err := FrequencyDaily.Next(from)
	require.NoError(t, err)
	assert.Equal(t, from.AddDate(0, 0, 1), next)

	next, err = FrequencyBiweekly.Next(from)
	require.NoError(t, err)
	assert.Equal(t, from.AddDate(0, 0, 14), next)

	next, err = FrequencyMonthly.Next(from)
	require.NoError(t, err)
	assert.Equal(t, from.AddDate(0, 1, 0), next)

	_, err = Frequency("hourly").Next(from)
	assert.Error(t, err)
}

func TestParseNetwork(t *testing.T) {
	n, err := ParseNetwork("")
	require.NoError(t, err)
	assert.Equal(t, NetworkMainnet, n)

	n, err = ParseNetwork("testnet")
	require.NoError(t, err)
	assert.False(t, n.IsMainnet())

	_, err = ParseNetwork("devnet")
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	err := WrapError(KindTransientNetwork, assert.AnError, "info request failed")
	assert.Equal(t, KindTransientNetwork, KindOf(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "info request failed", MessageOf(err))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
	assert.True(t, IsKind(ErrNoLiquidity("BTC"), KindNoLiquidity))
}

func TestSpotAssetMidKey(t *testing.T) {
	a := SpotAsset{AssetID: 10107, UniverseIndex: 107, SizeDecimals: 0}
	assert.Equal(t, "@107", a.MidKey())
	assert.True(t, a.IsWholeUnit())
}
