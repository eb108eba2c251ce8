package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsBuy reports whether s is the buy side.
func (s Side) IsBuy() bool {
	return s == SideBuy
}

// FillResult confirmed execution of an IOC order.
type FillResult struct {
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	OrderID      int64           `json:"order_id"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	AveragePrice decimal.Decimal `json:"average_price"`
	TotalUSD     decimal.Decimal `json:"total_usd"`
	LimitPrice   string          `json:"limit_price"`
	Size         string          `json:"size"`
	TxHash       string          `json:"tx_hash"`
	// Recorded is false when the fill could not be saved locally and was
	// queued for repair by the next sync.
	Recorded   bool      `json:"recorded"`
	ExecutedAt time.Time `json:"executed_at"`
}
