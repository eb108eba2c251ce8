package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Frequency cadence of a recurring purchase.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// IsValid checks if the Frequency value is valid.
func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// Next returns the run time following from.
func (f Frequency) Next(from time.Time) (time.Time, error) {
	switch f {
	case FrequencyDaily:
		return from.AddDate(0, 0, 1), nil
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7), nil
	case FrequencyBiweekly:
		return from.AddDate(0, 0, 14), nil
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q", f)
	}
}

// DCAPlan recurring purchase of one asset.
// A plan without SlippagePercent uses the configured default at run time.
type DCAPlan struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Asset           string              `json:"asset"`
	AmountUSD       decimal.Decimal     `json:"amount_usd"`
	Frequency       Frequency           `json:"frequency"`
	SlippagePercent decimal.NullDecimal `json:"slippage_percent"`
	Active          bool                `json:"active"`
	NextRunAt       time.Time           `json:"next_run_at"`
}

// DCAExecutionStatus outcome of one plan run.
type DCAExecutionStatus string

const (
	DCAExecutionSuccess DCAExecutionStatus = "success"
	DCAExecutionFailed  DCAExecutionStatus = "failed"
)

// DCAExecution record of one triggered plan trade, written on success and failure.
type DCAExecution struct {
	ID           string             `json:"id"`
	PlanID       string             `json:"plan_id"`
	UserID       string             `json:"user_id"`
	Asset        string             `json:"asset"`
	AmountUSD    decimal.Decimal    `json:"amount_usd"`
	CryptoAmount decimal.Decimal    `json:"crypto_amount"`
	PriceUSD     decimal.Decimal    `json:"price_usd"`
	Status       DCAExecutionStatus `json:"status"`
	ErrorKind    Kind               `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	TxHash       string             `json:"tx_hash,omitempty"`
	ExecutedAt   time.Time          `json:"executed_at"`
}
