package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding cached non-quote balance valued at the current mid price.
type Holding struct {
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	ValueUSD  decimal.Decimal `json:"value_usd"`
	Network   Network         `json:"network"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Balance spendable quote currency balance.
type Balance struct {
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Network   Network         `json:"network"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SyncResult outcome of one reconciliation run.
type SyncResult struct {
	Holdings             []Holding `json:"holdings"`
	Balance              Balance   `json:"balance"`
	TransactionsSynced   int       `json:"transactions_synced"`
	TransactionsInserted int       `json:"transactions_inserted"`
	GapsRepaired         int       `json:"gaps_repaired"`
}
