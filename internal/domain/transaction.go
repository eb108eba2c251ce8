package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType kind of wallet movement.
type TransactionType string

const (
	TransactionBuy      TransactionType = "buy"
	TransactionSell     TransactionType = "sell"
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
)

// TransactionStatusCompleted status of settled records.
const TransactionStatusCompleted = "completed"

// WalletTransaction persisted trade or transfer, unique per (UserID, ExchangeTxHash).
type WalletTransaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Type           TransactionType `json:"type"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	TotalUSD       decimal.Decimal `json:"total_usd"`
	Fee            decimal.Decimal `json:"fee"`
	Status         string          `json:"status"`
	Network        Network         `json:"network"`
	ExchangeTxHash string          `json:"exchange_tx_hash"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// OrderTxHash synthetic hash for a trade identified by its exchange order id.
// Sync uses the same key so locally recorded fills are not duplicated.
func OrderTxHash(oid int64) string {
	return "oid:" + strconv.FormatInt(oid, 10)
}

// LocalTxHash fallback hash for a fill whose order id is unknown.
func LocalTxHash(t time.Time) string {
	return "local:" + strconv.FormatInt(t.UnixMilli(), 10)
}
