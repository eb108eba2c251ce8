package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stino180/invest-simply/internal/domain"
)

type profileRecord struct {
	ID                string `gorm:"primaryKey"`
	WalletAddress     string `gorm:"index"`
	Network           string `gorm:"default:mainnet"`
	AgentAddress      string
	AgentEncryptedKey string
	AgentAuthorizedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (profileRecord) TableName() string { return "profiles" }

func (r profileRecord) toDomain() domain.Profile {
	network, err := domain.ParseNetwork(r.Network)
	if err != nil {
		network = domain.NetworkMainnet
	}
	return domain.Profile{
		ID:                r.ID,
		WalletAddress:     r.WalletAddress,
		Network:           network,
		AgentAddress:      r.AgentAddress,
		AgentEncryptedKey: r.AgentEncryptedKey,
		AgentAuthorizedAt: r.AgentAuthorizedAt,
	}
}

type transactionRecord struct {
	ID             string          `gorm:"primaryKey"`
	UserID         string          `gorm:"uniqueIndex:uq_wallet_tx_user_hash;not null"`
	Type           string          `gorm:"not null"`
	Asset          string          `gorm:"index"`
	Amount         decimal.Decimal `gorm:"type:decimal(36,18)"`
	PriceUSD       decimal.Decimal `gorm:"type:decimal(36,18)"`
	TotalUSD       decimal.Decimal `gorm:"type:decimal(36,18)"`
	Fee            decimal.Decimal `gorm:"type:decimal(36,18)"`
	Status         string
	Network        string
	ExchangeTxHash string `gorm:"uniqueIndex:uq_wallet_tx_user_hash;not null"`
	ExecutedAt     time.Time
	CreatedAt      time.Time
}

func (transactionRecord) TableName() string { return "wallet_transactions" }

func newTransactionRecord(t domain.WalletTransaction) transactionRecord {
	return transactionRecord{
		ID:             t.ID,
		UserID:         t.UserID,
		Type:           string(t.Type),
		Asset:          t.Asset,
		Amount:         t.Amount,
		PriceUSD:       t.PriceUSD,
		TotalUSD:       t.TotalUSD,
		Fee:            t.Fee,
		Status:         t.Status,
		Network:        string(t.Network),
		ExchangeTxHash: t.ExchangeTxHash,
		ExecutedAt:     t.ExecutedAt,
	}
}

func (r transactionRecord) toDomain() domain.WalletTransaction {
	return domain.WalletTransaction{
		ID:             r.ID,
		UserID:         r.UserID,
		Type:           domain.TransactionType(r.Type),
		Asset:          r.Asset,
		Amount:         r.Amount,
		PriceUSD:       r.PriceUSD,
		TotalUSD:       r.TotalUSD,
		Fee:            r.Fee,
		Status:         r.Status,
		Network:        domain.Network(r.Network),
		ExchangeTxHash: r.ExchangeTxHash,
		ExecutedAt:     r.ExecutedAt,
	}
}

type holdingRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"index;not null"`
	Asset     string          `gorm:"not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(36,18)"`
	PriceUSD  decimal.Decimal `gorm:"type:decimal(36,18)"`
	ValueUSD  decimal.Decimal `gorm:"type:decimal(36,18)"`
	Network   string
	UpdatedAt time.Time
}

func (holdingRecord) TableName() string { return "holdings" }

type balanceRecord struct {
	UserID    string          `gorm:"primaryKey"`
	Currency  string          `gorm:"primaryKey"`
	Network   string          `gorm:"primaryKey"`
	Total     decimal.Decimal `gorm:"type:decimal(36,18)"`
	Available decimal.Decimal `gorm:"type:decimal(36,18)"`
	UpdatedAt time.Time
}

func (balanceRecord) TableName() string { return "balances" }

type dcaPlanRecord struct {
	ID              string              `gorm:"primaryKey"`
	UserID          string              `gorm:"index;not null"`
	Asset           string              `gorm:"not null"`
	AmountUSD       decimal.Decimal     `gorm:"type:decimal(36,18)"`
	Frequency       string
	SlippagePercent decimal.NullDecimal `gorm:"type:decimal(10,4)"`
	Active          bool                `gorm:"index"`
	NextRunAt       time.Time           `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (dcaPlanRecord) TableName() string { return "dca_plans" }

func (r dcaPlanRecord) toDomain() domain.DCAPlan {
	return domain.DCAPlan{
		ID:              r.ID,
		UserID:          r.UserID,
		Asset:           r.Asset,
		AmountUSD:       r.AmountUSD,
		Frequency:       domain.Frequency(r.Frequency),
		SlippagePercent: r.SlippagePercent,
		Active:          r.Active,
		NextRunAt:       r.NextRunAt,
	}
}

type dcaExecutionRecord struct {
	ID           string `gorm:"primaryKey"`
	PlanID       string `gorm:"index;not null"`
	UserID       string `gorm:"index;not null"`
	Asset        string
	AmountUSD    decimal.Decimal `gorm:"type:decimal(36,18)"`
	CryptoAmount decimal.Decimal `gorm:"type:decimal(36,18)"`
	PriceUSD     decimal.Decimal `gorm:"type:decimal(36,18)"`
	Status       string
	ErrorKind    string
	ErrorMessage string
	TxHash       string
	ExecutedAt   time.Time
}

func (dcaExecutionRecord) TableName() string { return "dca_executions" }

func (r dcaExecutionRecord) toDomain() domain.DCAExecution {
	return domain.DCAExecution{
		ID:           r.ID,
		PlanID:       r.PlanID,
		UserID:       r.UserID,
		Asset:        r.Asset,
		AmountUSD:    r.AmountUSD,
		CryptoAmount: r.CryptoAmount,
		PriceUSD:     r.PriceUSD,
		Status:       domain.DCAExecutionStatus(r.Status),
		ErrorKind:    domain.Kind(r.ErrorKind),
		ErrorMessage: r.ErrorMessage,
		TxHash:       r.TxHash,
		ExecutedAt:   r.ExecutedAt,
	}
}
