// Package gormstore persists profiles, transactions, holdings and DCA plans
// in a relational database through gorm.
package gormstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/domain"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store gorm backed persistence.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the schema. A postgres:// or
// postgresql:// dsn selects PostgreSQL, anything else is a SQLite path.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, domain.NewError(domain.KindConfiguration, "database dsn is not configured")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}
		log.Info("database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create database dir")
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		log.Info("database initialized (SQLite)", zap.String("path", dsn))
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return New(db, log), nil
}

// New wraps an already migrated connection.
func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, logger: log}
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&profileRecord{},
		&transactionRecord{},
		&holdingRecord{},
		&balanceRecord{},
		&dcaPlanRecord{},
		&dcaExecutionRecord{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to auto-migrate database")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetProfile loads a profile or fails with a NotFound error.
func (s *Store) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	var rec profileRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Profile{}, domain.NewError(domain.KindNotFound, "profile %s not found", id)
	}
	if err != nil {
		return domain.Profile{}, errors.Wrapf(err, "load profile %s", id)
	}
	return rec.toDomain(), nil
}

// EnsureProfile returns the profile of id, creating it on first login.
// A changed wallet address replaces the stored one.
func (s *Store) EnsureProfile(ctx context.Context, id, walletAddress string) (domain.Profile, error) {
	rec := profileRecord{ID: id}
	err := s.db.WithContext(ctx).
		Attrs(profileRecord{WalletAddress: walletAddress, Network: string(domain.NetworkMainnet)}).
		FirstOrCreate(&rec, profileRecord{ID: id}).Error
	if err != nil {
		return domain.Profile{}, errors.Wrapf(err, "ensure profile %s", id)
	}

	if walletAddress != "" && !strings.EqualFold(rec.WalletAddress, walletAddress) {
		if err := s.UpdateProfile(ctx, id, domain.ProfileUpdate{WalletAddress: &walletAddress}); err != nil {
			return domain.Profile{}, err
		}
		rec.WalletAddress = walletAddress
	}
	return rec.toDomain(), nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) error {
	fields := map[string]any{}
	if upd.WalletAddress != nil {
		fields["wallet_address"] = *upd.WalletAddress
	}
	if upd.Network != nil {
		fields["network"] = string(*upd.Network)
	}
	if upd.AgentEncryptedKey != nil {
		fields["agent_encrypted_key"] = *upd.AgentEncryptedKey
	}
	if upd.SetAuthorizedAt {
		fields["agent_authorized_at"] = upd.AgentAuthorizedAt
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&profileRecord{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update profile %s", id)
	}
	if res.RowsAffected == 0 {
		return domain.NewError(domain.KindNotFound, "profile %s not found", id)
	}
	return nil
}

// RotateAgentWallet stores a new agent keypair and clears authorization in a
// single statement, so concurrent rotations leave a consistent pair.
func (s *Store) RotateAgentWallet(ctx context.Context, id, address, encryptedKey string) error {
	res := s.db.WithContext(ctx).Model(&profileRecord{}).Where("id = ?", id).Updates(map[string]any{
		"agent_address":       address,
		"agent_encrypted_key": encryptedKey,
		"agent_authorized_at": nil,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "rotate agent wallet of %s", id)
	}
	if res.RowsAffected == 0 {
		return domain.NewError(domain.KindNotFound, "profile %s not found", id)
	}
	return nil
}

// SwapAgentKey replaces the agent key ciphertext only while it still equals
// oldKey. It reports false when another writer changed the key first.
func (s *Store) SwapAgentKey(ctx context.Context, id, oldKey, newKey string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&profileRecord{}).
		Where("id = ? AND agent_encrypted_key = ?", id, oldKey).
		Update("agent_encrypted_key", newKey)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "swap agent key of %s", id)
	}
	return res.RowsAffected == 1, nil
}

// InsertTransaction stores a new transaction.
func (s *Store) InsertTransaction(ctx context.Context, t domain.WalletTransaction) error {
	rec := newTransactionRecord(t)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "insert transaction")
	}
	return nil
}

// UpsertTransaction inserts t unless (UserID, ExchangeTxHash) already exists,
// in which case the stored row is left unchanged. It reports whether a row
// was inserted.
func (s *Store) UpsertTransaction(ctx context.Context, t domain.WalletTransaction) (bool, error) {
	rec := newTransactionRecord(t)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "exchange_tx_hash"}},
		DoNothing: true,
	}).Create(&rec)
	if res.Error == nil {
		return res.RowsAffected > 0, nil
	}
	if !isMissingConstraint(res.Error) {
		return false, errors.Wrap(res.Error, "upsert transaction")
	}

	s.logger.Warn("transactions table has no unique constraint, falling back to insert",
		zap.String("user", rec.UserID))
	return s.insertIfAbsent(ctx, rec)
}

func (s *Store) insertIfAbsent(ctx context.Context, rec transactionRecord) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&transactionRecord{}).
		Where("user_id = ? AND exchange_tx_hash = ?", rec.UserID, rec.ExchangeTxHash).
		Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "check transaction")
	}
	if n > 0 {
		return false, nil
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "insert transaction")
	}
	return true, nil
}

func isMissingConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not match any PRIMARY KEY or UNIQUE constraint") ||
		strings.Contains(msg, "no unique or exclusion constraint")
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}

// ListTransactions newest first. A non-positive limit returns all rows.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	var recs []transactionRecord
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("executed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}

	out := make([]domain.WalletTransaction, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ReplaceHoldings deletes every holding of userID and stores holdings instead.
func (s *Store) ReplaceHoldings(ctx context.Context, userID string, holdings []domain.Holding) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&holdingRecord{}).Error; err != nil {
			return errors.Wrap(err, "delete holdings")
		}
		if len(holdings) == 0 {
			return nil
		}

		recs := make([]holdingRecord, 0, len(holdings))
		for _, h := range holdings {
			recs = append(recs, holdingRecord{
				UserID:    userID,
				Asset:     h.Asset,
				Amount:    h.Amount,
				PriceUSD:  h.PriceUSD,
				ValueUSD:  h.ValueUSD,
				Network:   string(h.Network),
				UpdatedAt: h.UpdatedAt,
			})
		}
		if err := tx.Create(&recs).Error; err != nil {
			return errors.Wrap(err, "insert holdings")
		}
		return nil
	})
}

// ListHoldings holdings of userID ordered by value.
func (s *Store) ListHoldings(ctx context.Context, userID string) ([]domain.Holding, error) {
	var recs []holdingRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("value_usd DESC").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list holdings")
	}

	out := make([]domain.Holding, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Holding{
			UserID:    r.UserID,
			Asset:     r.Asset,
			Amount:    r.Amount,
			PriceUSD:  r.PriceUSD,
			ValueUSD:  r.ValueUSD,
			Network:   domain.Network(r.Network),
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}

// UpsertBalance stores b, replacing the previous balance of the same currency and network.
func (s *Store) UpsertBalance(ctx context.Context, b domain.Balance) error {
	rec := balanceRecord{
		UserID:    b.UserID,
		Currency:  b.Currency,
		Network:   string(b.Network),
		Total:     b.Total,
		Available: b.Available,
		UpdatedAt: b.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}, {Name: "network"}},
		DoUpdates: clause.AssignmentColumns([]string{"total", "available", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return errors.Wrap(err, "upsert balance")
	}
	return nil
}

// GetBalance returns the stored balance or a zero balance when none exists.
func (s *Store) GetBalance(ctx context.Context, userID, currency string, network domain.Network) (domain.Balance, error) {
	var rec balanceRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND currency = ? AND network = ?", userID, currency, string(network)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Balance{UserID: userID, Currency: currency, Network: network}, nil
	}
	if err != nil {
		return domain.Balance{}, errors.Wrap(err, "load balance")
	}
	return domain.Balance{
		UserID:    rec.UserID,
		Currency:  rec.Currency,
		Total:     rec.Total,
		Available: rec.Available,
		Network:   domain.Network(rec.Network),
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// CreateDCAPlan stores a new plan and returns it with its id.
func (s *Store) CreateDCAPlan(ctx context.Context, p domain.DCAPlan) (domain.DCAPlan, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	rec := dcaPlanRecord{
		ID:              p.ID,
		UserID:          p.UserID,
		Asset:           p.Asset,
		AmountUSD:       p.AmountUSD,
		Frequency:       string(p.Frequency),
		SlippagePercent: p.SlippagePercent,
		Active:          p.Active,
		NextRunAt:       p.NextRunAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.DCAPlan{}, errors.Wrap(err, "create dca plan")
	}
	return p, nil
}

// ListDCAPlans plans of userID.
func (s *Store) ListDCAPlans(ctx context.Context, userID string) ([]domain.DCAPlan, error) {
	var recs []dcaPlanRecord
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list dca plans")
	}
	return plansToDomain(recs), nil
}

// DueDCAPlans active plans whose next run is not after now.
func (s *Store) DueDCAPlans(ctx context.Context, now time.Time, limit int) ([]domain.DCAPlan, error) {
	var recs []dcaPlanRecord
	q := s.db.WithContext(ctx).Where("active = ? AND next_run_at <= ?", true, now).Order("next_run_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list due dca plans")
	}
	return plansToDomain(recs), nil
}

func plansToDomain(recs []dcaPlanRecord) []domain.DCAPlan {
	out := make([]domain.DCAPlan, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out
}

// ScheduleDCAPlan moves the next run of a plan.
func (s *Store) ScheduleDCAPlan(ctx context.Context, id string, next time.Time) error {
	res := s.db.WithContext(ctx).Model(&dcaPlanRecord{}).Where("id = ?", id).Update("next_run_at", next)
	if res.Error != nil {
		return errors.Wrap(res.Error, "schedule dca plan")
	}
	if res.RowsAffected == 0 {
		return domain.NewError(domain.KindNotFound, "dca plan %s not found", id)
	}
	return nil
}

// SetDCAPlanActive pauses or resumes a plan owned by userID.
func (s *Store) SetDCAPlanActive(ctx context.Context, userID, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&dcaPlanRecord{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("active", active)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update dca plan")
	}
	if res.RowsAffected == 0 {
		return domain.NewError(domain.KindNotFound, "dca plan %s not found", id)
	}
	return nil
}

// InsertDCAExecution records one plan run.
func (s *Store) InsertDCAExecution(ctx context.Context, e domain.DCAExecution) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	rec := dcaExecutionRecord{
		ID:           e.ID,
		PlanID:       e.PlanID,
		UserID:       e.UserID,
		Asset:        e.Asset,
		AmountUSD:    e.AmountUSD,
		CryptoAmount: e.CryptoAmount,
		PriceUSD:     e.PriceUSD,
		Status:       string(e.Status),
		ErrorKind:    string(e.ErrorKind),
		ErrorMessage: e.ErrorMessage,
		TxHash:       e.TxHash,
		ExecutedAt:   e.ExecutedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(err, "insert dca execution")
	}
	return nil
}

// ListDCAExecutions executions of a plan, newest first.
func (s *Store) ListDCAExecutions(ctx context.Context, planID string) ([]domain.DCAExecution, error) {
	var recs []dcaExecutionRecord
	if err := s.db.WithContext(ctx).Where("plan_id = ?", planID).Order("executed_at DESC").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list dca executions")
	}
	out := make([]domain.DCAExecution, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}
