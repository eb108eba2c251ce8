// Package agentwallet manages the per-profile delegated signing key.
package agentwallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/clients"
	"github.com/stino180/invest-simply/internal/domain"
	"github.com/stino180/invest-simply/internal/secretbox"
	"go.uber.org/zap"
)

// ProfileStore persistence the manager needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) error
	RotateAgentWallet(ctx context.Context, id, address, encryptedKey string) error
	SwapAgentKey(ctx context.Context, id, oldKey, newKey string) (bool, error)
}

// AgentLister lists the delegated signers a user approved on the exchange.
type AgentLister interface {
	ExtraAgents(ctx context.Context, network domain.Network, user string) ([]clients.ExtraAgent, error)
}

// Wallet usable agent keypair.
type Wallet struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
	// Rotated is set when Ensure generated a new key; any prior
	// authorization no longer applies.
	Rotated bool
}

// Manager owns the agent wallet lifecycle of every profile.
type Manager struct {
	store  ProfileStore
	codec  *secretbox.Codec
	agents AgentLister
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(store ProfileStore, codec *secretbox.Codec, agents AgentLister, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		codec:  codec,
		agents: agents,
		logger: logger,
		now:    time.Now,
	}
}

// Ensure returns a keypair whose address matches the stored agent address,
// creating or rotating it when the stored key is absent, unrecoverable or
// inconsistent. Legacy ciphertexts are re-encrypted on the way.
func (m *Manager) Ensure(ctx context.Context, p domain.Profile) (Wallet, error) {
	if !m.codec.Configured() {
		return Wallet{}, domain.NewError(domain.KindConfiguration, "agent key encryption is not configured")
	}
	if !p.HasAgentKey() {
		return m.rotate(ctx, p, "no agent key")
	}

	key, legacy, ok := m.recover(p)
	if !ok {
		return m.rotate(ctx, p, "agent key could not be decrypted")
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(addr.Hex(), p.AgentAddress) {
		return m.rotate(ctx, p, "agent address does not match stored key")
	}

	if legacy && !m.migrate(ctx, p, key) {
		// a concurrent rotation replaced the key; use the stored pair instead
		fresh, err := m.store.GetProfile(ctx, p.ID)
		if err != nil {
			return Wallet{}, err
		}
		if fresh.AgentEncryptedKey != p.AgentEncryptedKey {
			return m.Ensure(ctx, fresh)
		}
	}

	return Wallet{Address: addr, PrivateKey: key}, nil
}

// recover decrypts the stored key, trying the current scheme before the
// legacy encoding.
func (m *Manager) recover(p domain.Profile) (*ecdsa.PrivateKey, bool, bool) {
	if plain, err := m.codec.Open(p.AgentEncryptedKey, p.ID); err == nil {
		key, err := parseKey(plain)
		if err != nil {
			m.logger.Warn("stored agent key is invalid", zap.String("profile", p.ID), zap.Error(err))
			return nil, false, false
		}
		return key, false, true
	}

	plain, ok := secretbox.OpenLegacy(p.AgentEncryptedKey)
	if !ok {
		return nil, false, false
	}
	key, err := parseKey(plain)
	if err != nil {
		return nil, false, false
	}
	return key, true, true
}

// migrate re-encrypts a legacy key in place. It returns false only when the
// stored key changed underneath, so the caller's copy is stale.
func (m *Manager) migrate(ctx context.Context, p domain.Profile, key *ecdsa.PrivateKey) bool {
	sealed, err := m.codec.Seal(encodeKey(key), p.ID)
	if err != nil {
		m.logger.Error("failed to re-encrypt legacy agent key", zap.String("profile", p.ID), zap.Error(err))
		return true
	}
	swapped, err := m.store.SwapAgentKey(ctx, p.ID, p.AgentEncryptedKey, sealed)
	if err != nil {
		m.logger.Error("failed to store migrated agent key", zap.String("profile", p.ID), zap.Error(err))
		return true
	}
	if !swapped {
		m.logger.Info("legacy agent key changed before migration", zap.String("profile", p.ID))
		return false
	}
	m.logger.Warn("migrated legacy agent key", zap.String("profile", p.ID))
	return true
}

func (m *Manager) rotate(ctx context.Context, p domain.Profile, reason string) (Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Wallet{}, errors.Wrap(err, "generate agent key")
	}
	sealed, err := m.codec.Seal(encodeKey(key), p.ID)
	if err != nil {
		return Wallet{}, domain.WrapError(domain.KindConfiguration, err, "encrypt agent key")
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)
	if err := m.store.RotateAgentWallet(ctx, p.ID, addr.Hex(), sealed); err != nil {
		return Wallet{}, err
	}

	m.logger.Warn("agent wallet rotated",
		zap.String("profile", p.ID),
		zap.String("reason", reason),
		zap.String("previous", p.AgentAddress),
		zap.String("agent", addr.Hex()))

	return Wallet{Address: addr, PrivateKey: key, Rotated: true}, nil
}

// CheckAuthorization reads the authorization state fresh from the store.
func (m *Manager) CheckAuthorization(ctx context.Context, profileID string) (bool, error) {
	p, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return false, err
	}
	return p.IsAgentAuthorized(), nil
}

// RegisterAuthorization records that the user approved the current agent.
func (m *Manager) RegisterAuthorization(ctx context.Context, profileID string) (time.Time, error) {
	p, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return time.Time{}, err
	}
	if p.AgentAddress == "" {
		return time.Time{}, domain.NewError(domain.KindInvalidRequest, "profile has no agent wallet to authorize")
	}

	now := m.now().UTC()
	err = m.store.UpdateProfile(ctx, profileID, domain.ProfileUpdate{SetAuthorizedAt: true, AgentAuthorizedAt: &now})
	if err != nil {
		return time.Time{}, err
	}
	m.logger.Info("agent authorization registered", zap.String("profile", profileID), zap.String("agent", p.AgentAddress))
	return now, nil
}

// ClearAuthorization forgets the recorded authorization.
func (m *Manager) ClearAuthorization(ctx context.Context, profileID string) error {
	return m.store.UpdateProfile(ctx, profileID, domain.ProfileUpdate{SetAuthorizedAt: true})
}

// SyncAuthorizationFromExchange marks the agent authorized when the exchange
// lists it for the user with a future expiry. Exchange failures report false.
func (m *Manager) SyncAuthorizationFromExchange(ctx context.Context, profileID string) (bool, error) {
	p, err := m.store.GetProfile(ctx, profileID)
	if err != nil {
		return false, err
	}
	if p.AgentAddress == "" || p.WalletAddress == "" {
		return false, nil
	}

	agents, err := m.agents.ExtraAgents(ctx, p.Network, p.WalletAddress)
	if err != nil {
		m.logger.Warn("failed to query approved agents", zap.String("profile", profileID), zap.Error(err))
		return false, nil
	}

	nowMs := m.now().UnixMilli()
	for _, a := range agents {
		if !strings.EqualFold(a.Address, p.AgentAddress) || a.ValidUntil <= nowMs {
			continue
		}
		if p.IsAgentAuthorized() {
			return true, nil
		}
		now := m.now().UTC()
		if err := m.store.UpdateProfile(ctx, profileID, domain.ProfileUpdate{SetAuthorizedAt: true, AgentAuthorizedAt: &now}); err != nil {
			m.logger.Error("failed to store exchange authorization", zap.String("profile", profileID), zap.Error(err))
			return false, nil
		}
		m.logger.Info("agent authorization restored from exchange", zap.String("profile", profileID))
		return true, nil
	}

	return false, nil
}

func parseKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return crypto.HexToECDSA(s)
}

func encodeKey(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(key))
}
