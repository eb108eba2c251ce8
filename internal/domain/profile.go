package domain

import "time"

// Profile end user record the trading pipeline operates on.
type Profile struct {
	ID                string
	WalletAddress     string
	Network           Network
	AgentAddress      string
	AgentEncryptedKey string
	AgentAuthorizedAt *time.Time
}

// HasAgentKey reports whether an agent key ciphertext is stored.
func (p *Profile) HasAgentKey() bool {
	return p.AgentEncryptedKey != ""
}

// IsAgentAuthorized reports whether the agent wallet authorization is recorded.
func (p *Profile) IsAgentAuthorized() bool {
	return p.AgentAuthorizedAt != nil
}

// Identity authenticated caller as established by the identity provider.
type Identity struct {
	UserID        string
	WalletAddress string
}

// ProfileUpdate partial profile change. Nil pointers leave fields untouched.
type ProfileUpdate struct {
	WalletAddress     *string
	Network           *Network
	AgentEncryptedKey *string
	// SetAuthorizedAt applies AgentAuthorizedAt, a nil value clears it.
	SetAuthorizedAt   bool
	AgentAuthorizedAt *time.Time
}
