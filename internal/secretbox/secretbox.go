// Package secretbox encrypts agent private keys at rest.
//
// Ciphertexts are bound to a context id (the owning profile id): a value
// sealed for one profile cannot be opened with another profile's id.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrMissingMasterKey no master key was configured.
	ErrMissingMasterKey = errors.New("master key is not configured")
	// ErrMalformed ciphertext is not in the current format.
	ErrMalformed = errors.New("malformed ciphertext")
)

// Codec seals and opens secrets with a process-wide master key.
type Codec struct {
	masterKey []byte
}

// New creates a Codec. An empty master key is allowed so the process can
// start, but every Seal/Open call will fail with ErrMissingMasterKey.
func New(masterKey string) *Codec {
	return &Codec{masterKey: []byte(masterKey)}
}

// Configured reports whether a master key is present.
func (c *Codec) Configured() bool {
	return len(c.masterKey) > 0
}

func (c *Codec) derive(contextID string) []byte {
	h := sha256.New()
	h.Write(c.masterKey)
	h.Write([]byte{0})
	h.Write([]byte(contextID))
	return h.Sum(nil)
}

// Seal encrypts plaintext for contextID and returns hex(nonce || ciphertext).
func (c *Codec) Seal(plaintext, contextID string) (string, error) {
	if !c.Configured() {
		return "", ErrMissingMasterKey
	}
	aead, err := chacha20poly1305.NewX(c.derive(contextID))
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}

	return hex.EncodeToString(aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// Open decrypts a value produced by Seal for the same contextID.
func (c *Codec) Open(sealed, contextID string) (string, error) {
	if !c.Configured() {
		return "", ErrMissingMasterKey
	}
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(c.derive(contextID))
	if err != nil {
		return "", errors.Wrap(err, "init cipher")
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt")
	}
	return string(plaintext), nil
}

// OpenLegacy decodes the pre-encryption storage format: base64 of
// "salt:secret". It returns false when sealed is not in that format.
func OpenLegacy(sealed string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", false
	}
	_, secret, ok := strings.Cut(string(raw), ":")
	if !ok || secret == "" {
		return "", false
	}
	return secret, true
}
