// Package keys creates the keys a consumer uses with an issuer: a fresh
// transaction key per payment, and the user key that unlocks an encrypted
// channel key.
package keys

import (
	"crypto/rand"
	"fmt"

	"github.com/stellar/go/keypair"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for DeriveUserKey.
const (
	scryptN     = 1 << 15
	scryptR     = 8
	scryptP     = 1
	UserKeySize = 32
	SaltSize    = 16
)

// Generate returns a fresh transaction key.
func Generate() (*keypair.Full, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, fmt.Errorf("generating transaction key: %w", err)
	}
	return kp, nil
}

// FromSeed parses a transaction key from its secret seed.
func FromSeed(seed string) (*keypair.Full, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return kp, nil
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	_, err := rand.Read(salt)
	if err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	return salt, nil
}

// DeriveUserKey derives the key that decrypts an encrypted channel key from
// the user's passphrase.
func DeriveUserKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("salt of %d bytes, want at least %d", len(salt), SaltSize)
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, UserKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving user key: %w", err)
	}
	return key, nil
}
