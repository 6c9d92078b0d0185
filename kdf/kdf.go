// Package kdf derives symmetric keys from passphrases with PBKDF2-HMAC-SHA256.
//
// Every call takes its salt and parameters explicitly; nothing is cached
// between calls.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/izouxv/keyshard/utils"
)

const (
	// DefaultIterations is the PBKDF2 work factor.
	DefaultIterations = 100000
	// DefaultKeyLength fits AES-256.
	DefaultKeyLength = 32
	// DefaultSaltSize is the salt length produced by NewSalt.
	DefaultSaltSize = 16
)

var (
	// ErrEmptyPassphrase is returned for a zero-length passphrase.
	ErrEmptyPassphrase = errors.New("empty passphrase")
	// ErrInvalidParams is returned for non-positive iterations or key length.
	ErrInvalidParams = errors.New("invalid kdf parameters")
)

// Params are the PBKDF2 inputs other than passphrase and salt.
type Params struct {
	Iterations int `json:"iterations" yaml:"iterations"`
	KeyLength  int `json:"key_length" yaml:"key_length"`
}

func DefaultParams() Params {
	return Params{Iterations: DefaultIterations, KeyLength: DefaultKeyLength}
}

func (p Params) Validate() error {
	if p.Iterations <= 0 || p.KeyLength <= 0 {
		return fmt.Errorf("%w: iterations=%d key_length=%d", ErrInvalidParams, p.Iterations, p.KeyLength)
	}
	return nil
}

// Derive returns p.KeyLength bytes. Identical inputs give identical output.
func Derive(passphrase, salt []byte, p Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return pbkdf2.Key(passphrase, salt, p.Iterations, p.KeyLength, sha256.New), nil
}

// NewSalt returns a random salt of the given size, or DefaultSaltSize when size is 0.
func NewSalt(size int) ([]byte, error) {
	if size == 0 {
		size = DefaultSaltSize
	}
	return utils.RandomBytes(size)
}
