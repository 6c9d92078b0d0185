// Package keystore seals secrets at rest, such as share files, under a
// passphrase. The envelope is JSON: a passphrase-derived key (PBKDF2 or
// scrypt) encrypts the payload with AES-256-GCM.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/scrypt"

	"github.com/izouxv/keyshard/kdf"
	"github.com/izouxv/keyshard/utils"
)

const (
	// KDFPBKDF2 selects PBKDF2-HMAC-SHA256.
	KDFPBKDF2 = "pbkdf2"
	// KDFScrypt selects scrypt.
	KDFScrypt = "scrypt"

	cipherName = "aes-256-gcm"
	version    = 1
	dklen      = 32

	// Upper bounds on the cost an envelope may ask Open to pay.
	maxIterations = 10_000_000
	maxScryptN    = 1 << 20
	maxScryptR    = 32
	maxScryptP    = 16
)

var (
	// ErrInvalidPassword is returned when the passphrase for decryption is incorrect.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrUnsupported is returned for an unknown kdf, cipher or version.
	ErrUnsupported = errors.New("unsupported keystore format")
)

// Envelope is the top-level structure of a sealed file.
type Envelope struct {
	ID      string     `json:"id"`
	Version int        `json:"version"`
	Crypto  CryptoJSON `json:"crypto"`
}

// CryptoJSON contains the cryptographic parameters.
type CryptoJSON struct {
	Cipher     string        `json:"cipher"`
	Nonce      []byte        `json:"nonce"`
	CipherText []byte        `json:"ciphertext"`
	KDF        string        `json:"kdf"`
	KDFParams  KDFParamsJSON `json:"kdfparams"`
}

// KDFParamsJSON holds the parameters of whichever KDF sealed the envelope.
type KDFParamsJSON struct {
	C     int    `json:"c,omitempty"`
	N     int    `json:"n,omitempty"`
	R     int    `json:"r,omitempty"`
	P     int    `json:"p,omitempty"`
	Dklen int    `json:"dklen"`
	Salt  []byte `json:"salt"`
}

// Options choose the KDF and its cost.
type Options struct {
	KDF      string
	PBKDF2   kdf.Params
	SaltSize int
	ScryptN  int
	ScryptR  int
	ScryptP  int
}

// DefaultOptions use PBKDF2 with 100000 iterations. The scrypt values
// (N=2^18, r=8, p=1) apply when KDF is KDFScrypt.
func DefaultOptions() Options {
	return Options{
		KDF:      KDFPBKDF2,
		PBKDF2:   kdf.DefaultParams(),
		SaltSize: kdf.DefaultSaltSize,
		ScryptN:  1 << 18,
		ScryptR:  8,
		ScryptP:  1,
	}
}

// Seal encrypts plaintext under passphrase and returns the JSON envelope.
func Seal(plaintext []byte, passphrase string, opts Options) ([]byte, error) {
	salt, err := kdf.NewSalt(opts.SaltSize)
	if err != nil {
		return nil, err
	}

	params := KDFParamsJSON{Dklen: dklen, Salt: salt}
	switch opts.KDF {
	case KDFPBKDF2, "":
		opts.KDF = KDFPBKDF2
		params.C = opts.PBKDF2.Iterations
	case KDFScrypt:
		params.N, params.R, params.P = opts.ScryptN, opts.ScryptR, opts.ScryptP
	default:
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupported, opts.KDF)
	}

	derivedKey, err := deriveKey(opts.KDF, []byte(passphrase), params)
	if err != nil {
		return nil, err
	}
	defer utils.Wipe(derivedKey)

	aead, err := newGCM(derivedKey)
	if err != nil {
		return nil, err
	}
	// The key is fresh per envelope (fresh salt), so a random nonce is safe.
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	id := uuid.New().String()

	return json.MarshalIndent(&Envelope{
		ID:      id,
		Version: version,
		Crypto: CryptoJSON{
			Cipher:     cipherName,
			Nonce:      nonce,
			CipherText: aead.Seal(nil, nonce, plaintext, []byte(id)),
			KDF:        opts.KDF,
			KDFParams:  params,
		},
	}, "", "  ")
}

// Open decrypts an envelope produced by Seal.
func Open(data []byte, passphrase string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	if env.Version != version {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupported, env.Version)
	}
	if env.Crypto.Cipher != cipherName {
		return nil, fmt.Errorf("%w: cipher %s", ErrUnsupported, env.Crypto.Cipher)
	}

	derivedKey, err := deriveKey(env.Crypto.KDF, []byte(passphrase), env.Crypto.KDFParams)
	if err != nil {
		return nil, err
	}
	defer utils.Wipe(derivedKey)

	aead, err := newGCM(derivedKey)
	if err != nil {
		return nil, err
	}
	if len(env.Crypto.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce length %d", ErrUnsupported, len(env.Crypto.Nonce))
	}
	// Authentication fails for a wrong passphrase, a tampered body or a changed id.
	plainText, err := aead.Open(nil, env.Crypto.Nonce, env.Crypto.CipherText, []byte(env.ID))
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plainText, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveKey(name string, passphrase []byte, p KDFParamsJSON) ([]byte, error) {
	if p.Dklen != dklen {
		return nil, fmt.Errorf("%w: dklen %d", ErrUnsupported, p.Dklen)
	}
	switch name {
	case KDFPBKDF2:
		if p.C > maxIterations {
			return nil, fmt.Errorf("%w: %d iterations exceeds %d", ErrUnsupported, p.C, maxIterations)
		}
		return kdf.Derive(passphrase, p.Salt, kdf.Params{Iterations: p.C, KeyLength: p.Dklen})
	case KDFScrypt:
		if p.N > maxScryptN || p.R > maxScryptR || p.P > maxScryptP {
			return nil, fmt.Errorf("%w: scrypt n=%d r=%d p=%d exceeds limits", ErrUnsupported, p.N, p.R, p.P)
		}
		return scrypt.Key(passphrase, p.Salt, p.N, p.R, p.P, p.Dklen)
	default:
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupported, name)
	}
}
