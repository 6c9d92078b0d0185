// Package keypair manages the RSA key pair whose private half is split into
// shares: generation, PKCS8/SubjectPublicKeyInfo PEM serialization, a
// locked file store, and RSA-OAEP with SHA-256.
package keypair

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/izouxv/keyshard/codec"
)

const (
	// DefaultBits is the modulus size. Its PKCS8 body fits the default
	// 5500-bit field; larger keys need a larger field.
	DefaultBits = 1024
	// MinBits is the smallest modulus accepted for generation.
	MinBits = 1024

	publicKeyType = "PUBLIC KEY"
)

// KeyPair holds both key objects and their PEM forms.
type KeyPair struct {
	Private    *rsa.PrivateKey
	Public     *rsa.PublicKey
	PrivatePEM []byte
	PublicPEM  []byte
}

// Generate creates a new in-memory key pair.
func Generate(bits int) (*KeyPair, error) {
	if bits < MinBits {
		return nil, newError(KindUnsupportedKey, "", fmt.Errorf("key size %d below minimum %d", bits, MinBits))
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, newError(KindUnknown, "", err)
	}
	return FromPrivateKey(priv)
}

// FromPrivateKey serializes priv and its public half.
func FromPrivateKey(priv *rsa.PrivateKey) (*KeyPair, error) {
	privPEM, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Private:    priv,
		Public:     &priv.PublicKey,
		PrivatePEM: privPEM,
		PublicPEM:  pubPEM,
	}, nil
}

// MarshalPrivateKeyPEM encodes priv as an unencrypted PKCS8 "PRIVATE KEY" block.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(priv, nil, nil)
	if err != nil {
		return nil, newError(KindUnsupportedKey, "", err)
	}
	return codec.ArmorPrivateKey(der), nil
}

// MarshalPublicKeyPEM encodes pub as a SubjectPublicKeyInfo "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, newError(KindUnsupportedKey, "", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicKeyType, Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS8 (or legacy PKCS1) RSA private key.
// Encrypted PEM is refused with KindEncryptedKey.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	der, err := codec.ExtractPrivateKeyBody(data)
	switch {
	case errors.Is(err, codec.ErrEncryptedKey):
		return nil, newError(KindEncryptedKey, "", err)
	case err != nil:
		return nil, newError(KindCorruptPEM, "", err)
	}
	return ParsePrivateKeyDER(der)
}

// ParsePrivateKeyDER parses the DER bytes recovered from shares.
func ParsePrivateKeyDER(der []byte) (*rsa.PrivateKey, error) {
	key, err := pkcs8.ParsePKCS8PrivateKey(der)
	if err != nil {
		// Keys written by older tooling may be PKCS1.
		priv, err1 := x509.ParsePKCS1PrivateKey(der)
		if err1 != nil {
			return nil, newError(KindCorruptPEM, "", err)
		}
		return validated(priv)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, newError(KindUnsupportedKey, "", fmt.Errorf("expected RSA key, got %T", key))
	}
	return validated(priv)
}

func validated(priv *rsa.PrivateKey) (*rsa.PrivateKey, error) {
	if err := priv.Validate(); err != nil {
		return nil, newError(KindCorruptPEM, "", err)
	}
	return priv, nil
}

// ParsePublicKeyPEM parses a SubjectPublicKeyInfo RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicKeyType {
		return nil, newError(KindCorruptPEM, "", errors.New("no PUBLIC KEY block"))
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, newError(KindCorruptPEM, "", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, newError(KindUnsupportedKey, "", fmt.Errorf("expected RSA key, got %T", key))
	}
	return pub, nil
}

// MaxPayload is the largest plaintext Encrypt accepts for pub:
// k - 2*hLen - 2 bytes for OAEP with SHA-256.
func MaxPayload(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// Encrypt applies RSA-OAEP with SHA-256 as both digest and MGF1 hash.
// Messages longer than MaxPayload fail with KindMessageTooLong; nothing is chunked.
func Encrypt(plaintext []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, newError(KindEncrypt, "", errors.New("nil public key"))
	}
	if limit := MaxPayload(pub); len(plaintext) > limit {
		return nil, newError(KindMessageTooLong, "", fmt.Errorf("%d bytes, maximum %d", len(plaintext), limit))
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, newError(KindEncrypt, "", err)
	}
	return ct, nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, newError(KindDecrypt, "", errors.New("nil private key"))
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, newError(KindDecrypt, "", err)
	}
	return pt, nil
}

// EncryptToText encrypts and returns base64 text.
func EncryptToText(plaintext []byte, pub *rsa.PublicKey) (string, error) {
	ct, err := Encrypt(plaintext, pub)
	if err != nil {
		return "", err
	}
	return codec.SafeB64Encode(ct), nil
}

// DecryptFromText accepts the output of EncryptToText, including URL-safe
// or unpadded variants.
func DecryptFromText(text string, priv *rsa.PrivateKey) ([]byte, error) {
	ct, err := codec.SafeB64Decode(text)
	if err != nil {
		return nil, newError(KindDecrypt, "", err)
	}
	return Decrypt(ct, priv)
}
