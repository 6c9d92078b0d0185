package keypair

import (
	"errors"
	"fmt"
)

// Kind classifies key manager failures so callers can branch without
// matching on error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindPublicKeyNotFound
	KindPrivateKeyNotFound
	KindIO
	KindCorruptPEM
	KindEncryptedKey
	KindUnsupportedKey
	KindMessageTooLong
	KindEncrypt
	KindDecrypt
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindPublicKeyNotFound:  "public key not found",
	KindPrivateKeyNotFound: "private key not found",
	KindIO:                 "i/o failure",
	KindCorruptPEM:         "corrupt PEM",
	KindEncryptedKey:       "encrypted key",
	KindUnsupportedKey:     "unsupported key",
	KindMessageTooLong:     "message too long",
	KindEncrypt:            "encryption failed",
	KindDecrypt:            "decryption failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by this package.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is, or wraps, an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func newError(k Kind, path string, err error) *Error {
	return &Error{Kind: k, Path: path, Err: err}
}
