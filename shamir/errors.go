package shamir

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidThreshold is returned when k < 1, n < k, or n does not fit the field.
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrSecretTooLarge is returned when the secret, read as an integer, is not below p.
	ErrSecretTooLarge = errors.New("secret too large for field")
	// ErrInsufficientShares is matched by *InsufficientSharesError.
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrIntegrityMismatch means a share's hash does not match its index and value.
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	// ErrInvalidShare is returned for shares that are malformed or outside the field.
	ErrInvalidShare = errors.New("invalid share")
	// ErrDuplicateIndex means a second share with an index already seen.
	ErrDuplicateIndex = errors.New("duplicate share index")
)

// InsufficientSharesError is fatal for a reconstruction attempt: no partial
// secret is ever returned.
type InsufficientSharesError struct {
	Required int
	Found    int
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("not enough valid shares: required %d, found %d", e.Required, e.Found)
}

func (e *InsufficientSharesError) Is(target error) bool {
	return target == ErrInsufficientShares
}

// IntegrityError reports one rejected share. It is not fatal on its own.
type IntegrityError struct {
	Index int
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("share %d rejected: %v", e.Index, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
