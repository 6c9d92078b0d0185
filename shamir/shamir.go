// Package shamir splits a byte secret into N shares over a prime field so
// that any K of them reconstruct it, and checks a SHA-256 integrity tag on
// every share before it is used.
package shamir

import (
	"fmt"
	"math/big"

	"github.com/izouxv/keyshard/codec"
	"github.com/izouxv/keyshard/field"
)

// Split takes a secret and splits it into n shares, with a threshold of k.
// The secret is read as a big-endian unsigned integer and must be below the
// field prime; it is never reduced modulo p.
func Split(secret []byte, n, k int, f *field.Field) ([]*Share, error) {
	if k < 1 || n < k {
		return nil, fmt.Errorf("%w: need 1 <= k <= n, got n=%d k=%d", ErrInvalidThreshold, n, k)
	}
	if !f.Contains(big.NewInt(int64(n))) {
		return nil, fmt.Errorf("%w: %d shares do not fit a %d-bit field", ErrInvalidThreshold, n, f.Bits())
	}

	s := codec.BytesToInt(secret)
	if !f.Contains(s) {
		return nil, fmt.Errorf("%w: %d-bit secret, %d-bit field", ErrSecretTooLarge, s.BitLen(), f.Bits())
	}

	// f(x) = s + a_1*x + ... + a_{k-1}*x^{k-1}
	coeffs := make([]*big.Int, k)
	coeffs[0] = s
	for i := 1; i < k; i++ {
		c, err := f.Random(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to draw coefficient: %w", err)
		}
		coeffs[i] = c
	}
	defer func() {
		for _, c := range coeffs {
			c.SetInt64(0)
		}
	}()

	shares := make([]*Share, n)
	for x := 1; x <= n; x++ {
		y := evaluate(coeffs, big.NewInt(int64(x)), f)
		shares[x-1] = &Share{Index: x, Value: y, Hash: Tag(x, y)}
	}
	return shares, nil
}

// evaluate runs Horner's method from the highest coefficient down.
func evaluate(coeffs []*big.Int, x *big.Int, f *field.Field) *big.Int {
	y := new(big.Int)
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = f.Add(f.Mul(y, x), coeffs[i])
	}
	return y
}

// Validate partitions shares into those usable for interpolation and those
// rejected. Rejections are *IntegrityError values and are not fatal; the
// first share seen for an index wins.
func Validate(shares []*Share, f *field.Field) (valid []*Share, rejected []error) {
	seen := make(map[int]struct{}, len(shares))
	for _, s := range shares {
		if s == nil {
			rejected = append(rejected, &IntegrityError{Err: ErrInvalidShare})
			continue
		}
		if s.Index < 1 || !f.Contains(big.NewInt(int64(s.Index))) || !f.Contains(s.Value) {
			rejected = append(rejected, &IntegrityError{Index: s.Index, Err: ErrInvalidShare})
			continue
		}
		if !s.Verify() {
			rejected = append(rejected, &IntegrityError{Index: s.Index, Err: ErrIntegrityMismatch})
			continue
		}
		if _, ok := seen[s.Index]; ok {
			rejected = append(rejected, &IntegrityError{Index: s.Index, Err: ErrDuplicateIndex})
			continue
		}
		seen[s.Index] = struct{}{}
		valid = append(valid, s)
	}
	return valid, rejected
}

// ReconstructInt recovers the secret integer from the first k valid shares,
// in the order given.
func ReconstructInt(shares []*Share, f *field.Field, k int) (*big.Int, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k=%d", ErrInvalidThreshold, k)
	}
	valid, _ := Validate(shares, f)
	if len(valid) < k {
		return nil, &InsufficientSharesError{Required: k, Found: len(valid)}
	}
	return interpolate(valid[:k], f)
}

// Reconstruct recovers the secret bytes. byteLen must be the length of the
// original secret so that leading zero bytes are restored.
func Reconstruct(shares []*Share, f *field.Field, byteLen, k int) ([]byte, error) {
	s, err := ReconstructInt(shares, f, k)
	if err != nil {
		return nil, err
	}
	defer s.SetInt64(0)
	return codec.IntToBytes(s, byteLen)
}

// interpolate evaluates the Lagrange polynomial through shares at x = 0.
// Indexes must be distinct, which Validate guarantees.
func interpolate(shares []*Share, f *field.Field) (*big.Int, error) {
	secret := new(big.Int)
	for i, si := range shares {
		xi := big.NewInt(int64(si.Index))
		num := big.NewInt(1)
		den := big.NewInt(1)
		for j, sj := range shares {
			if i == j {
				continue
			}
			xj := big.NewInt(int64(sj.Index))
			num = f.Mul(num, f.Neg(xj))
			den = f.Mul(den, f.Sub(xi, xj))
		}

		inv, err := f.Inverse(den)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d repeats modulo p", ErrDuplicateIndex, si.Index)
		}
		term := f.Mul(si.Value, f.Mul(num, inv))
		secret = f.Add(secret, term)
	}
	return secret, nil
}
