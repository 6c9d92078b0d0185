// Package field implements arithmetic in a prime field GF(p).
//
// All results are canonically reduced into [0, p). Callers must keep
// operands in range; use Contains to check values that come from outside.
package field

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var (
	// ErrNotPrime is returned when a modulus fails the primality test.
	ErrNotPrime = errors.New("modulus is not prime")
	// ErrZeroInverse is returned when the inverse of zero is requested.
	ErrZeroInverse = errors.New("zero has no inverse")
	// ErrUnknownField is returned by Lookup for a name that is not registered.
	ErrUnknownField = errors.New("unknown field")
)

var two = big.NewInt(2)

// Field is GF(p) for a fixed prime p. A Field is immutable and safe for
// concurrent use.
type Field struct {
	name string
	p    *big.Int
}

// New returns the field for prime p after a probabilistic primality test.
func New(p *big.Int) (*Field, error) {
	if p == nil || p.Cmp(two) <= 0 {
		return nil, fmt.Errorf("%w: modulus must be greater than 2", ErrNotPrime)
	}
	if !p.ProbablyPrime(20) {
		return nil, ErrNotPrime
	}
	q := new(big.Int).Set(p)
	return &Field{name: customPrefix + q.Text(16), p: q}, nil
}

// MustNew is like New but panics on error.
func MustNew(p *big.Int) *Field {
	f, err := New(p)
	if err != nil {
		panic(err)
	}
	return f
}

// Generate creates a field over a fresh random prime of the given bit size.
func Generate(bits int) (*Field, error) {
	if bits < 8 {
		return nil, fmt.Errorf("prime size must be at least 8 bits, got %d", bits)
	}
	p, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate prime: %w", err)
	}
	return &Field{name: customPrefix + p.Text(16), p: p}, nil
}

// Name is the registry name, or "custom:<hex>" for unregistered primes.
func (f *Field) Name() string { return f.name }

// Prime returns a copy of p.
func (f *Field) Prime() *big.Int { return new(big.Int).Set(f.p) }

// Bits is the bit length of p.
func (f *Field) Bits() int { return f.p.BitLen() }

// ByteLen is the number of bytes needed to hold any element.
func (f *Field) ByteLen() int { return (f.p.BitLen() + 7) / 8 }

// Contains reports whether 0 <= a < p.
func (f *Field) Contains(a *big.Int) bool {
	return a != nil && a.Sign() >= 0 && a.Cmp(f.p) < 0
}

// Reduce maps any integer into [0, p).
func (f *Field) Reduce(a *big.Int) *big.Int {
	// big.Int.Mod is Euclidean, so negative inputs land in range too.
	return new(big.Int).Mod(a, f.p)
}

func (f *Field) Add(a, b *big.Int) *big.Int {
	res := new(big.Int).Add(a, b)
	return res.Mod(res, f.p)
}

func (f *Field) Sub(a, b *big.Int) *big.Int {
	res := new(big.Int).Sub(a, b)
	return res.Mod(res, f.p)
}

func (f *Field) Mul(a, b *big.Int) *big.Int {
	res := new(big.Int).Mul(a, b)
	return res.Mod(res, f.p)
}

func (f *Field) Neg(a *big.Int) *big.Int {
	res := new(big.Int).Neg(a)
	return res.Mod(res, f.p)
}

// Inverse returns a^(p-2) mod p, the multiplicative inverse by Fermat's
// little theorem.
func (f *Field) Inverse(a *big.Int) (*big.Int, error) {
	r := f.Reduce(a)
	if r.Sign() == 0 {
		return nil, ErrZeroInverse
	}
	e := new(big.Int).Sub(f.p, two)
	return r.Exp(r, e, f.p), nil
}

// Random draws a uniform element from [0, p). A nil reader means crypto/rand.
func (f *Field) Random(r io.Reader) (*big.Int, error) {
	if r == nil {
		r = rand.Reader
	}
	return rand.Int(r, f.p)
}
