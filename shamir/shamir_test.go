package shamir

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izouxv/keyshard/field"
)

var demoSecret = []byte("this_is_a_32_byte_secret_key____")

func mustField(t *testing.T, name string) *field.Field {
	t.Helper()
	f, err := field.Lookup(name)
	require.NoError(t, err)
	return f
}

func pick(shares []*Share, indexes ...int) []*Share {
	out := make([]*Share, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, shares[i-1])
	}
	return out
}

func TestSplitAndReconstruct(t *testing.T) {
	f := mustField(t, field.Secp256k1)

	t.Run("3-of-5 scheme", func(t *testing.T) {
		shares, err := Split(demoSecret, 5, 3, f)
		require.NoError(t, err)
		require.Len(t, shares, 5)

		for i, s := range shares {
			assert.Equal(t, i+1, s.Index)
			assert.True(t, s.Verify())
		}

		a, err := Reconstruct(pick(shares, 1, 2, 3), f, 32, 3)
		require.NoError(t, err)
		b, err := Reconstruct(pick(shares, 2, 4, 5), f, 32, 3)
		require.NoError(t, err)
		assert.Equal(t, demoSecret, a)
		assert.Equal(t, a, b, "any two k-subsets must agree")

		c, err := Reconstruct(pick(shares, 5, 1, 3), f, 32, 3)
		require.NoError(t, err)
		assert.Equal(t, demoSecret, c, "order must not matter")

		all, err := Reconstruct(shares, f, 32, 3)
		require.NoError(t, err)
		assert.Equal(t, demoSecret, all)
	})

	t.Run("every k-subset", func(t *testing.T) {
		n, k := 6, 3
		shares, err := Split(demoSecret, n, k, f)
		require.NoError(t, err)
		for a := 1; a <= n; a++ {
			for b := a + 1; b <= n; b++ {
				for c := b + 1; c <= n; c++ {
					got, err := Reconstruct(pick(shares, a, b, c), f, 32, k)
					require.NoError(t, err)
					assert.Equal(t, demoSecret, got, "subset %d,%d,%d", a, b, c)
				}
			}
		}
	})

	t.Run("threshold of one", func(t *testing.T) {
		shares, err := Split(demoSecret, 3, 1, f)
		require.NoError(t, err)
		for _, s := range shares {
			got, err := Reconstruct([]*Share{s}, f, 32, 1)
			require.NoError(t, err)
			assert.Equal(t, demoSecret, got)
		}
	})
}

func TestRoundTripRandomParameters(t *testing.T) {
	fields := []string{field.Secp256k1, "p384", field.Deployment5500}
	for _, name := range fields {
		f := mustField(t, name)
		t.Run(name, func(t *testing.T) {
			for k := 1; k <= 4; k++ {
				for n := k; n <= k+2; n++ {
					secret := make([]byte, f.ByteLen()-1)
					_, err := rand.Read(secret)
					require.NoError(t, err)

					shares, err := Split(secret, n, k, f)
					require.NoError(t, err)

					got, err := Reconstruct(shares[n-k:], f, len(secret), k)
					require.NoError(t, err)
					assert.Equal(t, secret, got, "n=%d k=%d", n, k)
				}
			}
		})
	}
}

func TestSplitInvalidParameters(t *testing.T) {
	f := mustField(t, field.Secp256k1)

	_, err := Split(demoSecret, 3, 0, f)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = Split(demoSecret, 2, 3, f)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	small := field.MustNew(big.NewInt(7))
	_, err = Split([]byte{1}, 7, 2, small)
	assert.ErrorIs(t, err, ErrInvalidThreshold, "indexes must stay below p")
}

func TestSplitSecretTooLarge(t *testing.T) {
	f := mustField(t, field.Secp256k1)

	tooLong := make([]byte, 33)
	tooLong[0] = 1
	_, err := Split(tooLong, 5, 3, f)
	assert.ErrorIs(t, err, ErrSecretTooLarge)

	pBytes := f.Prime().Bytes()
	_, err = Split(pBytes, 5, 3, f)
	assert.ErrorIs(t, err, ErrSecretTooLarge, "s == p must not wrap to zero")

	below := new(big.Int).Sub(f.Prime(), big.NewInt(1)).Bytes()
	shares, err := Split(below, 5, 3, f)
	require.NoError(t, err)
	got, err := Reconstruct(shares, f, len(below), 3)
	require.NoError(t, err)
	assert.Equal(t, below, got)
}

func TestLeadingZeroBytes(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	secret := []byte("\x00\x00abcdefghijklmnopqrstuvwxyz0123")
	require.Len(t, secret, 32)

	shares, err := Split(secret, 4, 2, f)
	require.NoError(t, err)

	got, err := Reconstruct(pick(shares, 3, 4), f, len(secret), 2)
	require.NoError(t, err)
	assert.Equal(t, secret, got)

	zero := make([]byte, 16)
	shares, err = Split(zero, 3, 2, f)
	require.NoError(t, err)
	got, err = Reconstruct(shares, f, 16, 2)
	require.NoError(t, err)
	assert.Equal(t, zero, got)
}

func TestReconstructWrongLength(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	shares, err := Split(demoSecret, 3, 2, f)
	require.NoError(t, err)

	_, err = Reconstruct(shares, f, 8, 2)
	assert.Error(t, err, "too short a length must fail rather than truncate")

	got, err := Reconstruct(shares, f, 40, 2)
	require.NoError(t, err)
	assert.Len(t, got, 40)
	assert.Equal(t, demoSecret, got[8:])
}

func TestInsufficientShares(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	shares, err := Split(demoSecret, 5, 3, f)
	require.NoError(t, err)

	for _, subset := range [][]int{{1}, {2, 5}, {4, 3}, {}} {
		t.Run(fmt.Sprint(subset), func(t *testing.T) {
			_, err := Reconstruct(pick(shares, subset...), f, 32, 3)
			require.ErrorIs(t, err, ErrInsufficientShares)

			var ie *InsufficientSharesError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, 3, ie.Required)
			assert.Equal(t, len(subset), ie.Found)
		})
	}

	_, err = Reconstruct(shares, f, 32, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestTamperedShareIsIgnored(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	shares, err := Split(demoSecret, 5, 3, f)
	require.NoError(t, err)

	tampered := *shares[0]
	tampered.Value = f.Add(tampered.Value, big.NewInt(1))
	candidates := []*Share{&tampered, shares[1], shares[2], shares[3]}

	valid, rejected := Validate(candidates, f)
	require.Len(t, valid, 3)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], ErrIntegrityMismatch)
	var ie *IntegrityError
	require.ErrorAs(t, rejected[0], &ie)
	assert.Equal(t, 1, ie.Index)

	got, err := Reconstruct(candidates, f, 32, 3)
	require.NoError(t, err)
	assert.Equal(t, demoSecret, got)

	_, err = Reconstruct(candidates[:3], f, 32, 3)
	assert.ErrorIs(t, err, ErrInsufficientShares, "a tampered share must not count toward k")
}

func TestValidateRejections(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	shares, err := Split(demoSecret, 3, 2, f)
	require.NoError(t, err)

	outside := &Share{Index: 1, Value: f.Prime()}
	outside.Hash = Tag(outside.Index, outside.Value)
	zeroIndex := &Share{Index: 0, Value: big.NewInt(5)}
	zeroIndex.Hash = Tag(0, zeroIndex.Value)
	dup := *shares[1]

	valid, rejected := Validate([]*Share{nil, outside, zeroIndex, shares[1], &dup, shares[2]}, f)
	assert.Len(t, valid, 2)
	require.Len(t, rejected, 4)
	assert.ErrorIs(t, rejected[0], ErrInvalidShare)
	assert.ErrorIs(t, rejected[1], ErrInvalidShare)
	assert.ErrorIs(t, rejected[2], ErrInvalidShare)
	assert.ErrorIs(t, rejected[3], ErrDuplicateIndex)
}

func TestReconstructDoesNotMutateShares(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	shares, err := Split(demoSecret, 3, 2, f)
	require.NoError(t, err)

	before := make([]string, len(shares))
	for i, s := range shares {
		before[i] = s.String()
	}
	for i := 0; i < 3; i++ {
		_, err := Reconstruct(shares, f, 32, 2)
		require.NoError(t, err)
	}
	for i, s := range shares {
		assert.Equal(t, before[i], s.String())
		assert.True(t, s.Verify())
	}
}

func TestSplitIsRandomized(t *testing.T) {
	f := mustField(t, field.Secp256k1)
	a, err := Split(demoSecret, 3, 2, f)
	require.NoError(t, err)
	b, err := Split(demoSecret, 3, 2, f)
	require.NoError(t, err)
	assert.NotEqual(t, 0, a[0].Value.Cmp(b[0].Value))
}
