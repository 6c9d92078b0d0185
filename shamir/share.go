package shamir

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/izouxv/keyshard/field"
	"github.com/izouxv/keyshard/utils"
)

// Share is one point (Index, Value) on the splitting polynomial plus the
// hex SHA-256 of "Index:Value". Its JSON form is
// {"index": 1, "share": 123..., "hash": "ab..."}.
type Share struct {
	Index int      `json:"index"`
	Value *big.Int `json:"share"`
	Hash  string   `json:"hash"`
}

// Tag computes the integrity tag of a share. The pre-image is the decimal
// index, a colon, and the decimal value, with no whitespace.
func Tag(index int, value *big.Int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(index) + ":" + value.String()))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether Hash matches the index and value.
func (s *Share) Verify() bool {
	if s == nil || s.Value == nil {
		return false
	}
	want := Tag(s.Index, s.Value)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(s.Hash))) == 1
}

// String renders the operator text form "index-value-hash".
func (s *Share) String() string {
	if s == nil {
		return "<nil>"
	}
	// (*big.Int).String renders a nil value as "<nil>".
	return fmt.Sprintf("%d-%s-%s", s.Index, s.Value.String(), s.Hash)
}

// ParseShareText accepts a JSON share object, "index-value-hash", or a bare
// "index-value" pair. A bare pair carries no tag, so one is derived: such
// input is trusted as typed.
func ParseShareText(text string) (*Share, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		var s Share
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShare, err)
		}
		if s.Value == nil {
			return nil, fmt.Errorf("%w: missing value", ErrInvalidShare)
		}
		return &s, nil
	}

	parts := strings.Split(text, "-")
	if len(parts) != 2 && len(parts) != 3 {
		return nil, fmt.Errorf("%w: want index-value[-hash], got %d fields", ErrInvalidShare, len(parts))
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad index: %v", ErrInvalidShare, err)
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(parts[1]), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: bad value", ErrInvalidShare)
	}

	s := &Share{Index: index, Value: value}
	if len(parts) == 3 {
		s.Hash = strings.TrimSpace(parts[2])
	} else {
		s.Hash = Tag(index, value)
	}
	return s, nil
}

// MarshalShare encodes a share as length-prefixed index, value and tag bytes.
func MarshalShare(share *Share) ([]byte, error) {
	if share == nil || share.Value == nil {
		return nil, fmt.Errorf("%w: nil share", ErrInvalidShare)
	}
	tag, err := hex.DecodeString(share.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: hash is not hex: %v", ErrInvalidShare, err)
	}

	buf := bytes.NewBuffer(nil)
	if err := utils.WriteVarInt(buf, int64(share.Index)); err != nil {
		return nil, err
	}
	if err := utils.WriteVarBytes(buf, share.Value.Bytes()); err != nil {
		return nil, err
	}
	if err := utils.WriteVarBytes(buf, tag); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalShare decodes the output of MarshalShare. The tag is not checked.
func UnmarshalShare(data []byte) (*Share, error) {
	buf := bytes.NewBuffer(data)

	index, _, err := utils.ReadVarInt(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	valueBytes, _, err := utils.ReadVarBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}
	tag, _, err := utils.ReadVarBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read hash: %w", err)
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidShare, buf.Len())
	}

	return &Share{
		Index: int(index),
		Value: new(big.Int).SetBytes(valueBytes),
		Hash:  hex.EncodeToString(tag),
	}, nil
}

// ShareSet is the output of one split. ID gives every split its own
// namespace, so shares of different splits are never combined. SecretLength
// is the byte length needed to restore the secret exactly.
type ShareSet struct {
	ID           uuid.UUID `json:"id"`
	Field        string    `json:"field"`
	Threshold    int       `json:"threshold"`
	Total        int       `json:"total"`
	SecretLength int       `json:"secret_length"`
	Shares       []*Share  `json:"shares,omitempty"`
}

// NewShareSet splits secret and records what reconstruction needs.
func NewShareSet(secret []byte, n, k int, f *field.Field) (*ShareSet, error) {
	shares, err := Split(secret, n, k, f)
	if err != nil {
		return nil, err
	}
	return &ShareSet{
		ID:           uuid.New(),
		Field:        f.Name(),
		Threshold:    k,
		Total:        n,
		SecretLength: len(secret),
		Shares:       shares,
	}, nil
}

// Header returns a copy of the set metadata without any shares.
func (ss *ShareSet) Header() *ShareSet {
	h := *ss
	h.Shares = nil
	return &h
}

// LookupField resolves the field the set was split under.
func (ss *ShareSet) LookupField() (*field.Field, error) {
	return field.Lookup(ss.Field)
}

// Reconstruct recovers the secret from shares, or from the set's own shares
// when none are given.
func (ss *ShareSet) Reconstruct(shares ...*Share) ([]byte, error) {
	if len(shares) == 0 {
		shares = ss.Shares
	}
	f, err := ss.LookupField()
	if err != nil {
		return nil, err
	}
	return Reconstruct(shares, f, ss.SecretLength, ss.Threshold)
}
