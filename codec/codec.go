// Package codec converts key material between PEM, base64 text, raw bytes
// and the big-endian integers split by package shamir.
package codec

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
)

const (
	// PrivateKeyType is the PEM block type of an unencrypted PKCS8 key.
	PrivateKeyType = "PRIVATE KEY"

	beginMarker = "-----BEGIN "
	endMarker   = "-----END "
)

var (
	// ErrNoPEMBody is returned when no BEGIN ... PRIVATE KEY body is present.
	ErrNoPEMBody = errors.New("no private key body found in PEM")
	// ErrEncryptedKey is returned for encrypted PEM input. Splitting needs plaintext key material.
	ErrEncryptedKey = errors.New("encrypted private key detected, decrypt it first")
	// ErrMalformedBase64 is returned when text is not valid base64 after normalisation.
	ErrMalformedBase64 = errors.New("malformed base64")
	// ErrLength is returned when an integer does not fit the requested byte length.
	ErrLength = errors.New("value does not fit the requested length")
)

// ExtractPrivateKeyBody returns the DER bytes inside the first
// "-----BEGIN ... PRIVATE KEY-----" block of pemData. Blank lines and
// surrounding whitespace are ignored and missing padding is tolerated.
func ExtractPrivateKeyBody(pemData []byte) ([]byte, error) {
	var (
		body   strings.Builder
		inBody bool
		found  bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(pemData))
	scanner.Buffer(make([]byte, 0, 4096), len(pemData)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if isHeader(line) && strings.Contains(line, "ENCRYPTED") {
			return nil, ErrEncryptedKey
		}
		switch {
		case strings.HasPrefix(line, beginMarker) && strings.Contains(line, PrivateKeyType):
			inBody = true
		case strings.HasPrefix(line, endMarker):
			if inBody {
				found = true
			}
			inBody = false
		case inBody && line != "" && !strings.Contains(line, ":"):
			body.WriteString(line)
		}
		if found {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan PEM: %w", err)
	}
	if body.Len() == 0 {
		return nil, ErrNoPEMBody
	}

	der, err := base64.StdEncoding.DecodeString(pad(body.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBase64, err)
	}
	return der, nil
}

// ArmorPrivateKey wraps DER key bytes in a PRIVATE KEY PEM block.
func ArmorPrivateKey(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PrivateKeyType, Bytes: der})
}

// SafeB64Encode returns padded standard base64 with no line breaks.
func SafeB64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// SafeB64Decode decodes standard or URL-safe base64, with or without
// padding. Embedded whitespace is dropped first.
func SafeB64Decode(text string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		case '-':
			return '+'
		case '_':
			return '/'
		}
		return r
	}, text)

	data, err := base64.StdEncoding.DecodeString(pad(strings.TrimRight(s, "=")))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBase64, err)
	}
	return data, nil
}

// isHeader matches boundary lines and RFC 1421 headers such as
// "Proc-Type: 4,ENCRYPTED", but never base64 body lines.
func isHeader(line string) bool {
	return strings.HasPrefix(line, "-----") || strings.Contains(line, ":")
}

func pad(s string) string {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return s
}

// BytesToInt reads data as an unsigned big-endian integer.
func BytesToInt(data []byte) *big.Int {
	return new(big.Int).SetBytes(data)
}

// IntToBytes writes v as exactly length big-endian bytes, restoring any
// leading zero bytes. It fails rather than truncate when v is too large.
func IntToBytes(v *big.Int, length int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or nil value", ErrLength)
	}
	if length < 0 || v.BitLen() > length*8 {
		return nil, fmt.Errorf("%w: %d bits into %d bytes", ErrLength, v.BitLen(), length)
	}
	return math.PaddedBigBytes(v, length), nil
}
