package utils

import (
	"crypto/rand"
	"fmt"
)

// RandomBytes returns size bytes from crypto/rand.
func RandomBytes(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("random size must be positive, but got %d", size)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Wipe zeroes a buffer that held secret material.
func Wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
