package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/izouxv/keyshard/keystore"
)

type harness struct {
	keyDir   string
	shareDir string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		keyDir:   filepath.Join(dir, "key"),
		shareDir: filepath.Join(dir, "shares"),
	}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.Reader = strings.NewReader(stdin)
	full := append([]string{"keyshard", "--key-dir", h.keyDir, "--share-dir", h.shareDir}, args...)
	err := app.Run(full)
	return out.String(), err
}

func TestKeygenSplitRecover(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(h.keyDir, "key.pub"))

	_, err = h.run(t, "", "keygen")
	assert.ErrorContains(t, err, "--force")

	out, err = h.run(t, "", "split", "--print")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[0], "5 shares, 3 needed")

	files, err := filepath.Glob(filepath.Join(h.shareDir, "shamir_split_key_*.txt"))
	require.NoError(t, err)
	assert.Len(t, files, 5)

	original, err := os.ReadFile(filepath.Join(h.keyDir, "key"))
	require.NoError(t, err)

	out, err = h.run(t, "", "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "recovered 1024-bit key")

	require.NoError(t, os.Remove(filepath.Join(h.keyDir, "key")))
	out, err = h.run(t, "", "recover", "--restore",
		"--share", lines[2], "--share", lines[4], "--share", lines[5])
	require.NoError(t, err)
	assert.Contains(t, out, "restored")

	restored, err := os.ReadFile(filepath.Join(h.keyDir, "key"))
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	_, err = h.run(t, "", "recover", "--share", lines[1], "--share", lines[2])
	assert.Error(t, err)
}

func TestEncryptDecrypt(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "keygen")
	require.NoError(t, err)

	text, err := h.run(t, "attack at dawn", "encrypt")
	require.NoError(t, err)

	plain, err := h.run(t, text, "decrypt")
	require.NoError(t, err)
	assert.Equal(t, "attack at dawn", plain)

	_, err = h.run(t, strings.Repeat("x", 63), "encrypt")
	assert.ErrorContains(t, err, "message too long")
}

func TestDerive(t *testing.T) {
	h := newHarness(t)
	args := []string{"derive", "--passphrase", "password", "--salt", "73616c74", "--iterations", "1"}

	a, err := h.run(t, "", args...)
	require.NoError(t, err)
	b, err := h.run(t, "", args...)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "salt: 73616c74\n")
	assert.Contains(t, a, "key: 120fb6cffcf8b32c43e7225256c4f837a86548c92ccc35480805987cb70be17b")
}

func TestSealUnseal(t *testing.T) {
	h := newHarness(t)
	sealed, err := h.run(t, "1-12345-abcdef", "seal", "--passphrase", "pw", "--iterations", "10")
	require.NoError(t, err)
	var env keystore.Envelope
	require.NoError(t, json.Unmarshal([]byte(sealed), &env))
	assert.Equal(t, keystore.KDFPBKDF2, env.Crypto.KDF)
	assert.Equal(t, 10, env.Crypto.KDFParams.C)

	plain, err := h.run(t, sealed, "unseal", "--passphrase", "pw")
	require.NoError(t, err)
	assert.Equal(t, "1-12345-abcdef", plain)

	_, err = h.run(t, sealed, "unseal", "--passphrase", "wrong")
	assert.Error(t, err)
}
