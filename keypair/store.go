package keypair

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	// DefaultPrivateKeyFile and DefaultPublicKeyFile are the file names
	// inside the store directory.
	DefaultPrivateKeyFile = "key"
	DefaultPublicKeyFile  = "key.pub"

	lockFile = ".lock"

	dirPerms        = 0700
	privatePerms    = 0600
	publicFilePerms = 0644
)

// Store keeps one key pair at fixed paths inside a directory. Writes are
// exclusive across goroutines (mutex) and processes (lock file), and a
// failed write leaves the previous files in place.
type Store struct {
	mu       sync.RWMutex
	dir      string
	privPath string
	pubPath  string
	bits     int
	log      *slog.Logger
	lock     *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithFileNames overrides the private and public key file names.
func WithFileNames(private, public string) Option {
	return func(s *Store) {
		s.privPath = filepath.Join(s.dir, private)
		s.pubPath = filepath.Join(s.dir, public)
	}
}

// WithKeyBits sets the modulus size used by Generate.
func WithKeyBits(bits int) Option {
	return func(s *Store) { s.bits = bits }
}

// WithLogger sets the logger. Key material is never logged.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore opens (creating if needed) the key directory.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, newError(KindIO, dir, errors.New("key directory cannot be empty"))
	}
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, newError(KindIO, dir, err)
	}

	s := &Store{
		dir:      dir,
		privPath: filepath.Join(dir, DefaultPrivateKeyFile),
		pubPath:  filepath.Join(dir, DefaultPublicKeyFile),
		bits:     DefaultBits,
		lock:     flock.New(filepath.Join(dir, lockFile)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Paths returns the private and public key file paths.
func (s *Store) Paths() (private, public string) {
	return s.privPath, s.pubPath
}

// Generate creates a new key pair and persists it, replacing any existing
// pair without asking. Callers must guard live keys themselves.
func (s *Store) Generate() (*KeyPair, error) {
	kp, err := Generate(s.bits)
	if err != nil {
		return nil, err
	}
	if err := s.save(kp); err != nil {
		return nil, err
	}
	s.log.Info("generated key pair", "private", s.privPath, "public", s.pubPath, "bits", s.bits)
	return kp, nil
}

// SavePrivate persists priv and its public half, for example after
// recovering it from shares.
func (s *Store) SavePrivate(priv *rsa.PrivateKey) (*KeyPair, error) {
	kp, err := FromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := s.save(kp); err != nil {
		return nil, err
	}
	s.log.Info("stored key pair", "private", s.privPath, "public", s.pubPath)
	return kp, nil
}

// LoadPublic reads and parses the public key file.
func (s *Store) LoadPublic() (*rsa.PublicKey, error) {
	data, err := s.read(s.pubPath, KindPublicKeyNotFound)
	if err != nil {
		return nil, err
	}
	pub, err := ParsePublicKeyPEM(data)
	if err != nil {
		return nil, withPath(err, s.pubPath)
	}
	return pub, nil
}

// LoadPrivatePEM returns the raw private key file.
func (s *Store) LoadPrivatePEM() ([]byte, error) {
	return s.read(s.privPath, KindPrivateKeyNotFound)
}

// LoadPrivate reads and parses the private key file.
func (s *Store) LoadPrivate() (*rsa.PrivateKey, error) {
	data, err := s.LoadPrivatePEM()
	if err != nil {
		return nil, err
	}
	priv, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, withPath(err, s.privPath)
	}
	return priv, nil
}

func (s *Store) read(path string, notFound Kind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lock.RLock(); err != nil {
		return nil, newError(KindIO, s.lock.Path(), err)
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, newError(notFound, path, err)
	case err != nil:
		return nil, newError(KindIO, path, err)
	}
	return data, nil
}

// save writes both files to temporaries first and renames them into place.
// If the second rename fails the first is rolled back.
func (s *Store) save(kp *KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return newError(KindIO, s.lock.Path(), err)
	}
	defer s.lock.Unlock()

	privTmp, err := writeTemp(s.dir, ".key-*", kp.PrivatePEM, privatePerms)
	if err != nil {
		return newError(KindIO, s.privPath, err)
	}
	defer os.Remove(privTmp)

	pubTmp, err := writeTemp(s.dir, ".pub-*", kp.PublicPEM, publicFilePerms)
	if err != nil {
		return newError(KindIO, s.pubPath, err)
	}
	defer os.Remove(pubTmp)

	previous, readErr := os.ReadFile(s.privPath)
	hadPrevious := readErr == nil

	if err := os.Rename(privTmp, s.privPath); err != nil {
		return newError(KindIO, s.privPath, err)
	}
	if err := os.Rename(pubTmp, s.pubPath); err != nil {
		if rbErr := s.rollback(previous, hadPrevious); rbErr != nil {
			s.log.Error("failed to roll back private key", "path", s.privPath, "err", rbErr)
		}
		return newError(KindIO, s.pubPath, err)
	}
	return nil
}

func (s *Store) rollback(previous []byte, hadPrevious bool) error {
	if !hadPrevious {
		return os.Remove(s.privPath)
	}
	tmp, err := writeTemp(s.dir, ".key-*", previous, privatePerms)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.privPath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeTemp(dir, pattern string, data []byte, perm os.FileMode) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	return name, nil
}

func withPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		e.Path = path
	}
	return err
}
