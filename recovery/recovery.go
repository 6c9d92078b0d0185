// Package recovery ties the pieces together: it splits the stored private
// key into shares, and rebuilds and reinstalls it from shares.
package recovery

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/izouxv/keyshard/codec"
	"github.com/izouxv/keyshard/field"
	"github.com/izouxv/keyshard/keypair"
	"github.com/izouxv/keyshard/shamir"
	"github.com/izouxv/keyshard/sharestore"
	"github.com/izouxv/keyshard/utils"
)

var (
	ErrKeyMismatch  = errors.New("recovered key does not match the stored public key")
	ErrForeignShare = errors.New("share belongs to a different split")
	ErrMixedSets    = errors.New("share media hold more than one split")
	ErrNoMedia      = errors.New("no share media configured")

	// ErrAlreadyRecovered is returned by Collector.Add once the secret has
	// been handed out.
	ErrAlreadyRecovered = errors.New("secret already recovered")
)

// Options are the split parameters.
type Options struct {
	Field     *field.Field
	Shares    int
	Threshold int
}

// Service splits and recovers the key held by a keypair.Store.
type Service struct {
	keys  *keypair.Store
	media *sharestore.Store
	opts  Options
	log   *slog.Logger
}

// NewService validates opts. media may be nil when shares are handled by
// the caller.
func NewService(keys *keypair.Store, media *sharestore.Store, opts Options, log *slog.Logger) (*Service, error) {
	if keys == nil {
		return nil, errors.New("key store cannot be nil")
	}
	if opts.Field == nil {
		return nil, errors.New("field cannot be nil")
	}
	if opts.Threshold < 1 || opts.Shares < opts.Threshold {
		return nil, fmt.Errorf("%w: n=%d k=%d", shamir.ErrInvalidThreshold, opts.Shares, opts.Threshold)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{keys: keys, media: media, opts: opts, log: log}, nil
}

// SplitKeyFile splits the private key file of the store and, when media is
// configured, writes one file per share.
func (s *Service) SplitKeyFile() (*shamir.ShareSet, error) {
	data, err := s.keys.LoadPrivatePEM()
	if err != nil {
		return nil, err
	}
	defer utils.Wipe(data)

	set, err := s.SplitKey(data)
	if err != nil {
		return nil, err
	}
	if s.media != nil {
		if _, err := s.media.Write(set); err != nil {
			return set, err
		}
	}
	return set, nil
}

// SplitKey splits the DER body of a PEM private key. Encrypted keys are
// refused, and the body must parse as an RSA key.
func (s *Service) SplitKey(pemData []byte) (*shamir.ShareSet, error) {
	der, err := codec.ExtractPrivateKeyBody(pemData)
	switch {
	case errors.Is(err, codec.ErrEncryptedKey):
		return nil, &keypair.Error{Kind: keypair.KindEncryptedKey, Err: err}
	case err != nil:
		return nil, &keypair.Error{Kind: keypair.KindCorruptPEM, Err: err}
	}
	defer utils.Wipe(der)

	if _, err := keypair.ParsePrivateKeyDER(der); err != nil {
		return nil, err
	}

	set, err := shamir.NewShareSet(der, s.opts.Shares, s.opts.Threshold, s.opts.Field)
	if err != nil {
		if errors.Is(err, shamir.ErrSecretTooLarge) {
			return nil, fmt.Errorf("%w: use a smaller key or a larger field than %s", err, s.opts.Field.Name())
		}
		return nil, err
	}
	s.log.Info("split private key", "set", set.ID, "shares", set.Total, "threshold", set.Threshold, "field", set.Field)
	return set, nil
}

// Header describes shares that arrive without metadata: the configured
// field and threshold, and no recorded length.
func (s *Service) Header() *shamir.ShareSet {
	return &shamir.ShareSet{
		Field:     s.opts.Field.Name(),
		Threshold: s.opts.Threshold,
		Total:     s.opts.Shares,
	}
}

// Recover rebuilds the private key from shares. A nil header means
// Header(). Shares failing their integrity tag are logged and skipped. When
// a public key is stored the recovered key must match it.
func (s *Service) Recover(header *shamir.ShareSet, shares []*shamir.Share) (*rsa.PrivateKey, error) {
	if header == nil {
		header = s.Header()
	}
	f, err := header.LookupField()
	if err != nil {
		return nil, err
	}

	valid, rejected := shamir.Validate(shares, f)
	for _, err := range rejected {
		s.log.Warn("rejected share", "set", header.ID, "err", err)
	}

	der, err := reconstruct(header, f, valid)
	if err != nil {
		return nil, err
	}
	return s.install(der)
}

// install turns recovered DER into a key and checks it against the stored
// public key.
func (s *Service) install(der []byte) (*rsa.PrivateKey, error) {
	armored := codec.ArmorPrivateKey(der)
	utils.Wipe(der)
	defer utils.Wipe(armored)

	priv, err := keypair.ParsePrivateKeyPEM(armored)
	if err != nil {
		return nil, fmt.Errorf("recovered bytes are not a private key: %w", err)
	}

	pub, err := s.keys.LoadPublic()
	switch {
	case keypair.IsKind(err, keypair.KindPublicKeyNotFound):
		s.log.Warn("no public key to check the recovered key against")
	case err != nil:
		return nil, err
	case !pub.Equal(&priv.PublicKey):
		return nil, ErrKeyMismatch
	}
	return priv, nil
}

// Restore recovers the key and writes it back to the store.
func (s *Service) Restore(header *shamir.ShareSet, shares []*shamir.Share) (*keypair.KeyPair, error) {
	if header == nil {
		header = s.Header()
	}
	priv, err := s.Recover(header, shares)
	if err != nil {
		return nil, err
	}
	kp, err := s.keys.SavePrivate(priv)
	if err != nil {
		return nil, err
	}
	s.log.Info("restored private key", "set", header.ID)
	return kp, nil
}

// RecoverFromMedia reads every share file and feeds a Collector until the
// key is rebuilt. Files written for a different split are refused.
func (s *Service) RecoverFromMedia() (*rsa.PrivateKey, error) {
	if s.media == nil {
		return nil, ErrNoMedia
	}
	entries, err := s.media.ReadAll()
	if err != nil {
		return nil, err
	}

	header := s.Header()
	for _, e := range entries {
		if e.Header == nil {
			continue
		}
		if header.ID == uuid.Nil {
			header = e.Header
		} else if e.Header.ID != header.ID {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedSets, header.ID, e.Header.ID)
		}
	}

	c, err := NewCollector(header, s.log)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		id := header.ID
		if e.Header != nil {
			id = e.Header.ID
		}
		secret, err := c.Add(id, e.Share)
		if err != nil {
			s.log.Warn("skipping share file", "path", e.Path, "err", err)
			continue
		}
		if secret != nil {
			s.log.Info("threshold reached", "set", header.ID, "path", e.Path)
			return s.install(secret)
		}
	}
	return nil, &shamir.InsufficientSharesError{Required: header.Threshold, Found: header.Threshold - c.Missing()}
}
