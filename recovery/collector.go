package recovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/izouxv/keyshard/field"
	"github.com/izouxv/keyshard/shamir"
)

// Collector gathers shares of one split as operators present them and
// reconstructs the secret once the threshold is met. It is safe for
// concurrent use.
type Collector struct {
	header *shamir.ShareSet
	field  *field.Field
	log    *slog.Logger

	mu        sync.Mutex
	collected map[int]*shamir.Share
	order     []*shamir.Share
	done      bool
}

// NewCollector creates a collector for the split described by header.
// header.Shares is ignored.
func NewCollector(header *shamir.ShareSet, log *slog.Logger) (*Collector, error) {
	if header == nil {
		return nil, errors.New("share set header cannot be nil")
	}
	if header.Threshold < 1 {
		return nil, fmt.Errorf("%w: threshold %d", shamir.ErrInvalidThreshold, header.Threshold)
	}
	f, err := header.LookupField()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Collector{
		header:    header.Header(),
		field:     f,
		log:       log.With("set", header.ID),
		collected: make(map[int]*shamir.Share),
	}, nil
}

// Add submits a share. setID is the id recorded next to the share, or
// uuid.Nil for a share typed without one. The call that completes the
// threshold returns the secret; earlier calls return nil with no error and
// later ones ErrAlreadyRecovered. The returned slice belongs to the caller.
// Shares that fail validation are rejected with a *shamir.IntegrityError
// and do not count.
func (c *Collector) Add(setID uuid.UUID, share *shamir.Share) ([]byte, error) {
	if setID != uuid.Nil && setID != c.header.ID {
		return nil, fmt.Errorf("%w: share belongs to set %s", ErrForeignShare, setID)
	}

	_, rejected := shamir.Validate([]*shamir.Share{share}, c.field)
	if len(rejected) > 0 {
		c.log.Warn("rejected share", "err", rejected[0])
		return nil, rejected[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil, ErrAlreadyRecovered
	}
	if _, ok := c.collected[share.Index]; ok {
		return nil, &shamir.IntegrityError{Index: share.Index, Err: shamir.ErrDuplicateIndex}
	}
	c.collected[share.Index] = share
	c.order = append(c.order, share)
	c.log.Debug("accepted share", "index", share.Index, "have", len(c.order), "need", c.header.Threshold)

	if len(c.order) < c.header.Threshold {
		return nil, nil
	}

	secret, err := reconstruct(c.header, c.field, c.order)
	if err != nil {
		return nil, err
	}
	c.done = true
	c.order = nil
	c.collected = make(map[int]*shamir.Share)
	return secret, nil
}

// Missing reports how many more valid shares are needed.
func (c *Collector) Missing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 0
	}
	return c.header.Threshold - len(c.order)
}

// reconstruct uses the recorded secret length, or the minimal encoding when
// none was recorded. DER never starts with a zero byte, so the minimal
// encoding is exact for key material.
func reconstruct(header *shamir.ShareSet, f *field.Field, shares []*shamir.Share) ([]byte, error) {
	if header.SecretLength > 0 {
		return shamir.Reconstruct(shares, f, header.SecretLength, header.Threshold)
	}
	s, err := shamir.ReconstructInt(shares, f, header.Threshold)
	if err != nil {
		return nil, err
	}
	defer s.SetInt64(0)
	return s.Bytes(), nil
}
