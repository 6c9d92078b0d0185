// Package sharestore writes and reads share files on removable media, one
// file per share, through an afero filesystem.
package sharestore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/izouxv/keyshard/shamir"
)

const (
	filePrefix = "shamir_split_key_"
	fileExt    = ".txt"

	createdPrefix = "# created: "
)

var (
	ErrExists      = errors.New("share file already exists")
	ErrEmptyFile   = errors.New("share file holds no share")
	ErrMissingSet  = errors.New("share set has no shares")
	ErrTooManyRows = errors.New("share file holds more than a header and a share")
)

// Entry is one share file read back from media.
type Entry struct {
	Path    string
	Header  *shamir.ShareSet // nil for hand-written files holding only a share
	Share   *shamir.Share
	Created time.Time
}

// Store reads and writes share files below a directory.
type Store struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
	now func() time.Time
}

// New returns a Store rooted at dir on fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, dir string, log *slog.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{fs: fs, dir: dir, log: log, now: time.Now}
}

// Dir returns the directory share files live in.
func (s *Store) Dir() string {
	return s.dir
}

// FileName is the name of the file holding share index.
func FileName(index int) string {
	return fmt.Sprintf("%s%d%s", filePrefix, index, fileExt)
}

// Write stores every share of set in its own file and returns the paths.
// Existing files are never overwritten.
func (s *Store) Write(set *shamir.ShareSet) ([]string, error) {
	if len(set.Shares) == 0 {
		return nil, ErrMissingSet
	}
	if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	paths := make([]string, 0, len(set.Shares))
	for _, share := range set.Shares {
		path, err := s.WriteShare(set, share)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	s.log.Info("wrote share files", "set", set.ID, "count", len(paths), "dir", s.dir)
	return paths, nil
}

// WriteShare stores a single share of set, for media handed out one at a time.
func (s *Store) WriteShare(set *shamir.ShareSet, share *shamir.Share) (string, error) {
	path := filepath.Join(s.dir, FileName(share.Index))
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return "", fmt.Errorf("failed to check file existence %s: %w", path, err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrExists, path)
	}

	header, err := json.Marshal(set.Header())
	if err != nil {
		return "", err
	}
	line, err := json.Marshal(share)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(line)
	buf.WriteByte('\n')
	buf.WriteString(createdPrefix + s.now().UTC().Format(time.RFC3339) + "\n")

	if err := afero.WriteFile(s.fs, path, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("failed to write share file %s: %w", path, err)
	}
	return path, nil
}

// ReadFile parses one share file. Blank lines and lines starting with '#'
// are ignored apart from the creation stamp. With two data lines the first
// is the set header; a single line is the share alone, in any form
// shamir.ParseShareText accepts.
func (s *Store) ReadFile(path string) (*Entry, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read share file %s: %w", path, err)
	}

	entry := &Entry{Path: path}
	var rows []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, createdPrefix):
			if ts, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, createdPrefix)); err == nil {
				entry.Created = ts
			}
		case strings.HasPrefix(line, "#"):
		default:
			rows = append(rows, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan share file %s: %w", path, err)
	}

	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	case 1:
	case 2:
		var header shamir.ShareSet
		if err := json.Unmarshal([]byte(rows[0]), &header); err != nil {
			return nil, fmt.Errorf("bad header in %s: %w", path, err)
		}
		entry.Header = &header
		rows = rows[1:]
	default:
		return nil, fmt.Errorf("%w: %s", ErrTooManyRows, path)
	}

	share, err := shamir.ParseShareText(rows[0])
	if err != nil {
		return nil, fmt.Errorf("bad share in %s: %w", path, err)
	}
	entry.Share = share
	return entry, nil
}

// ReadAll loads every share file in the directory, ordered by share index.
// Unreadable files are logged and skipped so one damaged medium does not
// hide the others.
func (s *Store) ReadAll() ([]*Entry, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, filePrefix+"*"+fileExt))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if _, err := s.fs.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("share directory %s: %w", s.dir, err)
		}
	}

	entries := make([]*Entry, 0, len(matches))
	for _, path := range matches {
		entry, err := s.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping share file", "path", path, "err", err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Share.Index < entries[j].Share.Index
	})
	return entries, nil
}
