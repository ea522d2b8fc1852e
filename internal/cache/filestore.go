package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
)

const storeFileExt = ".cbor"

// persistedEntry is the on-disk record; the key rides along so sweeps can
// reason about files without re-deriving names.
type persistedEntry struct {
	Key   Key   `cbor:"key"`
	Entry Entry `cbor:"entry"`
}

// FileStore keeps one CBOR-encoded entry per file under a directory.
type FileStore struct {
	dir    string
	maxAge time.Duration
}

// NewFileStore creates the directory if needed. maxAge governs which loaded
// or swept entries count as expired.
func NewFileStore(dir string, maxAge time.Duration) (*FileStore, error) {
	if maxAge <= 0 {
		maxAge = DefaultConfig().MaxAge
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create store dir: %w", err)
	}
	return &FileStore{dir: dir, maxAge: maxAge}, nil
}

func (s *FileStore) path(key Key) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+storeFileExt)
}

func (s *FileStore) Save(key Key, entry *Entry) error {
	rec := persistedEntry{Key: key, Entry: *entry}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	return nil
}

func (s *FileStore) Load(key Key) (*Entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read entry: %w", err)
	}
	var rec persistedEntry
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	if rec.Key != key {
		return nil, false, nil
	}
	if time.Since(rec.Entry.DeployedAt) > s.maxAge {
		_ = os.Remove(s.path(key))
		return nil, false, nil
	}
	entry := rec.Entry
	return &entry, true, nil
}

// DeleteExpired sweeps the directory, removing entries past maxAge.
// Undecodable files are removed too; they can never be served.
func (s *FileStore) DeleteExpired() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("cache: read store dir: %w", err)
	}
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != storeFileExt {
			continue
		}
		path := filepath.Join(s.dir, dirEntry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cache sweep read failed")
			continue
		}
		var rec persistedEntry
		if err := cbor.Unmarshal(data, &rec); err != nil {
			_ = os.Remove(path)
			continue
		}
		if time.Since(rec.Entry.DeployedAt) > s.maxAge {
			_ = os.Remove(path)
		}
	}
	return nil
}
