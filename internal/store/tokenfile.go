package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenRecord is one persisted bearer token.
type TokenRecord struct {
	Token     string    `yaml:"token"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// TokenFile persists provider tokens as a YAML map keyed by provider ID, so a
// restart does not force every provider to log in again.
type TokenFile struct {
	path string
	mu   sync.Mutex
}

// NewTokenFile returns a TokenFile backed by path.
func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// Path returns the backing file path.
func (f *TokenFile) Path() string { return f.path }

// Load reads all records. A missing file yields an empty map.
func (f *TokenFile) Load() (map[string]TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *TokenFile) load() (map[string]TokenRecord, error) {
	records := make(map[string]TokenRecord)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tokenfile: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("tokenfile: parse %s: %w", f.path, err)
	}
	if records == nil {
		records = make(map[string]TokenRecord)
	}
	return records, nil
}

// Put stores rec under id, rewriting the file atomically.
func (f *TokenFile) Put(id string, rec TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	records[id] = rec

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("tokenfile: encode: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("tokenfile: mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tokens-*.yaml")
	if err != nil {
		return fmt.Errorf("tokenfile: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("tokenfile: rename: %w", err)
	}
	return nil
}
