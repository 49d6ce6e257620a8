// Package dataset stores uploaded datasets and profiles their shape.
//
// The spool is a content-addressed directory: a dataset is written once
// under its sha-256 digest and never modified. Inline uploads land
// here; external object storage, when configured, bypasses the spool
// entirely. The profiler turns raw CSV or JSON bytes into the
// DatasetSummary the planner works from.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/hirameki/internal/fingerprint"
	"github.com/ashita-ai/hirameki/internal/model"
)

// ErrNotFound is returned when no dataset with the digest is spooled.
var ErrNotFound = errors.New("dataset: not found")

// Spool is a content-addressed dataset store on the local filesystem.
type Spool struct {
	dir string
}

// NewSpool opens (creating if needed) the spool directory.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset: create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Put stores data under its digest and returns the digest. Storing the
// same bytes twice is a no-op.
func (s *Spool) Put(data []byte) (string, error) {
	digest := fingerprint.Digest(data)
	path := s.path(digest)

	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}

	// Write-then-rename so a crashed upload never leaves a partial
	// file under a valid digest.
	tmp, err := os.CreateTemp(s.dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("dataset: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("dataset: write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("dataset: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("dataset: store dataset: %w", err)
	}
	return digest, nil
}

// Get returns the spooled bytes for digest, or ErrNotFound.
func (s *Spool) Get(digest string) ([]byte, error) {
	if !model.IsDatasetDigest(digest) {
		return nil, fmt.Errorf("dataset: malformed digest %q", digest)
	}
	data, err := os.ReadFile(s.path(digest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dataset: read dataset: %w", err)
	}
	return data, nil
}

// Has reports whether a dataset with the digest is spooled.
func (s *Spool) Has(digest string) bool {
	if !model.IsDatasetDigest(digest) {
		return false
	}
	_, err := os.Stat(s.path(digest))
	return err == nil
}

func (s *Spool) path(digest string) string {
	return filepath.Join(s.dir, digest)
}
