package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"camdvr/internal/logging"
)

// BlobStore keeps frame payloads as flat files under baseDir, one
// subdirectory per camera. Locations recorded in the index are relative
// to baseDir so the tree can be relocated.
type BlobStore struct {
	baseDir string
}

func NewBlobStore(baseDir string) (*BlobStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// FrameFilename derives the on-disk name from a capture timestamp:
// two-digit year, zero-padded date/time fields, underscore, zero-padded
// millisecond, .bmp extension. Example: 250825143015_042.bmp.
func FrameFilename(ms int64) string {
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%02d%02d%02d%02d%02d%02d_%03d.bmp",
		t.Year()%100, int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(), ms%1000)
}

// Write stores payload under camNo/name and returns the relative
// location. Two frames rounding to the same millisecond name get a
// numeric disambiguator before the extension.
func (s *BlobStore) Write(camNo, name string, payload []byte) (string, error) {
	dir := filepath.Join(s.baseDir, camNo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create camera dir: %w", err)
	}

	target := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, target)); os.IsNotExist(err) {
			break
		}
		if i > 100 {
			return "", fmt.Errorf("no free name for %s after 100 attempts", name)
		}
		target = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}

	if err := os.WriteFile(filepath.Join(dir, target), payload, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return camNo + "/" + target, nil
}

// Read loads the payload for a previously recorded location.
func (s *BlobStore) Read(location string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(location)))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", location, err)
	}
	return data, nil
}

// FindByName looks a bare filename up across camera subdirectories.
// Serves the download endpoint, which identifies files by name only.
func (s *BlobStore) FindByName(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	dirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("scan blob dir: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		candidate := filepath.Join(s.baseDir, d.Name(), name)
		if _, err := os.Stat(candidate); err == nil {
			return d.Name() + "/" + name, nil
		}
	}
	logging.Debugf("[blob] %s not found in any camera dir", name)
	return "", os.ErrNotExist
}
