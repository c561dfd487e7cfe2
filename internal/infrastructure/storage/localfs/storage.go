package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/docvault/internal/core/domain"
)

// Storage keeps source files under a date-partitioned layout:
// <base>/YYYY/MM/DD/<uuid><ext>. Writes go through a temp file and a
// rename, so a failed save never leaves a partial file behind.
type Storage struct {
	basePath string
	now      func() time.Time
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath, now: time.Now}, nil
}

// Checksum returns the hex SHA-256 of the content, the dedup key for
// uploads.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes the payload exactly once and returns its relative storage
// path. Empty payloads are invalid input.
func (s *Storage) Save(_ context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "save file", fmt.Errorf("empty payload"))
	}

	relPath := s.resolvePath(filename)
	absPath := filepath.Join(s.basePath, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create partition dir: %w", err)
	}

	if err := writeAtomic(absPath, data); err != nil {
		return "", err
	}
	return relPath, nil
}

// SaveDerived stores an artifact derived from a source file (extracted
// text, for example) next to it, swapping the extension.
func (s *Storage) SaveDerived(_ context.Context, basePath, ext string, data []byte) (string, error) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	relPath := strings.TrimSuffix(basePath, filepath.Ext(basePath)) + ext
	absPath := filepath.Join(s.basePath, relPath)
	if err := writeAtomic(absPath, data); err != nil {
		return "", err
	}
	return relPath, nil
}

func (s *Storage) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "open file", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Remove(_ context.Context, relPath string) error {
	err := os.Remove(filepath.Join(s.basePath, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// BasePath exposes the storage root for components that stat files
// directly, like the metadata extractor.
func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) resolvePath(filename string) string {
	now := s.now().UTC()
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	name := uuid.NewString() + ext
	return filepath.Join(now.Format("2006/01/02"), name)
}

func writeAtomic(absPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize file: %w", err)
	}
	return nil
}
