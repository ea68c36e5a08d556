package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

const metaSuffix = ".meta.json"

// ErrArtifactNotFound is returned for missing or expired artifacts
var ErrArtifactNotFound = errors.New("artifact not found")

// artifactMeta is written next to each artifact
type artifactMeta struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// FileSystemStore keeps export artifacts in a local directory
type FileSystemStore struct {
	rootDir string
	baseURL string
	now     func() time.Time
}

// NewFileSystemStore creates the root directory if needed. Download URLs are
// baseURL joined with the artifact key, or file:// paths when baseURL is empty.
func NewFileSystemStore(rootDir, baseURL string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &FileSystemStore{
		rootDir: rootDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// Put implements audit.ArtifactStore
func (s *FileSystemStore) Put(ctx context.Context, key, contentType string, data []byte, expiresAt time.Time) (string, error) {
	target, err := s.path(key)
	if err != nil {
		return "", err
	}

	if err := writeAtomic(target, data); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	meta, err := json.Marshal(artifactMeta{ContentType: contentType, Size: int64(len(data)), ExpiresAt: expiresAt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal export metadata: %w", err)
	}
	if err := writeAtomic(target+metaSuffix, meta); err != nil {
		return "", fmt.Errorf("failed to write export metadata: %w", err)
	}

	if s.baseURL == "" {
		return "file://" + target, nil
	}
	return s.baseURL + "/" + key, nil
}

// Open returns an unexpired artifact and its content type
func (s *FileSystemStore) Open(key string) (io.ReadCloser, string, error) {
	target, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	meta, err := readMeta(target + metaSuffix)
	if err != nil {
		return nil, "", err
	}
	if !s.now().Before(meta.ExpiresAt) {
		return nil, "", ErrArtifactNotFound
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrArtifactNotFound
		}
		return nil, "", fmt.Errorf("failed to open export file: %w", err)
	}
	return f, meta.ContentType, nil
}

// PurgeExpired removes artifacts whose expiry is not after now and returns how many were removed
func (s *FileSystemStore) PurgeExpired(now time.Time) (int, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read export directory: %w", err)
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		metaPath := filepath.Join(s.rootDir, entry.Name())
		meta, err := readMeta(metaPath)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if now.Before(meta.ExpiresAt) {
			continue
		}
		artifact := strings.TrimSuffix(metaPath, metaSuffix)
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(metaPath); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// path resolves key inside the root directory
func (s *FileSystemStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.rootDir, key), nil
}

func readMeta(path string) (*artifactMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read export metadata: %w", err)
	}
	var meta artifactMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export metadata: %w", err)
	}
	return &meta, nil
}

// writeAtomic writes through a temporary file so readers never see partial data
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ audit.ArtifactStore = (*FileSystemStore)(nil)
