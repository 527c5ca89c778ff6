package docstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Store is what the delivery pipeline needs from deliverable storage:
// persist a rendered document under a key, check for it, and mint a
// customer-facing download link.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// NewFromEnv returns the S3-backed store when DOCSTORE_ENABLED is true and
// the local filesystem store otherwise.
func NewFromEnv() (Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.IsEnabled() {
		log.Infof("[DocStore] S3 disabled, storing deliverables under %s", cfg.LocalDir)
		return NewLocalStore(cfg.LocalDir), nil
	}
	return NewClient(cfg)
}

// LocalStore keeps deliverables on the local filesystem. Development and
// test fallback, not a durable store.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a filesystem-backed store rooted at dir
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

// Put writes the document under dir/key, creating directories as needed
func (s *LocalStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Infof("[DocStore] stored deliverable locally: %s", path)
	return nil
}

// Exists reports whether a deliverable is present under the key
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DownloadURL returns a file URL. Local links do not expire.
func (s *LocalStore) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	abs, err := filepath.Abs(s.path(key))
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}
