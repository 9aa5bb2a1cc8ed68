package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
)

// LocalStore is a filesystem-backed object store rooted at a base directory.
// It ships for local development and tests; production deployments swap in
// a bucket-backed implementation behind the same interface.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a filesystem object store rooted at baseDir
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Fetch opens the object at the given storage key
func (s *LocalStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "object %s not found in storage", key)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// ContentHash returns the SHA-256 hex digest of the object
func (s *LocalStore) ContentHash(ctx context.Context, key string) (string, error) {
	f, err := s.Fetch(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return fingerprint.Hash(f)
}

// Size returns the object size in bytes
func (s *LocalStore) Size(ctx context.Context, key string) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "object %s not found in storage", key)
		}
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return info.Size(), nil
}

// Put writes an object under the given storage key. Not part of the
// ObjectStore contract; used to seed files in development and tests.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object %s: %w", key, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

// resolve joins the key under the base directory, refusing keys that
// escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	path := filepath.Join(s.baseDir, key)
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.baseDir)+string(os.PathSeparator)) {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "illegal storage key %q", key)
	}
	return path, nil
}
