package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidKey       = errors.New("invalid object key")
	ErrRetriesExhausted = errors.New("upload retries exhausted")
)

// Store writes an object and returns the public URL it is served from.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient storage error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PublicURL joins a base URL and an object key.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// LocalStore writes objects below a directory.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) *LocalStore {
	if baseURL == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		baseURL = "file://" + filepath.ToSlash(abs)
	}
	return &LocalStore{dir: dir, baseURL: baseURL}
}

func (s *LocalStore) Put(ctx context.Context, key string, body []byte, _ string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to write %s: %w", key, err)}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", &TransientError{Err: fmt.Errorf("failed to rename %s: %w", key, err)}
	}

	return PublicURL(s.baseURL, key), nil
}
