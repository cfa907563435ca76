package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// metaSuffix is appended to the object filename for the metadata side file.
const metaSuffix = ".meta"

// LocalBackend keeps uploads on the local filesystem for development and
// tests. Metadata travels in a JSON side file next to each object, and
// Download serves bytes directly so the processor works without network
// storage.
type LocalBackend struct {
	dir     string
	baseURL string
}

// NewLocal creates the base directory if needed and returns the backend.
func NewLocal(dir, baseURL string) (*LocalBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalBackend{dir: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Store writes content under key and a JSON metadata side file next to it.
func (l *LocalBackend) Store(ctx context.Context, key string, content []byte, metadata map[string]string) (*UploadResult, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("write object %s: %w", key, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	if info.Size() != int64(len(content)) {
		return nil, fmt.Errorf("object %s: wrote %d bytes, expected %d", key, info.Size(), len(content))
	}
	if err := l.writeMetadata(path, metadata); err != nil {
		// A missing side file degrades metadata lookups, not the upload.
		slog.Warn("write metadata side file failed", "key", key, "error", err)
	}
	return &UploadResult{
		Locator:  l.urlFor(key),
		Key:      key,
		Metadata: metadata,
		Size:     int64(len(content)),
	}, nil
}

// Delete removes the object and its side file. Deleting an absent key is a
// success, which keeps delete retries and compensation paths idempotent.
func (l *LocalBackend) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove metadata %s: %w", key, err)
	}
	return nil
}

// AccessURL returns a static URL under the configured base. There is no
// expiry for local files; the ttl is accepted for interface compatibility.
func (l *LocalBackend) AccessURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("stat object %s: %w", key, err)
	}
	return l.urlFor(key), nil
}

// Download hands back the raw object bytes.
func (l *LocalBackend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

// Metadata reads the JSON side file written by Store. A missing side file
// yields an empty map rather than an error.
func (l *LocalBackend) Metadata(key string) (map[string]string, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read metadata %s: %w", key, err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", key, err)
	}
	return meta, nil
}

// HealthCheck verifies the base directory is still there and is a directory.
func (l *LocalBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return fmt.Errorf("stat storage dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage path %s is not a directory", l.dir)
	}
	return nil
}

// resolve turns a key into an absolute path under the base directory,
// rejecting anything that would escape it.
func (l *LocalBackend) resolve(key string) (string, error) {
	cleaned := strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if cleaned == "" {
		return "", fmt.Errorf("empty key: %w", ErrInvalidKey)
	}
	path := filepath.Join(l.dir, filepath.FromSlash(cleaned))
	if path != l.dir && !strings.HasPrefix(path, l.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage dir: %w", key, ErrInvalidKey)
	}
	return path, nil
}

func (l *LocalBackend) writeMetadata(path string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(path+metaSuffix, data, 0o644)
}

func (l *LocalBackend) urlFor(key string) string {
	return l.baseURL + "/" + strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
}
