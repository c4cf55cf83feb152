package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes artifacts below a directory. Download URLs point at the
// API's artifact route.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStore) Dir() string {
	return l.dir
}

func (l *LocalStore) Save(ctx context.Context, name string, r io.Reader, _ string) (*StoredArtifact, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := filepath.Join(l.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	out, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}
	defer out.Close()

	size, err := io.Copy(out, r)
	if err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	return &StoredArtifact{Name: name, URL: l.baseURL + "/" + name, Size: size}, nil
}

func (l *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, ErrArtifactNotFound
	}
	f, err := os.Open(filepath.Join(l.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return f, err
}

func (l *LocalStore) Delete(_ context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(l.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrArtifactNotFound
	}
	return err
}
