package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrArtifactNotFound = errors.New("artifact not found")

type StoredArtifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// ArtifactStore keeps rendered PDFs and hands out download URLs.
type ArtifactStore interface {
	Save(ctx context.Context, name string, r io.Reader, contentType string) (*StoredArtifact, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// GenerateObjectName namespaces an artifact under its generation id.
func GenerateObjectName(generationID, filename string) string {
	return fmt.Sprintf("generations/%s/%d_%s", generationID, time.Now().Unix(), path.Base(filename))
}

// cleanName rejects names that would escape the store root.
func cleanName(name string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(name))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return cleaned, nil
}
