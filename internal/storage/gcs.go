package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts in a bucket and returns V4 signed URLs.
type GCSStore struct {
	client       *storage.Client
	bucketName   string
	signedExpiry time.Duration
	log          *zap.Logger
}

func NewGCSStore(ctx context.Context, bucketName, credentialsPath string, signedExpiry time.Duration, log *zap.Logger) (*GCSStore, error) {
	var client *storage.Client
	var err error

	if credentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client:       client,
		bucketName:   bucketName,
		signedExpiry: signedExpiry,
		log:          log.With(zap.String("service", "gcs"), zap.String("bucket", bucketName)),
	}, nil
}

func (g *GCSStore) Save(ctx context.Context, name string, r io.Reader, contentType string) (*StoredArtifact, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	writer := g.client.Bucket(g.bucketName).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	size, err := io.Copy(writer, r)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to copy data to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	url, err := g.SignedURL(name)
	if err != nil {
		g.log.Warn("signed url unavailable, using public url", zap.String("object", name), zap.Error(err))
		url = fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucketName, name)
	}
	return &StoredArtifact{Name: name, URL: url, Size: size}, nil
}

func (g *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := g.client.Bucket(g.bucketName).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrArtifactNotFound
	}
	return rc, err
}

func (g *GCSStore) Delete(ctx context.Context, name string) error {
	err := g.client.Bucket(g.bucketName).Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrArtifactNotFound
	}
	return err
}

func (g *GCSStore) SignedURL(name string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(g.signedExpiry),
	}
	return g.client.Bucket(g.bucketName).SignedURL(name, opts)
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}
