package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/api/v1/artifacts/")
	require.NoError(t, err)
	ctx := context.Background()

	art, err := store.Save(ctx, "generations/g1/Invoice_rec1.pdf", strings.NewReader("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/artifacts/generations/g1/Invoice_rec1.pdf", art.URL)
	assert.Equal(t, int64(8), art.Size)

	rc, err := store.Open(ctx, art.Name)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, store.Delete(ctx, art.Name))
	_, err = store.Open(ctx, art.Name)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.ErrorIs(t, store.Delete(ctx, art.Name), ErrArtifactNotFound)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "artifacts"), "/a")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644))

	art, err := store.Save(context.Background(), "../../x.pdf", strings.NewReader("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "x.pdf", art.Name)

	_, err = store.Open(context.Background(), "../secret.txt")
	assert.ErrorIs(t, err, ErrArtifactNotFound)

	_, err = store.Save(context.Background(), "", strings.NewReader("x"), "")
	assert.Error(t, err)
}

func TestGenerateObjectName(t *testing.T) {
	name := GenerateObjectName("g1", "../Invoice_rec1.pdf")
	assert.True(t, strings.HasPrefix(name, "generations/g1/"))
	assert.True(t, strings.HasSuffix(name, "_Invoice_rec1.pdf"))
}

func TestCleanupWorker_RunOnce(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "generations", "old.pdf")
	newFile := filepath.Join(dir, "new.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldFile), 0755))
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(newFile, []byte("new"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, past, past))

	w := NewCleanupWorker(dir, 24*time.Hour, time.Hour, zap.NewNop())
	assert.Equal(t, 1, w.RunOnce())
	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, newFile)

	w.Start(context.Background())
	w.Stop()

	missing := NewCleanupWorker(filepath.Join(dir, "nope"), time.Hour, time.Hour, zap.NewNop())
	assert.Zero(t, missing.RunOnce())
}
