package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"documerge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDocURL = "https://docs.google.com/document/d/doc123/edit"

func newDocsServer(t *testing.T, handler http.HandlerFunc) *GoogleDocsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewGoogleDocsClient(context.Background(), srv.URL, "", time.Second, zap.NewNop())
	require.NoError(t, err)
	return client
}

func TestExtractDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"edit link", "https://docs.google.com/document/d/1AbC-_x9/edit", "1AbC-_x9", false},
		{"view link", "https://docs.google.com/document/d/abc123/view?usp=sharing", "abc123", false},
		{"open link", "https://docs.google.com/open?id=xyz789", "xyz789", false},
		{"not google", "https://example.com/document/d/abc", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractDocumentID(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoogleDocsClient_GetDocumentContent(t *testing.T) {
	client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/document/d/doc123/export", r.URL.Path)
		assert.Equal(t, "txt", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("\ufeffInvoice\nDear {{name}},\nTotal: [[total]] {{name}}\n"))
	})

	content, err := client.GetDocumentContent(context.Background(), testDocURL)
	require.NoError(t, err)
	assert.Equal(t, "doc123", content.DocumentID)
	assert.Equal(t, "Invoice", content.Title)
	assert.Equal(t, "txt_export", content.ExtractionMethod)
	assert.Equal(t, []string{"[[total]]", "{{name}}"}, content.Placeholders)
}

func TestGoogleDocsClient_GetPlaceholders_None(t *testing.T) {
	client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Just prose."))
	})

	placeholders, err := client.GetPlaceholders(context.Background(), testDocURL)
	require.NoError(t, err)
	assert.NotNil(t, placeholders)
	assert.Empty(t, placeholders)
}

func TestGoogleDocsClient_ExportErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		ctype  string
		target error
	}{
		{"forbidden", http.StatusForbidden, "text/plain", models.ErrAccessDenied},
		{"missing", http.StatusNotFound, "text/plain", models.ErrNotFound},
		{"server error", http.StatusInternalServerError, "text/plain", models.ErrExternalService},
		{"sign-in page", http.StatusOK, "text/html; charset=utf-8", models.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.ctype)
				w.WriteHeader(tt.status)
				w.Write([]byte("<html>Sign in</html>"))
			})

			_, err := client.GetPlaceholders(context.Background(), testDocURL)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestGoogleDocsClient_TruncatedExport(t *testing.T) {
	client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "4096")
		w.Write([]byte("Dear {{name}}"))
	})

	_, err := client.GetPlaceholders(context.Background(), testDocURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExternalService)
	assert.Contains(t, err.Error(), "read body")
}

func TestGoogleDocsClient_ValidateDocument(t *testing.T) {
	t.Run("accessible", func(t *testing.T) {
		client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("Offer letter\n{{name}}"))
		})

		res, err := client.ValidateDocument(context.Background(), testDocURL)
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.True(t, res.IsAccessible)
		assert.Equal(t, "Offer letter", res.Title)
		assert.Equal(t, "txt_export", res.AccessMethod)
	})

	t.Run("private", func(t *testing.T) {
		client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		res, err := client.ValidateDocument(context.Background(), testDocURL)
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.False(t, res.IsAccessible)
		assert.Equal(t, "doc123", res.DocumentID)
		assert.Contains(t, res.Message, "Anyone with the link")
	})

	t.Run("bad link", func(t *testing.T) {
		client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		_, err := client.ValidateDocument(context.Background(), "not a url")
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestGoogleDocsClient_ExportDOCX(t *testing.T) {
	payload := []byte("PK\x03\x04docx")
	client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docx", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", docxMimeType)
		w.Write(payload)
	})

	got, err := client.ExportDOCX(context.Background(), testDocURL)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGoogleDocsClient_SharingInstructions(t *testing.T) {
	client := newDocsServer(t, func(w http.ResponseWriter, r *http.Request) {})

	ins := client.SharingInstructions()
	assert.NotEmpty(t, ins.Title)
	assert.Len(t, ins.Steps, 5)
	assert.Contains(t, ins.Note, "publicly accessible")
}
