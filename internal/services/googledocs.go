package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"documerge/internal/models"
	"documerge/internal/processor"

	"go.uber.org/zap"
	docs "google.golang.org/api/docs/v1"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultGoogleExportBaseURL = "https://docs.google.com"
	docxMimeType               = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	maxExportSize              = 50 << 20
)

var documentIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
}

// GoogleDocsClient reads template documents. Without credentials it relies
// on the public export endpoint, which only works for documents shared with
// "anyone with the link".
type GoogleDocsClient struct {
	exportBaseURL string
	httpClient    *http.Client
	docs          *docs.Service
	drive         *drive.Service
	log           *zap.Logger
}

func NewGoogleDocsClient(ctx context.Context, exportBaseURL, credentialsPath string, timeout time.Duration, log *zap.Logger) (*GoogleDocsClient, error) {
	if exportBaseURL == "" {
		exportBaseURL = DefaultGoogleExportBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &GoogleDocsClient{
		exportBaseURL: strings.TrimRight(exportBaseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		log:           log.With(zap.String("service", "GoogleDocsClient")),
	}

	if credentialsPath != "" {
		opts := []option.ClientOption{option.WithCredentialsFile(credentialsPath)}

		docsSvc, err := docs.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docs client: %w", err)
		}
		driveSvc, err := drive.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Drive client: %w", err)
		}
		c.docs = docsSvc
		c.drive = driveSvc
		c.log.Info("google api credentials loaded")
	}
	return c, nil
}

type DocumentContent struct {
	DocumentID       string   `json:"document_id"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Placeholders     []string `json:"placeholders"`
	ExtractionMethod string   `json:"extraction_method"`
}

type DocumentValidation struct {
	IsValid      bool   `json:"is_valid"`
	IsAccessible bool   `json:"is_accessible"`
	DocumentID   string `json:"document_id,omitempty"`
	Title        string `json:"title,omitempty"`
	Message      string `json:"message"`
	AccessMethod string `json:"access_method,omitempty"`
}

type SharingInstructions struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
	Note  string   `json:"note"`
}

// ExtractDocumentID pulls the document id out of the usual Google Docs link
// shapes.
func ExtractDocumentID(docURL string) (string, error) {
	if err := models.ValidateGoogleDocURL(docURL); err != nil {
		return "", err
	}
	for _, p := range documentIDPatterns {
		if m := p.FindStringSubmatch(docURL); m != nil {
			return m[1], nil
		}
	}
	return "", models.NewValidationError("google_doc_url", "could not extract a document id from the link")
}

// GetPlaceholders returns the sorted distinct placeholders of the document.
// A document without placeholders yields an empty list.
func (c *GoogleDocsClient) GetPlaceholders(ctx context.Context, docURL string) ([]string, error) {
	content, err := c.GetDocumentContent(ctx, docURL)
	if err != nil {
		return nil, err
	}
	return content.Placeholders, nil
}

func (c *GoogleDocsClient) GetDocumentContent(ctx context.Context, docURL string) (*DocumentContent, error) {
	id, err := ExtractDocumentID(docURL)
	if err != nil {
		return nil, err
	}

	var content *DocumentContent
	if c.docs != nil {
		content, err = c.apiContent(ctx, id)
	} else {
		content, err = c.exportContent(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	content.Placeholders = processor.ExtractPlaceholders(content.Content)
	c.log.Debug("document content fetched",
		zap.String("document_id", id),
		zap.String("method", content.ExtractionMethod),
		zap.Int("placeholders", len(content.Placeholders)))
	return content, nil
}

// ValidateDocument never fails on an inaccessible document; the verdict is
// in the result. Cancellation and malformed links are still errors.
func (c *GoogleDocsClient) ValidateDocument(ctx context.Context, docURL string) (*DocumentValidation, error) {
	id, err := ExtractDocumentID(docURL)
	if err != nil {
		return nil, err
	}

	content, err := c.GetDocumentContent(ctx, docURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := "Document is not publicly accessible. Share it with \"Anyone with the link can view\"."
		if errors.Is(err, models.ErrNotFound) {
			msg = "Document was not found."
		} else if !errors.Is(err, models.ErrAccessDenied) {
			msg = err.Error()
		}
		return &DocumentValidation{IsValid: false, IsAccessible: false, DocumentID: id, Message: msg}, nil
	}

	return &DocumentValidation{
		IsValid:      true,
		IsAccessible: true,
		DocumentID:   id,
		Title:        content.Title,
		Message:      "Document is accessible and ready for content extraction",
		AccessMethod: content.ExtractionMethod,
	}, nil
}

// ExportDOCX downloads the document as a Word file for merging.
func (c *GoogleDocsClient) ExportDOCX(ctx context.Context, docURL string) ([]byte, error) {
	id, err := ExtractDocumentID(docURL)
	if err != nil {
		return nil, err
	}
	if c.drive != nil {
		resp, err := c.drive.Files.Export(id, docxMimeType).Context(ctx).Download()
		if err != nil {
			return nil, mapGoogleAPIError(err, id)
		}
		defer resp.Body.Close()
		return io.ReadAll(io.LimitReader(resp.Body, maxExportSize))
	}
	return c.export(ctx, id, "docx")
}

func (c *GoogleDocsClient) SharingInstructions() SharingInstructions {
	return SharingInstructions{
		Title: "How to share your Google Docs template",
		Steps: []string{
			"Open your Google Docs document",
			"Click the \"Share\" button in the top-right corner",
			"Click \"Change to anyone with the link\"",
			"Set permission to \"Viewer\"",
			"Copy the document URL and paste it here",
		},
		Note: "The document must be publicly accessible for content extraction to work without API credentials.",
	}
}

func (c *GoogleDocsClient) exportContent(ctx context.Context, id string) (*DocumentContent, error) {
	body, err := c.export(ctx, id, "txt")
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(body), "\ufeff")
	return &DocumentContent{
		DocumentID:       id,
		Title:            firstLine(text),
		Content:          text,
		ExtractionMethod: "txt_export",
	}, nil
}

func (c *GoogleDocsClient) export(ctx context.Context, id, format string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/document/d/%s/export?format=%s", c.exportBaseURL, id, format)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("google docs: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExternalServiceError{Service: "google_docs", Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("document %s: %w", id, models.ErrAccessDenied)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &models.ExternalServiceError{
			Service:    "google_docs",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("export as %s failed", format),
		}
	}

	// Private documents redirect to the sign-in page instead of failing.
	if isSignInPage(resp) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrAccessDenied)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExportSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExternalServiceError{Service: "google_docs", StatusCode: resp.StatusCode, Message: "read body: " + err.Error()}
	}
	return body, nil
}

func isSignInPage(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.URL != nil {
		u := resp.Request.URL
		if strings.HasPrefix(u.Host, "accounts.") || strings.Contains(u.Path, "ServiceLogin") {
			return true
		}
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

func (c *GoogleDocsClient) apiContent(ctx context.Context, id string) (*DocumentContent, error) {
	doc, err := c.docs.Documents.Get(id).Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleAPIError(err, id)
	}

	var b strings.Builder
	if doc.Body != nil {
		writeStructuralElements(&b, doc.Body.Content)
	}
	return &DocumentContent{
		DocumentID:       id,
		Title:            doc.Title,
		Content:          b.String(),
		ExtractionMethod: "docs_api",
	}, nil
}

func writeStructuralElements(b *strings.Builder, elements []*docs.StructuralElement) {
	for _, el := range elements {
		switch {
		case el.Paragraph != nil:
			for _, pe := range el.Paragraph.Elements {
				if pe.TextRun != nil {
					b.WriteString(pe.TextRun.Content)
				}
			}
		case el.Table != nil:
			for _, row := range el.Table.TableRows {
				for _, cell := range row.TableCells {
					writeStructuralElements(b, cell.Content)
				}
			}
		case el.SectionBreak != nil:
			b.WriteByte('\n')
		}
	}
}

func mapGoogleAPIError(err error, id string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("document %s: %w", id, models.ErrAccessDenied)
		case http.StatusNotFound:
			return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
		}
		return &models.ExternalServiceError{Service: "google_docs", StatusCode: gerr.Code, Message: gerr.Message}
	}
	return &models.ExternalServiceError{Service: "google_docs", Message: err.Error()}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 120 {
				return line[:120]
			}
			return line
		}
	}
	return ""
}
