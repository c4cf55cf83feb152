package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"documerge/internal/models"

	"github.com/starwalkn/gotenberg-go-client/v8"
	"github.com/starwalkn/gotenberg-go-client/v8/document"
	"go.uber.org/zap"
)

const defaultConvertTimeout = 30 * time.Second

type PDFService struct {
	client  *gotenberg.Client
	timeout time.Duration
	retries int
	log     *zap.Logger
}

func NewPDFService(gotenbergURL string, timeout time.Duration, retries int, log *zap.Logger) (*PDFService, error) {
	if timeout <= 0 {
		timeout = defaultConvertTimeout
	}
	if retries <= 0 {
		retries = 1
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	client, err := gotenberg.NewClient(gotenbergURL, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gotenberg client: %w", err)
	}

	return &PDFService{
		client:  client,
		timeout: timeout,
		retries: retries,
		log:     log.With(zap.String("service", "PDFService")),
	}, nil
}

// ConvertDOCX renders a DOCX document to PDF through Gotenberg's LibreOffice
// route. The request is rebuilt for every attempt.
func (s *PDFService) ConvertDOCX(ctx context.Context, docx []byte, filename string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= s.retries; attempt++ {
		pdf, err := s.convertOnce(ctx, docx, filename)
		if err == nil {
			return pdf, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("pdf conversion attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.retries),
			zap.Error(err))

		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("failed to convert document after %d attempts: %w", s.retries, lastErr)
}

func (s *PDFService) convertOnce(ctx context.Context, docx []byte, filename string) ([]byte, error) {
	convertCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc, err := document.FromReader(filename, bytes.NewReader(docx))
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "gotenberg", Message: "create document from reader: " + err.Error()}
	}

	req := gotenberg.NewLibreOfficeRequest(doc)

	resp, err := s.client.Send(convertCtx, req)
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "gotenberg", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if convertCtx.Err() != nil {
			return nil, convertCtx.Err()
		}
		return nil, &models.ExternalServiceError{Service: "gotenberg", StatusCode: resp.StatusCode, Message: "read converted document: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ExternalServiceError{
			Service:    "gotenberg",
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 200),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
