package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"documerge/internal/logger"
	"documerge/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxLoggedBody = 10000
	redactedValue = "[REDACTED]"
)

type activityLogStore interface {
	CreateLog(ctx context.Context, entry *models.ActivityLog) error
	ListLogs(ctx context.Context, filter models.ActivityLogFilter) ([]models.ActivityLog, int64, error)
	Stats(ctx context.Context) (*models.ActivityLogStats, error)
}

type ActivityLogService struct {
	repo    activityLogStore
	log     *zap.Logger
	pending sync.WaitGroup
}

func NewActivityLogService(repo activityLogStore, log *zap.Logger) *ActivityLogService {
	return &ActivityLogService{
		repo: repo,
		log:  log.With(zap.String("service", "ActivityLogService")),
	}
}

// LogRequest persists one request in the background.
func (s *ActivityLogService) LogRequest(c *gin.Context, statusCode int, responseTime time.Duration) {
	clientIP := c.ClientIP()
	if clientIP == "" {
		clientIP = c.Request.RemoteAddr
	}

	queryParams := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}
	queryJSON, _ := json.Marshal(queryParams)

	var requestBody string
	if body, exists := c.Get("request_body"); exists {
		if bodyStr, ok := body.(string); ok {
			requestBody = bodyStr
		}
	}

	entry := &models.ActivityLog{
		ID:           uuid.New().String(),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		TemplateID:   ExtractTemplateID(c.Request.URL.Path),
		UserAgent:    c.Request.UserAgent(),
		IPAddress:    clientIP,
		RequestBody:  requestBody,
		QueryParams:  string(queryJSON),
		StatusCode:   statusCode,
		ResponseTime: responseTime.Milliseconds(),
		CreatedAt:    time.Now(),
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.CreateLog(ctx, entry); err != nil {
			s.log.Warn("failed to save activity log", zap.String("path", entry.Path), zap.Error(err))
		}
	}()
}

// Flush waits for background writes to finish.
func (s *ActivityLogService) Flush() {
	s.pending.Wait()
}

func (s *ActivityLogService) ListLogs(ctx context.Context, filter models.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	return s.repo.ListLogs(ctx, filter)
}

func (s *ActivityLogService) Stats(ctx context.Context) (*models.ActivityLogStats, error) {
	return s.repo.Stats(ctx)
}

// Middleware records every request. Bodies of writes are captured with
// credentials redacted; bodies past 10KB are recorded by size only.
func (s *ActivityLogService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if captureBody(c.Request.Method) && c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
				if len(bodyBytes) > 0 {
					c.Set("request_body", summarizeBody(bodyBytes))
				}
			}
		}

		c.Next()

		s.LogRequest(c, c.Writer.Status(), time.Since(start))
	}
}

func captureBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func summarizeBody(body []byte) string {
	if len(body) > maxLoggedBody {
		return fmt.Sprintf("[Large body: %d bytes]", len(body))
	}
	return RedactJSON(body)
}

// RedactJSON replaces the values of sensitive keys anywhere in a JSON
// document. Input that is not valid JSON is returned unchanged.
func RedactJSON(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return string(body)
	}
	out, err := json.Marshal(redactValue(doc))
	if err != nil {
		return string(body)
	}
	return string(out)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if logger.IsSensitiveKey(k) {
				val[k] = redactedValue
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

// ExtractTemplateID reads the id from paths like /api/v1/templates/{id}/...
func ExtractTemplateID(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "templates" && i+1 < len(parts) && parts[i+1] != "" && parts[i+1] != "validate" {
			return parts[i+1]
		}
	}
	return ""
}
