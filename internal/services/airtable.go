package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"documerge/internal/models"
	"documerge/internal/processor"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAirtableBaseURL = "https://api.airtable.com/v0"
	defaultMaxPages        = 100
)

// AirtableClient reads one table of an Airtable base over the REST API.
type AirtableClient struct {
	baseURL    string
	httpClient *http.Client
	maxPages   int
	cache      FieldCache
	group      singleflight.Group
	log        *zap.Logger
}

type AirtableOption func(*AirtableClient)

func WithFieldCache(cache FieldCache) AirtableOption {
	return func(c *AirtableClient) {
		if cache != nil {
			c.cache = cache
		}
	}
}

func WithMaxPages(n int) AirtableOption {
	return func(c *AirtableClient) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

func WithHTTPTimeout(d time.Duration) AirtableOption {
	return func(c *AirtableClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func NewAirtableClient(baseURL string, log *zap.Logger, opts ...AirtableOption) *AirtableClient {
	if baseURL == "" {
		baseURL = DefaultAirtableBaseURL
	}
	c := &AirtableClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxPages:   defaultMaxPages,
		cache:      NoopFieldCache(),
		log:        log.With(zap.String("service", "AirtableClient")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConnectionResult is what the wizard shows after a connection test.
type ConnectionResult struct {
	Success   bool              `json:"success"`
	TableInfo *models.TableInfo `json:"table_info,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type airtableRecord struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type airtableListResponse struct {
	Records *[]airtableRecord `json:"records"`
	Offset  string            `json:"offset"`
}

// Airtable reports errors either as {"error":"NOT_FOUND"} or as
// {"error":{"type":"...","message":"..."}}.
type airtableErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

// TestConnection samples one record. A failed check is reported both in the
// result and as the returned error.
func (c *AirtableClient) TestConnection(ctx context.Context, cfg *models.AirtableConfig) (*ConnectionResult, error) {
	if err := cfg.Validate(); err != nil {
		return &ConnectionResult{Success: false, Error: err.Error()}, err
	}

	page, err := c.fetchPage(ctx, cfg, url.Values{"maxRecords": {"1"}})
	if err != nil {
		return &ConnectionResult{Success: false, Error: err.Error()}, err
	}

	info := &models.TableInfo{Name: cfg.TableName, RecordCount: len(*page.Records)}
	if len(*page.Records) > 0 {
		info.FieldCount = len((*page.Records)[0].Fields)
	}

	c.log.Info("airtable connection ok",
		zap.String("base_id", cfg.BaseID),
		zap.String("table", cfg.TableName))

	return &ConnectionResult{Success: true, TableInfo: info}, nil
}

// ListFields infers the table's fields from its first record, sorted by
// name. An empty table has no fields.
//
// Concurrent calls for the same table share one fetch. The fetch is
// detached from the first caller's cancellation, and each caller stops
// waiting when its own context ends.
func (c *AirtableClient) ListFields(ctx context.Context, cfg *models.AirtableConfig) ([]models.ExternalField, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := fieldCacheKey(cfg)
	if fields, ok := c.cache.Get(ctx, key); ok {
		return fields, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
		defer cancel()

		page, err := c.fetchPage(fctx, cfg, url.Values{"maxRecords": {"1"}})
		if err != nil {
			return nil, err
		}
		fields := []models.ExternalField{}
		if len(*page.Records) > 0 {
			fields = fieldsFromSample((*page.Records)[0].Fields, cfg.TableName)
		}
		c.cache.Set(fctx, key, fields)
		return fields, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	fields := res.Val.([]models.ExternalField)
	out := make([]models.ExternalField, len(fields))
	copy(out, fields)
	return out, nil
}

func fieldsFromSample(sample map[string]any, table string) []models.ExternalField {
	fields := make([]models.ExternalField, 0, len(sample))
	for name, value := range sample {
		fields = append(fields, models.ExternalField{
			Name:        name,
			Type:        processor.ClassifyValue(value),
			Description: fmt.Sprintf("field from %s", table),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// ListRecords follows the offset cursor until Airtable stops returning one.
func (c *AirtableClient) ListRecords(ctx context.Context, cfg *models.AirtableConfig) ([]models.Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	records := []models.Record{}
	offset := ""
	for pages := 0; ; pages++ {
		if pages >= c.maxPages {
			return nil, &models.ExternalServiceError{
				Service: "airtable",
				Message: fmt.Sprintf("pagination did not finish after %d pages", c.maxPages),
			}
		}

		params := url.Values{}
		if offset != "" {
			params.Set("offset", offset)
		}
		page, err := c.fetchPage(ctx, cfg, params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch records: %w", err)
		}
		for _, r := range *page.Records {
			records = append(records, toRecord(r))
		}
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	c.log.Debug("airtable records listed",
		zap.String("base_id", cfg.BaseID),
		zap.String("table", cfg.TableName),
		zap.Int("count", len(records)))
	return records, nil
}

func (c *AirtableClient) GetRecord(ctx context.Context, cfg *models.AirtableConfig, id string) (*models.Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, models.NewValidationError("record_id", "record id is required")
	}

	body, err := c.get(ctx, cfg, c.tableURL(cfg)+"/"+url.PathEscape(id))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("record %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}

	var r airtableRecord
	if err := decodeJSON(body, &r); err != nil || r.ID == "" {
		return nil, &models.ExternalServiceError{Service: "airtable", Message: "malformed record response"}
	}
	record := toRecord(r)
	return &record, nil
}

func (c *AirtableClient) fetchPage(ctx context.Context, cfg *models.AirtableConfig, params url.Values) (*airtableListResponse, error) {
	reqURL := c.tableURL(cfg)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	body, err := c.get(ctx, cfg, reqURL)
	if err != nil {
		return nil, err
	}

	var page airtableListResponse
	if err := decodeJSON(body, &page); err != nil {
		return nil, &models.ExternalServiceError{Service: "airtable", Message: "malformed response: " + err.Error()}
	}
	if page.Records == nil {
		return nil, &models.ExternalServiceError{Service: "airtable", Message: "response has no records array"}
	}
	return &page, nil
}

func (c *AirtableClient) get(ctx context.Context, cfg *models.AirtableConfig, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("airtable: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExternalServiceError{Service: "airtable", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ExternalServiceError{Service: "airtable", StatusCode: resp.StatusCode, Message: "read body: " + err.Error()}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	msg := airtableErrorMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("Airtable API error: %d", resp.StatusCode)
	}
	c.log.Warn("airtable request failed",
		zap.Int("status", resp.StatusCode),
		zap.String("base_id", cfg.BaseID),
		zap.String("message", msg))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("airtable: %s: %w", msg, models.ErrAccessDenied)
	case http.StatusNotFound:
		return nil, fmt.Errorf("airtable: %s: %w", msg, models.ErrNotFound)
	}
	return nil, &models.ExternalServiceError{Service: "airtable", StatusCode: resp.StatusCode, Message: msg}
}

func (c *AirtableClient) tableURL(cfg *models.AirtableConfig) string {
	return c.baseURL + "/" + url.PathEscape(cfg.BaseID) + "/" + url.PathEscape(cfg.TableName)
}

func airtableErrorMessage(body []byte) string {
	var resp airtableErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Error) == 0 {
		return ""
	}
	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Error, &detail); err == nil {
		if detail.Message != "" {
			return detail.Message
		}
		return detail.Type
	}
	var code string
	if err := json.Unmarshal(resp.Error, &code); err == nil {
		return code
	}
	return ""
}

// decodeJSON keeps numbers as json.Number so they render without float noise.
func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func toRecord(r airtableRecord) models.Record {
	fields := r.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return models.Record{ID: r.ID, CreatedTime: r.CreatedTime, Fields: fields}
}

// fieldCacheKey never contains the API key itself.
func fieldCacheKey(cfg *models.AirtableConfig) string {
	sum := sha256.Sum256([]byte(cfg.APIKey))
	return cfg.BaseID + "/" + cfg.TableName + "/" + hex.EncodeToString(sum[:4])
}
