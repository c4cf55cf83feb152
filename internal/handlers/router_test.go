package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"documerge/internal/models"
	"documerge/internal/repository"
	"documerge/internal/secrets"
	"documerge/internal/services"
	"documerge/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testAPIKey = "keyTEST12345678"
	testDocURL = "https://docs.google.com/document/d/doc123/edit"
)

type stubRenderer struct {
	mu  sync.Mutex
	err error
}

func (s *stubRenderer) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubRenderer) Generate(_ context.Context, generationID string, t *models.Template, record *models.Record) (*services.RenderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	name := services.OutputFilename(t.Name, record.ID)
	return &services.RenderResult{
		Filename:    name,
		DownloadURL: "http://localhost/api/v1/artifacts/generations/" + generationID + "/" + name,
		Size:        2048,
		Pages:       1,
	}, nil
}

type apiFixture struct {
	router   *gin.Engine
	renderer *stubRenderer
	store    *storage.LocalStore
	activity *services.ActivityLogService

	mu      sync.Mutex
	docText string
}

func (f *apiFixture) setDocText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docText = text
}

func airtableHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"AUTHENTICATION_REQUIRED","message":"Authentication required"}}`))
		return
	}
	switch {
	case r.URL.Path == "/appBase/Customers":
		w.Write([]byte(`{"records":[
			{"id":"rec1","fields":{"Name":"Jane","Total":12.5}},
			{"id":"rec2","fields":{"Name":"John","Total":3}}]}`))
	case strings.HasPrefix(r.URL.Path, "/appBase/Customers/"):
		id := strings.TrimPrefix(r.URL.Path, "/appBase/Customers/")
		w.Write([]byte(`{"id":"` + id + `","fields":{"Name":"Jane","Total":12.5}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"NOT_FOUND"}`))
	}
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Template{}, &models.FieldMapping{}, &models.Generation{}, &models.ActivityLog{}))
	t.Cleanup(func() { sqlDB.Close() })

	sealer, err := secrets.NewSealer("handlers-test-key")
	require.NoError(t, err)

	f := &apiFixture{renderer: &stubRenderer{}, docText: "Invoice\nDear {{name}}, you owe {{total}}."}

	airtableSrv := httptest.NewServer(http.HandlerFunc(airtableHandler))
	t.Cleanup(airtableSrv.Close)
	docsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		text := f.docText
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(text))
	}))
	t.Cleanup(docsSrv.Close)

	log := zap.NewNop()
	airtable := services.NewAirtableClient(airtableSrv.URL, log)
	docs, err := services.NewGoogleDocsClient(context.Background(), docsSrv.URL, "", time.Second, log)
	require.NoError(t, err)

	f.store, err = storage.NewLocalStore(t.TempDir(), "http://localhost/api/v1/artifacts")
	require.NoError(t, err)

	templateRepo := repository.NewTemplateRepository(db, sealer)
	generationRepo := repository.NewGenerationRepository(db)
	f.activity = services.NewActivityLogService(repository.NewActivityLogRepository(db), log)
	t.Cleanup(f.activity.Flush)

	mappingService := services.NewMappingService(airtable, docs, services.NewRequestGuard(), false, log)
	templateService := services.NewTemplateService(templateRepo, airtable, mappingService, log)
	generationService := services.NewGenerationService(generationRepo, templateRepo, airtable, f.renderer, log)

	f.router = NewRouter(RouterConfig{
		Templates:   NewTemplateHandler(templateService),
		Mappings:    NewMappingHandler(mappingService, templateService),
		DataSource:  NewDataSourceHandler(airtable, templateService),
		Documents:   NewDocumentHandler(docs),
		Generations: NewGenerationHandler(generationService),
		Artifacts:   NewArtifactHandler(f.store),
		Logs:        NewLogsHandler(f.activity),
		Health:      NewHealthHandler(db, "test"),
		ActivityLog: f.activity,
		Logger:      log,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type errorResponse struct {
	Error      ErrorBody          `json:"error"`
	Generation *models.Generation `json:"generation"`
}

func templateBody() map[string]any {
	return map[string]any{
		"name": "Monthly Invoice",
		"airtable_config": map[string]any{
			"api_key":    testAPIKey,
			"base_id":    "appBase",
			"table_name": "Customers",
		},
		"google_doc_url": testDocURL,
		"field_mappings": []map[string]any{
			{"doc_placeholder": "{{name}}", "target_field": "Name", "field_type": "text"},
		},
	}
}

func (f *apiFixture) createTemplate(t *testing.T) services.TemplateView {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/templates", templateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[services.TemplateView](t, rec)
}

func TestTemplates_CRUD(t *testing.T) {
	f := newAPIFixture(t)

	created := f.createTemplate(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StageSaved, created.Stage)
	assert.True(t, created.ReadyToGenerate)
	assert.NotEqual(t, testAPIKey, created.AirtableConfig.APIKey)
	assert.True(t, secrets.IsMasked(created.AirtableConfig.APIKey))

	rec := f.do(t, http.MethodGet, "/api/v1/templates?q=invoice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Templates []services.TemplateView `json:"templates"`
		Total     int                     `json:"total"`
	}](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.NotContains(t, rec.Body.String(), testAPIKey)

	update := templateBody()
	update["description"] = "now with notes"
	update["airtable_config"].(map[string]any)["api_key"] = created.AirtableConfig.APIKey
	rec = f.do(t, http.MethodPut, "/api/v1/templates/"+created.ID, update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/datasource/fields", map[string]any{
		"template_id": created.ID,
		"api_key":     created.AirtableConfig.APIKey,
		"base_id":     "appBase",
		"table_name":  "Customers",
	})
	require.Equal(t, http.StatusOK, rec.Code, "masked key must still resolve to the stored key: %s", rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/templates/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Error.Code)
}

func TestTemplates_ValidationEnvelope(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/templates", map[string]any{"description": "no name"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "validation_error", body.Error.Code)
	require.NotEmpty(t, body.Error.Fields)
	assert.Equal(t, "name", body.Error.Fields[0].Field)

	rec = f.do(t, http.MethodPost, "/api/v1/templates", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/templates/validate", map[string]any{
		"step":     1,
		"template": map[string]any{"airtable_config": map[string]any{"base_id": "appBase"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "configuration_error", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/templates/validate", map[string]any{
		"step":     2,
		"template": map[string]any{"google_doc_url": testDocURL},
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDataSource(t *testing.T) {
	f := newAPIFixture(t)
	cfg := map[string]any{"api_key": testAPIKey, "base_id": "appBase", "table_name": "Customers"}

	rec := f.do(t, http.MethodPost, "/api/v1/datasource/test", cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[services.ConnectionResult](t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TableInfo.RecordCount)

	rec = f.do(t, http.MethodPost, "/api/v1/datasource/test", map[string]any{"api_key": "bad", "base_id": "appBase", "table_name": "Customers"})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode[services.ConnectionResult](t, rec)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Authentication required")

	rec = f.do(t, http.MethodPost, "/api/v1/datasource/test", map[string]any{"base_id": "appBase"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "configuration_error", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/datasource/records", cfg)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["total"])

	rec = f.do(t, http.MethodPost, "/api/v1/datasource/fields", map[string]any{"api_key": "bad", "base_id": "appBase", "table_name": "Customers"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", decode[errorResponse](t, rec).Error.Code)
}

func TestDocuments(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/documents/placeholders", map[string]any{"google_doc_url": testDocURL})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Placeholders []string `json:"placeholders"`
		Count        int      `json:"count"`
	}](t, rec)
	assert.Equal(t, []string{"{{name}}", "{{total}}"}, body.Placeholders)

	rec = f.do(t, http.MethodPost, "/api/v1/documents/validate", map[string]any{"google_doc_url": testDocURL})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[services.DocumentValidation](t, rec).IsValid)

	rec = f.do(t, http.MethodPost, "/api/v1/documents/placeholders", map[string]any{"google_doc_url": "https://example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/documents/sharing-instructions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMappings(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/mappings/auto", map[string]any{
		"placeholders": []string{"{{name}}"},
		"fields":       []map[string]any{{"name": "Customer Name", "type": "text"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	auto := decode[struct {
		Mappings []models.FieldMapping `json:"mappings"`
	}](t, rec)
	require.Len(t, auto.Mappings, 1)
	assert.Equal(t, "Customer Name", auto.Mappings[0].TargetField)

	rec = f.do(t, http.MethodPost, "/api/v1/mappings/propose", map[string]any{
		"airtable_config": map[string]any{"api_key": testAPIKey, "base_id": "appBase", "table_name": "Customers"},
		"google_doc_url":  testDocURL,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	proposal := decode[services.Proposal](t, rec)
	assert.Equal(t, []string{"{{name}}", "{{total}}"}, proposal.Placeholders)
	require.Len(t, proposal.Mappings, 2)
	assert.Equal(t, "Name", proposal.Mappings[0].TargetField)
	assert.Equal(t, "Total", proposal.Mappings[1].TargetField)
	assert.Equal(t, models.FieldTypeNumber, proposal.Mappings[1].FieldType)
}

func TestTemplates_AutoMapAndMappings(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTemplate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/templates/"+created.ID+"/automap", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/templates/"+created.ID+"/mappings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mappings := decode[struct {
		Mappings []models.FieldMapping `json:"mappings"`
	}](t, rec).Mappings
	require.Len(t, mappings, 2)
	assert.Equal(t, "{{total}}", mappings[1].DocPlaceholder)

	rec = f.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID+"/mappings?placeholder="+"%7B%7Btotal%7D%7D", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.setDocText("No tokens here")
	rec = f.do(t, http.MethodPost, "/api/v1/templates/"+created.ID+"/automap", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_placeholders", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/templates/"+created.ID+"/mappings", nil)
	assert.Len(t, decode[struct {
		Mappings []models.FieldMapping `json:"mappings"`
	}](t, rec).Mappings, 1, "a failed auto-map keeps the stored mappings")

	rec = f.do(t, http.MethodGet, "/api/v1/templates/"+created.ID+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["total"])
}

func TestGenerations(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createTemplate(t)

	rec := f.do(t, http.MethodPost, "/api/v1/generations", map[string]any{"template_id": created.ID, "record_id": "rec1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	done := decode[models.Generation](t, rec)
	assert.Equal(t, models.GenerationCompleted, done.Status)
	assert.Equal(t, "Monthly_Invoice_rec1.pdf", done.Filename)

	f.renderer.fail(&models.ExternalServiceError{Service: "gotenberg", StatusCode: 503, Message: "busy"})
	rec = f.do(t, http.MethodPost, "/api/v1/generations", map[string]any{"template_id": created.ID, "record_id": "rec2"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	failed := decode[errorResponse](t, rec)
	assert.Equal(t, "external_service_error", failed.Error.Code)
	assert.True(t, failed.Error.Retryable)
	require.NotNil(t, failed.Generation)
	assert.Equal(t, models.GenerationFailed, failed.Generation.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/generations", map[string]any{"template_id": created.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/generations/"+done.ID+"/status", map[string]any{"status": "failed", "error_message": "late"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorResponse](t, rec).Error.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/generations?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Generations []models.Generation `json:"generations"`
		Total       int64               `json:"total"`
		TotalPages  int                 `json:"total_pages"`
	}](t, rec)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.TotalPages)

	rec = f.do(t, http.MethodGet, "/api/v1/generations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/dashboard/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[services.DashboardStats](t, rec)
	assert.Equal(t, int64(2), stats.TotalGenerations)
	assert.Equal(t, 50, stats.SuccessRate)

	rec = f.do(t, http.MethodGet, "/api/v1/generations/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = f.do(t, http.MethodDelete, "/api/v1/generations/"+done.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/generations/"+done.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifacts(t *testing.T) {
	f := newAPIFixture(t)

	stored, err := f.store.Save(context.Background(), "generations/g1/1_invoice.pdf", strings.NewReader("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/artifacts/"+stored.Name, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/artifacts/generations/g1/missing.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogsAndHealth(t *testing.T) {
	f := newAPIFixture(t)
	f.createTemplate(t)
	f.activity.Flush()

	rec := f.do(t, http.MethodGet, "/api/v1/logs?method=POST", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[LogsResponse](t, rec)
	require.Equal(t, int64(1), logs.Total)
	assert.NotContains(t, logs.Logs[0].RequestBody, testAPIKey)

	rec = f.do(t, http.MethodGet, "/api/v1/logs/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["total"])

	f.activity.Flush()
	rec = f.do(t, http.MethodGet, "/api/v1/logs/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
