package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"documerge/internal/models"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const recentGenerations = 5

var tracer = otel.Tracer("documerge/internal/services")

type generationStore interface {
	ListGenerations(ctx context.Context, filter models.GenerationFilter) ([]models.Generation, int64, error)
	GetGeneration(ctx context.Context, id string) (*models.Generation, error)
	CreateGeneration(ctx context.Context, g *models.Generation) error
	UpdateGenerationStatus(ctx context.Context, id string, status models.GenerationStatus, outcome models.GenerationOutcome) (*models.Generation, error)
	DeleteGeneration(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, since time.Time) (map[models.GenerationStatus]int64, error)
}

type templateReader interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	CountTemplates(ctx context.Context) (int64, error)
}

type recordGetter interface {
	GetRecord(ctx context.Context, cfg *models.AirtableConfig, id string) (*models.Record, error)
}

type documentRenderer interface {
	Generate(ctx context.Context, generationID string, t *models.Template, record *models.Record) (*RenderResult, error)
}

type GenerationService struct {
	repo      generationStore
	templates templateReader
	records   recordGetter
	renderer  documentRenderer
	log       *zap.Logger
}

func NewGenerationService(repo generationStore, templates templateReader, records recordGetter, renderer documentRenderer, log *zap.Logger) *GenerationService {
	return &GenerationService{
		repo:      repo,
		templates: templates,
		records:   records,
		renderer:  renderer,
		log:       log.With(zap.String("service", "GenerationService")),
	}
}

type GenerateRequest struct {
	TemplateID string `json:"template_id"`
	RecordID   string `json:"record_id"`
}

func (r GenerateRequest) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.TemplateID) == "" {
		errs = append(errs, models.FieldError{Field: "template_id", Message: "template is required"})
	}
	if strings.TrimSpace(r.RecordID) == "" {
		errs = append(errs, models.FieldError{Field: "record_id", Message: "record is required"})
	}
	if len(errs) > 0 {
		return &models.ValidationError{Kind: models.ErrValidation, Errors: errs}
	}
	return nil
}

// Generate records a pending generation, renders the record and settles
// the generation as completed or failed. When rendering fails the failed
// generation is returned together with the error.
func (s *GenerationService) Generate(ctx context.Context, req GenerateRequest) (*models.Generation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "GenerationService.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("template.id", req.TemplateID),
		attribute.String("record.id", req.RecordID))

	t, err := s.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := t.CheckReady(); err != nil {
		return nil, err
	}

	gen := &models.Generation{
		TemplateID:   t.ID,
		TemplateName: t.Name,
		RecordID:     strings.TrimSpace(req.RecordID),
	}
	if err := s.repo.CreateGeneration(ctx, gen); err != nil {
		return nil, err
	}

	log := s.log.With(
		zap.String("generation_id", gen.ID),
		zap.String("template_id", t.ID),
		zap.String("record_id", gen.RecordID))

	result, renderErr := s.render(ctx, gen, t)

	// Settle the record even if the caller went away.
	settleCtx := context.WithoutCancel(ctx)
	span.SetAttributes(attribute.String("generation.id", gen.ID))
	if renderErr != nil {
		span.RecordError(renderErr)
		span.SetStatus(codes.Error, "generation failed")
		log.Error("generation failed", zap.Error(renderErr))
		failed, err := s.repo.UpdateGenerationStatus(settleCtx, gen.ID, models.GenerationFailed,
			models.GenerationOutcome{ErrorMessage: renderErr.Error()})
		if err != nil {
			return nil, fmt.Errorf("%w (and failed to record failure: %v)", renderErr, err)
		}
		return failed, renderErr
	}

	completed, err := s.repo.UpdateGenerationStatus(settleCtx, gen.ID, models.GenerationCompleted, models.GenerationOutcome{
		PDFURL:   result.DownloadURL,
		Filename: result.Filename,
		Size:     result.Size,
		Pages:    result.Pages,
	})
	if err != nil {
		return nil, err
	}
	log.Info("generation completed", zap.Int("pages", result.Pages), zap.Int64("size", result.Size))
	return completed, nil
}

func (s *GenerationService) render(ctx context.Context, gen *models.Generation, t *models.Template) (*RenderResult, error) {
	record, err := s.records.GetRecord(ctx, t.AirtableConfig, gen.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	return s.renderer.Generate(ctx, gen.ID, t, record)
}

// UpdateStatus applies an externally reported outcome. Only pending
// generations can change.
func (s *GenerationService) UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, outcome models.GenerationOutcome) (*models.Generation, error) {
	if !status.IsValid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	gen, err := s.repo.UpdateGenerationStatus(ctx, id, status, outcome)
	if err != nil {
		return nil, err
	}
	s.log.Info("generation status updated", zap.String("generation_id", id), zap.String("status", string(status)))
	return gen, nil
}

func (s *GenerationService) ListGenerations(ctx context.Context, filter models.GenerationFilter) ([]models.Generation, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, models.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.repo.ListGenerations(ctx, filter)
}

func (s *GenerationService) GetGeneration(ctx context.Context, id string) (*models.Generation, error) {
	return s.repo.GetGeneration(ctx, id)
}

func (s *GenerationService) DeleteGeneration(ctx context.Context, id string) error {
	if err := s.repo.DeleteGeneration(ctx, id); err != nil {
		return err
	}
	s.log.Info("generation deleted", zap.String("generation_id", id))
	return nil
}

type DashboardStats struct {
	TotalTemplates       int64               `json:"total_templates"`
	TotalGenerations     int64               `json:"total_generations"`
	GenerationsThisMonth int64               `json:"generations_this_month"`
	SuccessRate          int                 `json:"success_rate"`
	ByStatus             map[string]int64    `json:"by_status"`
	Recent               []models.Generation `json:"recent"`
}

// Stats summarises activity. "This month" is the calendar month of now in
// now's location; the success rate is completed over all generations as a
// rounded percentage.
func (s *GenerationService) Stats(ctx context.Context, now time.Time) (*DashboardStats, error) {
	templates, err := s.templates.CountTemplates(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.CountByStatus(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	month, err := s.repo.CountByStatus(ctx, monthStart)
	if err != nil {
		return nil, err
	}
	recent, _, err := s.repo.ListGenerations(ctx, models.GenerationFilter{Limit: recentGenerations})
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalTemplates: templates,
		ByStatus:       make(map[string]int64, len(all)),
		Recent:         recent,
	}
	for status, n := range all {
		stats.TotalGenerations += n
		stats.ByStatus[string(status)] = n
	}
	for _, n := range month {
		stats.GenerationsThisMonth += n
	}
	if stats.TotalGenerations > 0 {
		rate := float64(all[models.GenerationCompleted]) / float64(stats.TotalGenerations) * 100
		stats.SuccessRate = int(math.Round(rate))
	}
	if stats.Recent == nil {
		stats.Recent = []models.Generation{}
	}
	return stats, nil
}

var exportHeader = []any{"ID", "Template", "Template ID", "Record ID", "Status", "Filename", "Pages", "Size (bytes)", "PDF URL", "Error", "Created At", "Updated At"}

// ExportXLSX writes the generations matching filter as a spreadsheet, one
// row per generation, newest first.
func (s *GenerationService) ExportXLSX(ctx context.Context, filter models.GenerationFilter, w io.Writer) error {
	filter.Limit, filter.Offset = 0, 0
	generations, _, err := s.ListGenerations(ctx, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Generations"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to prepare workbook: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "L1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, g := range generations {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			g.ID, g.TemplateName, g.TemplateID, g.RecordID, string(g.Status), g.Filename,
			g.Pages, g.Size, g.PDFURL, g.ErrorMessage,
			g.CreatedAt.Format(time.RFC3339), g.UpdatedAt.Format(time.RFC3339),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(sheet, "A", "L", 20); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	s.log.Info("generations exported", zap.Int("rows", len(generations)))
	return nil
}
