package services

import (
	"context"
	"fmt"

	"documerge/internal/models"
	"documerge/internal/secrets"

	"go.uber.org/zap"
)

type templateStore interface {
	ListTemplates(ctx context.Context, query string) ([]models.Template, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	CountTemplates(ctx context.Context) (int64, error)
	CreateTemplate(ctx context.Context, t *models.Template) error
	UpdateTemplate(ctx context.Context, id string, t *models.Template) error
	DeleteTemplate(ctx context.Context, id string) error
	ListMappings(ctx context.Context, templateID string) ([]models.FieldMapping, error)
	ReplaceMappings(ctx context.Context, templateID string, mappings []models.FieldMapping) ([]models.FieldMapping, error)
	UpdateMappings(ctx context.Context, templateID string, fn func(current []models.FieldMapping) ([]models.FieldMapping, error)) ([]models.FieldMapping, error)
	DeleteMapping(ctx context.Context, templateID, placeholder string) error
}

type recordLister interface {
	ListRecords(ctx context.Context, cfg *models.AirtableConfig) ([]models.Record, error)
}

type proposer interface {
	Propose(ctx context.Context, session string, req ProposeRequest) (*Proposal, error)
	AutoMap(placeholders []string, fields []models.ExternalField, existing []models.FieldMapping) []models.FieldMapping
}

type TemplateService struct {
	repo     templateStore
	records  recordLister
	mappings proposer
	log      *zap.Logger
}

func NewTemplateService(repo templateStore, records recordLister, mappings proposer, log *zap.Logger) *TemplateService {
	return &TemplateService{
		repo:     repo,
		records:  records,
		mappings: mappings,
		log:      log.With(zap.String("service", "TemplateService")),
	}
}

// TemplateView is a template as clients see it: API key masked, wizard
// stage and readiness derived.
type TemplateView struct {
	models.Template
	Stage           models.TemplateStage `json:"stage"`
	ReadyToGenerate bool                 `json:"ready_to_generate"`
}

func NewTemplateView(t *models.Template) TemplateView {
	view := TemplateView{
		Template:        *t,
		Stage:           t.Stage(),
		ReadyToGenerate: t.ReadyToGenerate(),
	}
	view.AirtableConfig = secrets.MaskConfig(t.AirtableConfig)
	if view.FieldMappings == nil {
		view.FieldMappings = []models.FieldMapping{}
	}
	return view
}

func (s *TemplateService) ListTemplates(ctx context.Context, query string) ([]models.Template, error) {
	templates, err := s.repo.ListTemplates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

func (s *TemplateService) CreateTemplate(ctx context.Context, t *models.Template) (*models.Template, error) {
	t.ID = ""
	t.Normalize()
	if err := t.ValidateForSave(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info("template created",
		zap.String("template_id", t.ID),
		zap.String("stage", string(t.Stage())))
	return s.repo.GetTemplate(ctx, t.ID)
}

// UpdateTemplate replaces the template. A masked API key echoed back by the
// client keeps the stored key.
func (s *TemplateService) UpdateTemplate(ctx context.Context, id string, t *models.Template) (*models.Template, error) {
	stored, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	secrets.MergeMaskedKey(t.AirtableConfig, stored.AirtableConfig)
	t.Normalize()
	if err := t.ValidateForSave(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTemplate(ctx, id, t); err != nil {
		return nil, err
	}

	s.log.Info("template updated", zap.String("template_id", id))
	return s.repo.GetTemplate(ctx, id)
}

// DeleteTemplate leaves the template's generations in place.
func (s *TemplateService) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.log.Info("template deleted", zap.String("template_id", id))
	return nil
}

// ValidateStep checks wizard input without saving it. When the client sends
// a masked key for a saved template, the stored key is used.
func (s *TemplateService) ValidateStep(ctx context.Context, t *models.Template, step int) error {
	if err := s.ResolveConfig(ctx, t.ID, t.AirtableConfig); err != nil {
		return err
	}
	t.Normalize()
	return t.ValidateStep(step)
}

// ResolveConfig swaps a masked API key for the key stored on templateID.
// Unmasked keys and an empty templateID leave cfg as it is.
func (s *TemplateService) ResolveConfig(ctx context.Context, templateID string, cfg *models.AirtableConfig) error {
	if templateID == "" || cfg == nil || !secrets.IsMasked(cfg.APIKey) {
		return nil
	}
	stored, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	secrets.MergeMaskedKey(cfg, stored.AirtableConfig)
	return nil
}

func (s *TemplateService) ListMappings(ctx context.Context, templateID string) ([]models.FieldMapping, error) {
	return s.repo.ListMappings(ctx, templateID)
}

func (s *TemplateService) ReplaceMappings(ctx context.Context, templateID string, mappings []models.FieldMapping) ([]models.FieldMapping, error) {
	models.NormalizeMappings(mappings)
	if err := models.ValidateMappings(mappings); err != nil {
		return nil, err
	}
	return s.repo.ReplaceMappings(ctx, templateID, mappings)
}

func (s *TemplateService) DeleteMapping(ctx context.Context, templateID, placeholder string) error {
	if placeholder == "" {
		return models.NewValidationError("placeholder", "placeholder is required")
	}
	return s.repo.DeleteMapping(ctx, templateID, placeholder)
}

// AutoMapTemplate re-runs auto-mapping against the live table and document
// and stores the result. The fetches happen first; the resolver then runs
// against the mappings stored at write time, so edits made while the
// fetches were in flight are kept. A document without placeholders is
// reported as ErrNoPlaceholders and the stored mappings are left alone.
func (s *TemplateService) AutoMapTemplate(ctx context.Context, session, templateID string) (*Proposal, error) {
	t, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	proposal, err := s.mappings.Propose(ctx, session, ProposeRequest{
		TemplateID:     t.ID,
		AirtableConfig: t.AirtableConfig,
		GoogleDocURL:   t.GoogleDocURL,
		Existing:       t.FieldMappings,
	})
	if err != nil {
		return nil, err
	}
	if len(proposal.Placeholders) == 0 {
		return nil, fmt.Errorf("template %s: %w", templateID, models.ErrNoPlaceholders)
	}

	saved, err := s.repo.UpdateMappings(ctx, templateID, func(current []models.FieldMapping) ([]models.FieldMapping, error) {
		next := s.mappings.AutoMap(proposal.Placeholders, proposal.Fields, current)
		models.NormalizeMappings(next)
		if err := models.ValidateMappings(next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	proposal.Mappings = saved

	s.log.Info("template auto-mapped",
		zap.String("template_id", templateID),
		zap.Int("placeholders", len(proposal.Placeholders)),
		zap.Int("fields", len(proposal.Fields)))
	return proposal, nil
}

// ListTemplateRecords lists the records a template can be generated for.
func (s *TemplateService) ListTemplateRecords(ctx context.Context, templateID string) ([]models.Record, error) {
	t, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := t.ValidateConnection(); err != nil {
		return nil, err
	}
	return s.records.ListRecords(ctx, t.AirtableConfig)
}
