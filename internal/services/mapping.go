package services

import (
	"context"
	"strings"

	"documerge/internal/models"
	"documerge/internal/processor"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type fieldLister interface {
	ListFields(ctx context.Context, cfg *models.AirtableConfig) ([]models.ExternalField, error)
}

type placeholderSource interface {
	GetPlaceholders(ctx context.Context, docURL string) ([]string, error)
}

type MappingService struct {
	fields       fieldLister
	placeholders placeholderSource
	guard        *RequestGuard
	options      []processor.AutoMapOption
	log          *zap.Logger
}

func NewMappingService(fields fieldLister, placeholders placeholderSource, guard *RequestGuard, normalizeNames bool, log *zap.Logger) *MappingService {
	var opts []processor.AutoMapOption
	if normalizeNames {
		opts = append(opts, processor.WithNormalizedNames())
	}
	if guard == nil {
		guard = NewRequestGuard()
	}
	return &MappingService{
		fields:       fields,
		placeholders: placeholders,
		guard:        guard,
		options:      opts,
		log:          log.With(zap.String("service", "MappingService")),
	}
}

// ProposeRequest is everything the wizard knows when it asks for mappings.
type ProposeRequest struct {
	TemplateID     string                 `json:"template_id,omitempty"`
	AirtableConfig *models.AirtableConfig `json:"airtable_config"`
	GoogleDocURL   string                 `json:"google_doc_url"`
	Existing       []models.FieldMapping  `json:"existing"`
}

type Proposal struct {
	Placeholders []string               `json:"placeholders"`
	Fields       []models.ExternalField `json:"fields"`
	Mappings     []models.FieldMapping  `json:"mappings"`
}

// AutoMap runs the resolver on caller-supplied data without any I/O.
func (s *MappingService) AutoMap(placeholders []string, fields []models.ExternalField, existing []models.FieldMapping) []models.FieldMapping {
	return processor.AutoMap(placeholders, fields, existing, s.options...)
}

// Propose fetches the table's fields and the document's placeholders
// concurrently and auto-maps them against a snapshot of the existing
// mappings taken before any I/O. A newer Propose on the same session makes
// this one fail with ErrStaleRequest.
func (s *MappingService) Propose(ctx context.Context, session string, req ProposeRequest) (*Proposal, error) {
	if err := req.AirtableConfig.Validate(); err != nil {
		return nil, err
	}
	if err := models.ValidateGoogleDocURL(req.GoogleDocURL); err != nil {
		return nil, err
	}

	existing := make([]models.FieldMapping, len(req.Existing))
	copy(existing, req.Existing)

	ctx, ticket := s.guard.Begin(ctx, session, proposalTarget(req))

	var (
		fields       []models.ExternalField
		placeholders []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fields, err = s.fields.ListFields(gctx, req.AirtableConfig)
		return err
	})
	g.Go(func() error {
		var err error
		placeholders, err = s.placeholders.GetPlaceholders(gctx, req.GoogleDocURL)
		return err
	})
	if err := ticket.Finish(g.Wait()); err != nil {
		s.log.Debug("mapping proposal dropped", zap.String("session", session), zap.Error(err))
		return nil, err
	}

	if placeholders == nil {
		placeholders = []string{}
	}
	return &Proposal{
		Placeholders: placeholders,
		Fields:       fields,
		Mappings:     s.AutoMap(placeholders, fields, existing),
	}, nil
}

func proposalTarget(req ProposeRequest) string {
	return strings.Join([]string{req.TemplateID, req.AirtableConfig.BaseID, req.AirtableConfig.TableName, req.GoogleDocURL}, "|")
}
