package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"documerge/internal/models"
	"documerge/internal/secrets"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TemplateRepository persists templates and their field mappings. The
// Airtable config is sealed on write and opened on read.
type TemplateRepository struct {
	db     *gorm.DB
	sealer *secrets.Sealer
}

func NewTemplateRepository(db *gorm.DB, sealer *secrets.Sealer) *TemplateRepository {
	return &TemplateRepository{db: db, sealer: sealer}
}

func orderedMappings(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// ListTemplates returns templates newest first. A non-empty query matches
// names case-insensitively.
func (r *TemplateRepository) ListTemplates(ctx context.Context, query string) ([]models.Template, error) {
	var templates []models.Template
	q := r.db.WithContext(ctx).Preload("FieldMappings", orderedMappings).Order("created_at DESC")
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(query)+"%")
	}
	if err := q.Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	for i := range templates {
		if err := r.open(&templates[i]); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	var t models.Template
	err := r.db.WithContext(ctx).Preload("FieldMappings", orderedMappings).First(&t, "id = ?", id).Error
	if err != nil {
		return nil, mapError(err, "template", id)
	}
	if err := r.open(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) CountTemplates(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Template{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return n, nil
}

// CreateTemplate assigns a fresh id and stores the template with its
// mappings in one transaction.
func (r *TemplateRepository) CreateTemplate(ctx context.Context, t *models.Template) error {
	sealed, err := r.sealer.SealConfig(t.AirtableConfig)
	if err != nil {
		return err
	}
	t.ID = uuid.New().String()
	t.SealedConfig = sealed
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	prepareMappings(t.ID, t.FieldMappings)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("FieldMappings").Create(t).Error; err != nil {
			return mapError(err, "template", t.ID)
		}
		if len(t.FieldMappings) > 0 {
			if err := tx.Create(&t.FieldMappings).Error; err != nil {
				return mapError(err, "template", t.ID)
			}
		}
		return nil
	})
}

// UpdateTemplate replaces the scalar fields and the whole mapping list of
// an existing template.
func (r *TemplateRepository) UpdateTemplate(ctx context.Context, id string, t *models.Template) error {
	sealed, err := r.sealer.SealConfig(t.AirtableConfig)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Template
		if err := tx.Select("id", "created_at").First(&existing, "id = ?", id).Error; err != nil {
			return mapError(err, "template", id)
		}

		t.ID = id
		t.SealedConfig = sealed
		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = time.Now()
		err := tx.Model(&models.Template{}).Where("id = ?", id).Updates(map[string]any{
			"name":                      t.Name,
			"description":               t.Description,
			"airtable_config":           t.SealedConfig,
			"google_doc_url":            t.GoogleDocURL,
			"setting_image_width":       t.Settings.ImageWidth,
			"setting_enable_line_items": t.Settings.EnableLineItems,
			"updated_at":                t.UpdatedAt,
		}).Error
		if err != nil {
			return mapError(err, "template", id)
		}
		return replaceMappings(tx, id, t.FieldMappings)
	})
}

// DeleteTemplate removes the template and its mappings. Generations are
// left untouched.
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&models.FieldMapping{}).Error; err != nil {
			return mapError(err, "template", id)
		}
		res := tx.Where("id = ?", id).Delete(&models.Template{})
		if res.Error != nil {
			return mapError(res.Error, "template", id)
		}
		if res.RowsAffected == 0 {
			return mapError(gorm.ErrRecordNotFound, "template", id)
		}
		return nil
	})
}

func (r *TemplateRepository) ListMappings(ctx context.Context, templateID string) ([]models.FieldMapping, error) {
	if err := r.exists(r.db.WithContext(ctx), templateID); err != nil {
		return nil, err
	}
	var mappings []models.FieldMapping
	err := r.db.WithContext(ctx).Where("template_id = ?", templateID).Order("position ASC").Find(&mappings).Error
	if err != nil {
		return nil, mapError(err, "template", templateID)
	}
	return mappings, nil
}

// ReplaceMappings swaps the mapping list wholesale.
func (r *TemplateRepository) ReplaceMappings(ctx context.Context, templateID string, mappings []models.FieldMapping) ([]models.FieldMapping, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.exists(tx, templateID); err != nil {
			return err
		}
		if err := replaceMappings(tx, templateID, mappings); err != nil {
			return err
		}
		return tx.Model(&models.Template{}).Where("id = ?", templateID).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// UpdateMappings reads the current mappings, hands them to fn and stores
// what fn returns, all in one transaction. fn runs while the transaction is
// open and must not do I/O.
func (r *TemplateRepository) UpdateMappings(ctx context.Context, templateID string, fn func(current []models.FieldMapping) ([]models.FieldMapping, error)) ([]models.FieldMapping, error) {
	var out []models.FieldMapping
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.exists(tx, templateID); err != nil {
			return err
		}
		var current []models.FieldMapping
		if err := tx.Where("template_id = ?", templateID).Order("position ASC").Find(&current).Error; err != nil {
			return mapError(err, "template", templateID)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := replaceMappings(tx, templateID, next); err != nil {
			return err
		}
		out = next
		return tx.Model(&models.Template{}).Where("id = ?", templateID).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TemplateRepository) DeleteMapping(ctx context.Context, templateID, placeholder string) error {
	res := r.db.WithContext(ctx).
		Where("template_id = ? AND doc_placeholder = ?", templateID, placeholder).
		Delete(&models.FieldMapping{})
	if res.Error != nil {
		return mapError(res.Error, "mapping", placeholder)
	}
	if res.RowsAffected == 0 {
		return mapError(gorm.ErrRecordNotFound, "mapping", placeholder)
	}
	return nil
}

func (r *TemplateRepository) exists(db *gorm.DB, id string) error {
	var n int64
	if err := db.Model(&models.Template{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return mapError(err, "template", id)
	}
	if n == 0 {
		return mapError(gorm.ErrRecordNotFound, "template", id)
	}
	return nil
}

func (r *TemplateRepository) open(t *models.Template) error {
	cfg, err := r.sealer.OpenConfig(t.SealedConfig)
	if err != nil {
		return fmt.Errorf("template %s: %w", t.ID, err)
	}
	t.AirtableConfig = cfg
	if t.FieldMappings == nil {
		t.FieldMappings = []models.FieldMapping{}
	}
	return nil
}

func replaceMappings(tx *gorm.DB, templateID string, mappings []models.FieldMapping) error {
	if err := tx.Where("template_id = ?", templateID).Delete(&models.FieldMapping{}).Error; err != nil {
		return mapError(err, "template", templateID)
	}
	if len(mappings) == 0 {
		return nil
	}
	prepareMappings(templateID, mappings)
	if err := tx.Create(&mappings).Error; err != nil {
		return mapError(err, "template", templateID)
	}
	return nil
}

func prepareMappings(templateID string, mappings []models.FieldMapping) {
	for i := range mappings {
		mappings[i].ID = uuid.New().String()
		mappings[i].TemplateID = templateID
		mappings[i].Position = i
		if !mappings[i].FieldType.IsValid() {
			mappings[i].FieldType = models.FieldTypeText
		}
	}
}
