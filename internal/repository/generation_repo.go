package repository

import (
	"context"
	"fmt"
	"time"

	"documerge/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// ListGenerations returns history newest first along with the unpaged total.
func (r *GenerationRepository) ListGenerations(ctx context.Context, filter models.GenerationFilter) ([]models.Generation, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Generation{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TemplateID != "" {
		q = q.Where("template_id = ?", filter.TemplateID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count generations: %w", err)
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var gens []models.Generation
	if err := q.Order("created_at DESC").Find(&gens).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list generations: %w", err)
	}
	return gens, total, nil
}

func (r *GenerationRepository) GetGeneration(ctx context.Context, id string) (*models.Generation, error) {
	var g models.Generation
	if err := r.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, mapError(err, "generation", id)
	}
	return &g, nil
}

// CreateGeneration always stores a pending record with a fresh id.
func (r *GenerationRepository) CreateGeneration(ctx context.Context, g *models.Generation) error {
	g.ID = uuid.New().String()
	g.Status = models.GenerationPending
	g.PDFURL = ""
	g.ErrorMessage = ""
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return mapError(err, "generation", g.ID)
	}
	return nil
}

// UpdateGenerationStatus applies a transition. The write is conditional on
// the record still being pending so two concurrent updates cannot both win.
func (r *GenerationRepository) UpdateGenerationStatus(ctx context.Context, id string, status models.GenerationStatus, outcome models.GenerationOutcome) (*models.Generation, error) {
	var updated models.Generation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Generation
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return mapError(err, "generation", id)
		}
		if err := models.CheckTransition(current.Status, status, &outcome); err != nil {
			return fmt.Errorf("generation %s: %w", id, err)
		}

		res := tx.Model(&models.Generation{}).
			Where("id = ? AND status = ?", id, models.GenerationPending).
			Updates(map[string]any{
				"status":        status,
				"pdf_url":       outcome.PDFURL,
				"filename":      outcome.Filename,
				"size":          outcome.Size,
				"pages":         outcome.Pages,
				"error_message": outcome.ErrorMessage,
				"updated_at":    time.Now(),
			})
		if res.Error != nil {
			return mapError(res.Error, "generation", id)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("generation %s: %w", id, models.ErrInvalidTransition)
		}
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *GenerationRepository) DeleteGeneration(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Generation{})
	if res.Error != nil {
		return mapError(res.Error, "generation", id)
	}
	if res.RowsAffected == 0 {
		return mapError(gorm.ErrRecordNotFound, "generation", id)
	}
	return nil
}

// CountByStatus returns the number of generations per status created at or
// after since. A zero since counts everything.
func (r *GenerationRepository) CountByStatus(ctx context.Context, since time.Time) (map[models.GenerationStatus]int64, error) {
	var rows []struct {
		Status models.GenerationStatus
		Count  int64
	}
	q := r.db.WithContext(ctx).Model(&models.Generation{}).Select("status, COUNT(*) AS count").Group("status")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}
	out := make(map[models.GenerationStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
