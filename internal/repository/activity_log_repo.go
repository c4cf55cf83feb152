package repository

import (
	"context"
	"fmt"
	"strings"

	"documerge/internal/models"

	"gorm.io/gorm"
)

type ActivityLogRepository struct {
	db *gorm.DB
}

func NewActivityLogRepository(db *gorm.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

func (r *ActivityLogRepository) CreateLog(ctx context.Context, entry *models.ActivityLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save activity log: %w", err)
	}
	return nil
}

// ListLogs returns entries newest first with the unpaged total.
func (r *ActivityLogRepository) ListLogs(ctx context.Context, filter models.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ActivityLog{})
	if filter.Method != "" {
		query = query.Where("method = ?", strings.ToUpper(filter.Method))
	}
	if filter.Path != "" {
		query = query.Where("path LIKE ?", "%"+filter.Path+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var logs []models.ActivityLog
	if err := query.Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}
	return logs, total, nil
}

func (r *ActivityLogRepository) Stats(ctx context.Context) (*models.ActivityLogStats, error) {
	stats := &models.ActivityLogStats{
		Methods:     map[string]int{},
		Paths:       map[string]int{},
		StatusCodes: map[int]int{},
	}
	db := r.db.WithContext(ctx).Model(&models.ActivityLog{})
	if err := db.Count(&stats.TotalRequests).Error; err != nil {
		return nil, fmt.Errorf("failed to count logs: %w", err)
	}

	var byMethod []struct {
		Method string
		Count  int
	}
	if err := r.db.WithContext(ctx).Model(&models.ActivityLog{}).
		Select("method, COUNT(*) AS count").Group("method").Scan(&byMethod).Error; err != nil {
		return nil, fmt.Errorf("failed to group logs by method: %w", err)
	}
	for _, row := range byMethod {
		stats.Methods[row.Method] = row.Count
	}

	var byPath []struct {
		Path  string
		Count int
	}
	if err := r.db.WithContext(ctx).Model(&models.ActivityLog{}).
		Select("path, COUNT(*) AS count").Group("path").Scan(&byPath).Error; err != nil {
		return nil, fmt.Errorf("failed to group logs by path: %w", err)
	}
	for _, row := range byPath {
		stats.Paths[row.Path] = row.Count
	}

	var byStatus []struct {
		StatusCode int
		Count      int
	}
	if err := r.db.WithContext(ctx).Model(&models.ActivityLog{}).
		Select("status_code, COUNT(*) AS count").Group("status_code").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to group logs by status: %w", err)
	}
	for _, row := range byStatus {
		stats.StatusCodes[row.StatusCode] = row.Count
	}
	return stats, nil
}
