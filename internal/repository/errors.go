package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"documerge/internal/models"

	"gorm.io/gorm"
)

// mapError converts driver errors into domain errors, keeping the entity
// and id in the message.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, models.ErrNotFound)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w", entity, id, models.NewValidationError("doc_placeholder", "placeholder already mapped"))
	}
	return fmt.Errorf("%s %s: %w", entity, id, err)
}

// isUniqueViolation covers drivers that gorm does not translate without
// TranslateError.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
