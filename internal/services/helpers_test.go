package services

import (
	"testing"

	"documerge/internal/models"
	"documerge/internal/repository"
	"documerge/internal/secrets"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testRepos struct {
	templates   *repository.TemplateRepository
	generations *repository.GenerationRepository
	logs        *repository.ActivityLogRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Template{}, &models.FieldMapping{}, &models.Generation{}, &models.ActivityLog{}))
	t.Cleanup(func() { sqlDB.Close() })

	sealer, err := secrets.NewSealer("services-test-key")
	require.NoError(t, err)

	return testRepos{
		templates:   repository.NewTemplateRepository(db, sealer),
		generations: repository.NewGenerationRepository(db),
		logs:        repository.NewActivityLogRepository(db),
	}
}
