package repository

import (
	"testing"

	"documerge/internal/models"
	"documerge/internal/secrets"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Template{}, &models.FieldMapping{}, &models.Generation{}, &models.ActivityLog{}))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestSealer(t *testing.T) *secrets.Sealer {
	t.Helper()
	s, err := secrets.NewSealer("repository-test-key")
	require.NoError(t, err)
	return s
}
