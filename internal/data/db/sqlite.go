package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

// NewSQLiteService opens a single-connection sqlite database. Used for local runs without
// Postgres; row locking clauses are ignored by the sqlite dialect, so one connection keeps
// job claims serialized.
func NewSQLiteService(logg *logger.Logger, path string) (*Service, error) {
	serviceLog := logg.With("service", "SQLiteService", "path", path)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Service{db: db, log: serviceLog, dialect: "sqlite"}, nil
}
