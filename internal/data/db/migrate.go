package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// =========================
		// Videos + analysis output
		// =========================
		&types.Video{},
		&types.Frame{},
		&types.DetectedObject{},
		&types.Event{},

		// =========================
		// Jobs
		// =========================
		&types.JobRun{},
	)
}

// EnsureVideoIndexes adds the composite indexes the status and listing queries lean on.
func EnsureVideoIndexes(db *gorm.DB) error {
	stmts := map[string]string{
		"idx_videos_user_status_created": `
			CREATE INDEX IF NOT EXISTS idx_videos_user_status_created
			ON videos (user_id, status, created_at);`,
		"idx_events_video_violation": `
			CREATE INDEX IF NOT EXISTS idx_events_video_violation
			ON events (video_id, is_violation, start_time);`,
		"idx_frames_video_timestamp": `
			CREATE INDEX IF NOT EXISTS idx_frames_video_timestamp
			ON video_frames (video_id, generation, timestamp);`,
		"idx_job_run_entity_status": `
			CREATE INDEX IF NOT EXISTS idx_job_run_entity_status
			ON job_run (entity_type, entity_id, job_type, status);`,
	}
	for name, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...", "dialect", s.dialect)
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureVideoIndexes(s.db); err != nil {
		s.log.Error("Video index migration failed", "error", err)
		return err
	}
	return nil
}
