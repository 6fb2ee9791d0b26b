package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/videoreview-backend/internal/data/repos"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type Repos struct {
	Video          repos.VideoRepo
	Frame          repos.FrameRepo
	DetectedObject repos.DetectedObjectRepo
	Event          repos.EventRepo
	JobRun         repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Video:          repos.NewVideoRepo(db, log),
		Frame:          repos.NewFrameRepo(db, log),
		DetectedObject: repos.NewDetectedObjectRepo(db, log),
		Event:          repos.NewEventRepo(db, log),
		JobRun:         repos.NewJobRunRepo(db, log),
	}
}
