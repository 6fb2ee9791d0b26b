package repos

import (
	"github.com/yungbote/videoreview-backend/internal/data/repos/jobs"
	"github.com/yungbote/videoreview-backend/internal/data/repos/videos"
)

type VideoRepo = videos.VideoRepo
type FrameRepo = videos.FrameRepo
type DetectedObjectRepo = videos.DetectedObjectRepo
type EventRepo = videos.EventRepo
type JobRunRepo = jobs.JobRunRepo

type VideoFilter = videos.VideoFilter
type EventFilter = videos.EventFilter
type EventCounts = videos.EventCounts

var (
	NewVideoRepo          = videos.NewVideoRepo
	NewFrameRepo          = videos.NewFrameRepo
	NewDetectedObjectRepo = videos.NewDetectedObjectRepo
	NewEventRepo          = videos.NewEventRepo
	NewJobRunRepo         = jobs.NewJobRunRepo
)
