package domain

import (
	"github.com/yungbote/videoreview-backend/internal/domain/jobs"
	"github.com/yungbote/videoreview-backend/internal/domain/videos"
)

const (
	VideoStatusUploaded   = videos.VideoStatusUploaded
	VideoStatusProcessing = videos.VideoStatusProcessing
	VideoStatusCompleted  = videos.VideoStatusCompleted
	VideoStatusFailed     = videos.VideoStatusFailed

	SeverityInfo      = videos.SeverityInfo
	SeverityWarning   = videos.SeverityWarning
	SeverityViolation = videos.SeverityViolation
	SeverityCritical  = videos.SeverityCritical

	JobStatusQueued    = jobs.JobStatusQueued
	JobStatusRunning   = jobs.JobStatusRunning
	JobStatusSucceeded = jobs.JobStatusSucceeded
	JobStatusFailed    = jobs.JobStatusFailed
	JobStatusCanceled  = jobs.JobStatusCanceled

	JobTypeVideoAnalyze = jobs.JobTypeVideoAnalyze
	EntityTypeVideo     = jobs.EntityTypeVideo
)

type Video = videos.Video
type Frame = videos.Frame
type DetectedObject = videos.DetectedObject
type Event = videos.Event

type JobRun = jobs.JobRun

var IsSeverity = videos.IsSeverity
