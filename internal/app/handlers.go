package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/videoreview-backend/internal/http"
	httpH "github.com/yungbote/videoreview-backend/internal/http/handlers"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Video    *httpH.VideoHandler
	Analysis *httpH.AnalysisHandler
	Event    *httpH.EventHandler
	Job      *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, cfg Config, s Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Video:    httpH.NewVideoHandler(log, s.Video, cfg.Upload),
		Analysis: httpH.NewAnalysisHandler(s.Analysis),
		Event:    httpH.NewEventHandler(s.Events),
		Job:      httpH.NewJobHandler(s.Jobs),
	}
}

func wireServer(log *logger.Logger, cfg Config, h Handlers, m *observability.Metrics) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		ServiceName:     cfg.Otel.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         m,
		VideoHandler:    h.Video,
		AnalysisHandler: h.Analysis,
		EventHandler:    h.Event,
		JobHandler:      h.Job,
		HealthHandler:   h.Health,
	})
}
