package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/videoreview-backend/internal/http/handlers"
	httpMW "github.com/yungbote/videoreview-backend/internal/http/middleware"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string
	Metrics     *observability.Metrics

	VideoHandler    *httpH.VideoHandler
	AnalysisHandler *httpH.AnalysisHandler
	EventHandler    *httpH.EventHandler
	JobHandler      *httpH.JobHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "videoreview"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireOwner())
	{
		if cfg.VideoHandler != nil {
			api.POST("/videos", cfg.VideoHandler.Upload)
			api.GET("/videos", cfg.VideoHandler.List)
			api.GET("/videos/:id", cfg.VideoHandler.Get)
			api.PATCH("/videos/:id", cfg.VideoHandler.Update)
			api.DELETE("/videos/:id", cfg.VideoHandler.Delete)
			api.GET("/videos/:id/frames", cfg.VideoHandler.Frames)
			api.GET("/videos/:id/frames/:frame_id/objects", cfg.VideoHandler.FrameObjects)
			api.GET("/videos/:id/events", cfg.VideoHandler.Events)
		}
		if cfg.EventHandler != nil {
			api.POST("/videos/:id/events", cfg.EventHandler.Create)
			api.GET("/events/:id", cfg.EventHandler.Get)
			api.PATCH("/events/:id", cfg.EventHandler.Update)
			api.DELETE("/events/:id", cfg.EventHandler.Delete)
		}
		if cfg.AnalysisHandler != nil {
			api.POST("/videos/:id/analyze", cfg.AnalysisHandler.Analyze)
			api.GET("/videos/:id/status", cfg.AnalysisHandler.Status)
			api.GET("/statistics", cfg.AnalysisHandler.Statistics)
		}
		if cfg.JobHandler != nil {
			api.GET("/jobs/:id", cfg.JobHandler.GetJob)
		}
	}
	return r
}
