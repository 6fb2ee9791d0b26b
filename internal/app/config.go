package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	"github.com/yungbote/videoreview-backend/internal/http/middleware"
	"github.com/yungbote/videoreview-backend/internal/jobs/worker"
	"github.com/yungbote/videoreview-backend/internal/observability"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/realtime/bus"
	"github.com/yungbote/videoreview-backend/internal/services"
	"github.com/yungbote/videoreview-backend/internal/temporalx"
)

const (
	RoleAll    = "all"
	RoleAPI    = "api"
	RoleWorker = "worker"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Config is everything the process reads from the environment at startup.
type Config struct {
	Role        string
	Addr        string
	CORSOrigins []string

	Storage      string
	LocalBlobDir string

	Upload   services.UploadConfig
	Analysis analysis.Config
	Worker   worker.Config
	Temporal temporalx.Config
	Redis    bus.RedisConfig
	Otel     observability.OtelConfig
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Role:         strings.ToLower(envutil.String("APP_ROLE", RoleAll)),
		Addr:         envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins:  middleware.ParseOrigins(envutil.String("CORS_ORIGINS", "")),
		Storage:      strings.ToLower(envutil.String("BLOB_STORAGE", StorageLocal)),
		LocalBlobDir: envutil.String("LOCAL_BLOB_DIR", "./data/blobs"),
		Upload:       services.UploadConfigFromEnv(),
		Analysis:     analysis.ConfigFromEnv(),
		Worker:       worker.ConfigFromEnv(),
		Temporal:     temporalx.ConfigFromEnv(),
		Redis:        bus.RedisConfigFromEnv(),
		Otel:         observability.OtelConfigFromEnv(),
	}
	switch cfg.Role {
	case RoleAll, RoleAPI, RoleWorker:
	default:
		return cfg, fmt.Errorf("invalid APP_ROLE %q (allowed: %s, %s, %s)", cfg.Role, RoleAll, RoleAPI, RoleWorker)
	}
	switch cfg.Storage {
	case StorageLocal, StorageGCS:
	default:
		return cfg, fmt.Errorf("invalid BLOB_STORAGE %q (allowed: %s, %s)", cfg.Storage, StorageLocal, StorageGCS)
	}
	return cfg, nil
}

func (c Config) ServesAPI() bool { return c.Role == RoleAll || c.Role == RoleAPI }

func (c Config) RunsJobs() bool { return c.Role == RoleAll || c.Role == RoleWorker }
