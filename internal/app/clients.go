package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/videoreview-backend/internal/analysis"
	"github.com/yungbote/videoreview-backend/internal/data/db"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
	"github.com/yungbote/videoreview-backend/internal/platform/blob"
	"github.com/yungbote/videoreview-backend/internal/platform/gcp"
	"github.com/yungbote/videoreview-backend/internal/platform/localmedia"
	"github.com/yungbote/videoreview-backend/internal/realtime/bus"
	"github.com/yungbote/videoreview-backend/internal/temporalx"
)

type Clients struct {
	DB       *db.Service
	Blob     blob.Store
	Media    localmedia.Tools
	Bus      bus.Bus
	Temporal temporalsdkclient.Client
	Model    analysis.ModelClients
}

func wireClients(log *logger.Logger, cfg Config) (c Clients, err error) {
	log.Info("Wiring clients...")
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.DB, err = db.NewFromEnv(log); err != nil {
		return c, fmt.Errorf("init database: %w", err)
	}
	if err = c.DB.AutoMigrateAll(); err != nil {
		return c, fmt.Errorf("automigrate: %w", err)
	}

	switch cfg.Storage {
	case StorageGCS:
		bcfg, cerr := gcp.BucketConfigFromEnv()
		if cerr != nil {
			return c, fmt.Errorf("bucket config: %w", cerr)
		}
		if c.Blob, err = gcp.NewBucketStore(log, bcfg); err != nil {
			return c, fmt.Errorf("init bucket store: %w", err)
		}
	default:
		if c.Blob, err = blob.NewLocalStore(log, cfg.LocalBlobDir); err != nil {
			return c, fmt.Errorf("init local blob store: %w", err)
		}
	}

	c.Media = localmedia.New(log)

	if cfg.Redis.Addr != "" {
		if c.Bus, err = bus.NewRedisBus(log, cfg.Redis); err != nil {
			return c, fmt.Errorf("init redis bus: %w", err)
		}
	}

	// The API role needs the client to start workflows, the worker role to poll.
	if c.Temporal, err = temporalx.NewClient(log, cfg.Temporal); err != nil {
		return c, fmt.Errorf("init temporal client: %w", err)
	}

	if cfg.RunsJobs() && cfg.Analysis.Detector == analysis.DetectorModel {
		if cfg.Storage == StorageGCS {
			if c.Model.Tracker, err = gcp.NewObjectTracker(log); err != nil {
				return c, fmt.Errorf("init object tracker: %w", err)
			}
		} else {
			log.Warn("object tracking needs gs:// videos; BLOB_STORAGE is local so only per-frame localization runs")
		}
		if c.Model.Localizer, err = gcp.NewObjectLocalizer(log); err != nil {
			return c, fmt.Errorf("init object localizer: %w", err)
		}
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Model.Tracker != nil {
		_ = c.Model.Tracker.Close()
	}
	if c.Model.Localizer != nil {
		_ = c.Model.Localizer.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
