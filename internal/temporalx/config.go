package temporalx

import (
	"strings"
	"time"

	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout           time.Duration
	DialMaxWait           time.Duration
	AutoRegisterNamespace bool
	RetentionDays         int
}

func ConfigFromEnv() Config {
	return Config{
		Address:   strings.TrimSpace(envutil.String("TEMPORAL_ADDRESS", "")),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "videoreview"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "video-analysis"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		DialTimeout:           envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5*time.Second),
		DialMaxWait:           envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60*time.Second),
		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:         envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7),
	}
}

// Enabled reports whether jobs should be dispatched through Temporal instead of the DB poller.
func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) hasTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
