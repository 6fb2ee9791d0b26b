package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/videoreview-backend/internal/domain"
	"github.com/yungbote/videoreview-backend/internal/pkg/envutil"
	"github.com/yungbote/videoreview-backend/internal/pkg/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge
	apiReqTotal *Counter
	apiReqError *Counter

	stageLatency  *HistogramVec
	stageTotal    *CounterVec
	analysisRuns  *CounterVec
	framesSampled *Counter
	eventsFound   *Counter

	jobLatency  *HistogramVec
	workerTotal *Counter
	workerError *Counter

	queueDepth *GaugeVec
	pgStats    *GaugeVec
	redisUp    *Gauge
	redisPing  *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current is nil until Init ran with metrics enabled. Every Metrics method is nil-safe.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests: NewCounterVec("vr_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency: NewHistogramVec(
			"vr_api_request_duration_seconds",
			"API request latency in seconds by method/route/status.",
			[]string{"method", "route", "status"},
			[]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		),
		apiInflight: NewGauge("vr_api_inflight_requests", "In-flight API requests."),
		apiReqTotal: NewCounter("vr_api_requests_total_all", "Total API requests (all)."),
		apiReqError: NewCounter("vr_api_requests_error_total", "API requests answered with a 5xx status."),

		stageLatency: NewHistogramVec(
			"vr_analysis_stage_duration_seconds",
			"Analysis stage latency in seconds by stage/status.",
			[]string{"stage", "status"},
			[]float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 900},
		),
		stageTotal:    NewCounterVec("vr_analysis_stage_total", "Analysis stage executions by stage/status.", []string{"stage", "status"}),
		analysisRuns:  NewCounterVec("vr_analysis_runs_total", "Analysis runs by outcome.", []string{"status"}),
		framesSampled: NewCounter("vr_analysis_frames_total", "Frames persisted by analysis runs."),
		eventsFound:   NewCounter("vr_analysis_events_total", "Events recorded by analysis runs."),

		jobLatency: NewHistogramVec(
			"vr_job_duration_seconds",
			"Job handler latency in seconds by job_type/status.",
			[]string{"job_type", "status"},
			[]float64{0.1, 1, 5, 15, 60, 300, 900, 1800, 3600},
		),
		workerTotal: NewCounter("vr_worker_jobs_total", "Jobs executed by this process."),
		workerError: NewCounter("vr_worker_jobs_failed_total", "Jobs that ended failed in this process."),

		queueDepth: NewGaugeVec("vr_job_queue_depth", "job_run rows by status.", []string{"status"}),
		pgStats:    NewGaugeVec("vr_db_pool", "database/sql pool stats.", []string{"stat"}),
		redisUp:    NewGauge("vr_redis_up", "1 when the last redis ping succeeded."),
		redisPing:  NewGauge("vr_redis_ping_seconds", "Latency of the last redis ping."),
	}
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(m.WriteHTTP)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

type promWriter interface {
	WritePrometheus(w io.Writer) error
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, pw := range []promWriter{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiReqTotal, m.apiReqError,
		m.stageLatency, m.stageTotal, m.analysisRuns, m.framesSampled, m.eventsFound,
		m.jobLatency, m.workerTotal, m.workerError,
		m.queueDepth, m.pgStats, m.redisUp, m.redisPing,
	} {
		if err := pw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
	m.apiReqTotal.Inc()
	if isServerErrorStatus(status) {
		m.apiReqError.Inc()
	}
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveAnalysisStage records one pipeline stage; status is "ok" or "error".
func (m *Metrics) ObserveAnalysisStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.stageLatency.Observe(dur.Seconds(), stage, status)
	m.stageTotal.Inc(stage, status)
}

func (m *Metrics) ObserveAnalysisRun(status string, frames int, events int64) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.analysisRuns.Inc(status)
	if frames > 0 {
		m.framesSampled.Add(float64(frames))
	}
	if events > 0 {
		m.eventsFound.Add(float64(events))
	}
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if jobType == "" {
		jobType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.jobLatency.Observe(dur.Seconds(), jobType, status)
	m.workerTotal.Inc()
	if isFailureStatus(status) {
		m.workerError.Inc()
	}
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

// StartRedisCollector pings addr on the scrape interval with its own client.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		defer rdb.Close()
		tick(ctx, scrapeInterval(), func() {
			start := time.Now()
			if err := rdb.Ping(ctx).Err(); err != nil {
				m.redisUp.Set(0)
				if log != nil {
					log.Warn("metrics: redis ping failed", "error", err)
				}
				return
			}
			m.redisUp.Set(1)
			m.redisPing.Set(time.Since(start).Seconds())
		})
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		if err := m.CollectJobQueue(ctx, db); err != nil && log != nil {
			log.Warn("metrics: job queue depth query failed", "error", err)
		}
	})
}

// CollectJobQueue refreshes the queue depth gauges once.
func (m *Metrics) CollectJobQueue(ctx context.Context, db *gorm.DB) error {
	if m == nil || db == nil {
		return nil
	}
	for _, s := range []string{
		types.JobStatusQueued,
		types.JobStatusRunning,
		types.JobStatusSucceeded,
		types.JobStatusFailed,
		types.JobStatusCanceled,
	} {
		m.queueDepth.Set(0, s)
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		status := strings.TrimSpace(row.Status)
		if status == "" {
			status = "unknown"
		}
		m.queueDepth.Set(float64(row.Count), status)
	}
	return nil
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
