package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

const namespace = "lms"

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	writeLatency  *prometheus.HistogramVec
	writeOutcomes *prometheus.CounterVec

	gradingOutcomes  *prometheus.CounterVec
	graderLatency    *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	regradingTasks   *prometheus.CounterVec
	completionEvals  *prometheus.CounterVec
	certificates     *prometheus.CounterVec
	oauthTokens      *prometheus.CounterVec
	dpopReplays      prometheus.Counter
	emailDeliveries  *prometheus.CounterVec
	rollupRows       *prometheus.CounterVec
	visitsRecorded   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	workerRuns       *prometheus.CounterVec
	workerLatency    *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	redisUp          prometheus.Gauge
	redisPing        prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Seconds("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
}

// Init builds the process-wide collectors. It returns nil when metrics are
// disabled; every method is safe on a nil receiver.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	latency := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds",
			Help: "API request latency in seconds by method/route/status.", Buckets: latency,
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_inflight_requests", Help: "In-flight API requests.",
		}),
		writeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "write_duration_seconds",
			Help: "Transactional write latency by operation/status.", Buckets: latency,
		}, []string{"op", "status"}),
		writeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "write_outcomes_total",
			Help: "Conflict and retryable outcomes of transactional writes.",
		}, []string{"op", "outcome"}),
		gradingOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "gradings_total",
			Help: "Gradings by exercise type and outcome.",
		}, []string{"exercise_type", "outcome"}),
		graderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "grader_request_duration_seconds",
			Help: "Remote grader call latency by exercise type/status.", Buckets: latency,
		}, []string{"exercise_type", "status"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grader_breaker_state",
			Help: "Grader circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"exercise_type"}),
		regradingTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "regrading_tasks_total",
			Help: "Regrading task submissions processed by outcome.",
		}, []string{"outcome"}),
		completionEvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "module_completion_evaluations_total",
			Help: "Automatic module completion evaluations by result.",
		}, []string{"result"}),
		certificates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "certificates_total",
			Help: "Certificate generation attempts by status.",
		}, []string{"status"}),
		oauthTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "oauth_tokens_issued_total",
			Help: "Tokens issued by grant type and token type.",
		}, []string{"grant_type", "token_type"}),
		dpopReplays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oauth_dpop_replays_total",
			Help: "DPoP proofs rejected because their jti was already seen.",
		}),
		emailDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "email_deliveries_total",
			Help: "Email delivery attempts by outcome.",
		}, []string{"outcome"}),
		rollupRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "visit_rollup_rows_total",
			Help: "Rows upserted by the daily page visit roll-up, by summary.",
		}, []string{"summary"}),
		visitsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "page_visits_total",
			Help: "Page visits recorded, by whether the visitor is a bot.",
		}, []string{"bot"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Cache lookups by cache name and result.",
		}, []string{"cache", "result"}),
		workerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_runs_total",
			Help: "Background worker ticks by worker and status.",
		}, []string{"worker", "status"}),
		workerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "worker_run_duration_seconds",
			Help: "Background worker tick latency.", Buckets: latency,
		}, []string{"worker"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Outstanding rows per work queue.",
		}, []string{"queue"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up", Help: "Whether the last redis ping succeeded.",
		}),
		redisPing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_ping_seconds", Help: "Latency of the last redis ping.",
		}),
	}
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func orUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if status == "" {
		status = "0"
	}
	route = orUnknown(route)
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveWrite(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.writeLatency.WithLabelValues(orUnknown(op), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncWriteOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.writeOutcomes.WithLabelValues(orUnknown(op), orUnknown(outcome)).Inc()
}

func (m *Metrics) IncGrading(exerciseType, outcome string) {
	if m == nil {
		return
	}
	m.gradingOutcomes.WithLabelValues(orUnknown(exerciseType), orUnknown(outcome)).Inc()
}

func (m *Metrics) ObserveGraderCall(exerciseType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.graderLatency.WithLabelValues(orUnknown(exerciseType), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) SetBreakerState(exerciseType string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(orUnknown(exerciseType)).Set(float64(state))
}

func (m *Metrics) IncRegradingTask(outcome string) {
	if m == nil {
		return
	}
	m.regradingTasks.WithLabelValues(orUnknown(outcome)).Inc()
}

func (m *Metrics) IncCompletionEvaluation(result string) {
	if m == nil {
		return
	}
	m.completionEvals.WithLabelValues(orUnknown(result)).Inc()
}

func (m *Metrics) IncCertificate(status string) {
	if m == nil {
		return
	}
	m.certificates.WithLabelValues(orUnknown(status)).Inc()
}

func (m *Metrics) IncTokenIssued(grantType, tokenType string) {
	if m == nil {
		return
	}
	m.oauthTokens.WithLabelValues(orUnknown(grantType), orUnknown(tokenType)).Inc()
}

func (m *Metrics) IncDPoPReplay() {
	if m == nil {
		return
	}
	m.dpopReplays.Inc()
}

func (m *Metrics) IncEmailDelivery(outcome string) {
	if m == nil {
		return
	}
	m.emailDeliveries.WithLabelValues(orUnknown(outcome)).Inc()
}

func (m *Metrics) AddRollupRows(summary string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rollupRows.WithLabelValues(orUnknown(summary)).Add(float64(n))
}

func (m *Metrics) IncVisit(bot bool) {
	if m == nil {
		return
	}
	label := "false"
	if bot {
		label = "true"
	}
	m.visitsRecorded.WithLabelValues(label).Inc()
}

func (m *Metrics) IncCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(orUnknown(cache), result).Inc()
}

func (m *Metrics) ObserveWorker(worker, status string, dur time.Duration) {
	if m == nil {
		return
	}
	worker = orUnknown(worker)
	m.workerRuns.WithLabelValues(worker, orUnknown(status)).Inc()
	m.workerLatency.WithLabelValues(worker).Observe(dur.Seconds())
}

// StartPostgresCollector registers database/sql pool statistics.
func (m *Metrics) StartPostgresCollector(log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		if log != nil {
			log.Warn("metrics: postgres stats unavailable", "error", err)
		}
		return
	}
	if err := m.registry.Register(collectors.NewDBStatsCollector(sqlDB, "lms")); err != nil && log != nil {
		log.Warn("metrics: register postgres collector failed", "error", err)
	}
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// queueQueries count outstanding work per queue.
var queueQueries = map[string]string{
	"gradings_pending": `SELECT count(*) FROM exercise_task_gradings WHERE deleted_at IS NULL AND grading_progress = 'Pending'`,
	"regradings_open":  `SELECT count(*) FROM regradings WHERE deleted_at IS NULL AND regrading_completed_at IS NULL`,
	"emails_due":       `SELECT count(*) FROM email_deliveries WHERE deleted_at IS NULL AND sent = false AND retryable = true`,
}

func (m *Metrics) StartQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for queue, q := range queueQueries {
					var n int64
					if err := db.WithContext(ctx).Raw(q).Scan(&n).Error; err != nil {
						if log != nil {
							log.Warn("metrics: queue depth query failed", "queue", queue, "error", err)
						}
						continue
					}
					m.queueDepth.WithLabelValues(queue).Set(float64(n))
				}
			}
		}
	}()
}
