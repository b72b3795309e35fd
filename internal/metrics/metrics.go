// Package metrics provides Prometheus instrumentation for claimguard.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claimguard"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ClaimsScoredTotal counts scored claims by risk level.
	ClaimsScoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_scored_total",
			Help:      "Total claims scored by risk level.",
		},
		[]string{"risk_level"},
	)

	// ScoringErrorsTotal counts claims that could not be scored.
	ScoringErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_errors_total",
			Help:      "Total scoring failures by cause.",
		},
		[]string{"cause"},
	)

	// FraudScore observes the distribution of fraud scores.
	FraudScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fraud_score",
		Help:      "Distribution of fraud scores.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// ScoringDuration observes end-to-end scoring latency.
	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scoring_duration_seconds",
		Help:      "Time to score one claim in seconds.",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})

	// AlertsPublishedTotal counts alerts sent to the event bus.
	AlertsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_published_total",
		Help:      "Total fraud alerts published.",
	})

	// ModelLoaded is 1 while an anomaly model is active.
	ModelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_loaded",
		Help:      "Whether an anomaly model is loaded (1) or not (0).",
	})

	// HistoryEntities tracks the number of entities held in memory.
	HistoryEntities = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_entities",
		Help:      "Entities tracked by the in-memory history store.",
	}, []string{"kind"})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ClaimsScoredTotal,
		ScoringErrorsTotal,
		FraudScore,
		ScoringDuration,
		AlertsPublishedTotal,
		ModelLoaded,
		HistoryEntities,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Recorder receives scoring outcomes. It satisfies the scoring engine's
// observer hook.
type Recorder struct{}

// ClaimScored records a successful scoring.
func (Recorder) ClaimScored(riskLevel string, score float64, d time.Duration) {
	ClaimsScoredTotal.WithLabelValues(riskLevel).Inc()
	FraudScore.Observe(score)
	ScoringDuration.Observe(d.Seconds())
}

// ScoringFailed records a failed scoring.
func (Recorder) ScoringFailed(cause string) {
	ScoringErrorsTotal.WithLabelValues(cause).Inc()
}

// StatsFunc reports the number of tracked beneficiaries and shops.
type StatsFunc func() (beneficiaries, shops int)

// StartCollector periodically samples history size, database pool stats,
// and the goroutine count. db may be nil. Call in a goroutine; exits when
// ctx is done.
func StartCollector(ctx context.Context, stats StatsFunc, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collect(stats, db)
		}
	}
}

func collect(stats StatsFunc, db *sql.DB) {
	if stats != nil {
		b, s := stats()
		HistoryEntities.WithLabelValues("beneficiary").Set(float64(b))
		HistoryEntities.WithLabelValues("shop").Set(float64(s))
	}
	if db != nil {
		st := db.Stats()
		DBOpenConnections.Set(float64(st.OpenConnections))
		DBInUseConnections.Set(float64(st.InUse))
	}
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware records request metrics keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		// route pattern, not raw path, to bound label cardinality
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(rw.status)).Inc()
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
