package metrics

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_backend_calls_total",
		Help: "Total backend API calls",
	}, []string{"endpoint"})
	BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_backend_errors_total",
		Help: "Total failed backend API calls by HTTP status (0 for transport failures)",
	}, []string{"endpoint", "status"})
	BackendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadlens_backend_duration_seconds",
		Help:    "Backend API call duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "threadlens_operation_duration_seconds",
		Help:    "Duration of caller-facing operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	EmojiEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "threadlens_emoji_cache_entries",
		Help: "Custom emoji entries cached per instance host",
	}, []string{"host"})
	EmojiPopulations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_emoji_populations_total",
		Help: "Emoji cache population attempts by result (ok, skipped, error)",
	}, []string{"result"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_command_runs_total",
		Help: "Total command runs",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadlens_command_errors_total",
		Help: "Total failed command runs",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		BackendCalls, BackendErrors, BackendDuration, APIRetries,
		OperationDuration, EmojiEntries, EmojiPopulations,
		CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
// An empty addr falls back to METRICS_ADDR; if both are empty nothing starts.
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// ObserveBackendCall records one backend round trip. status is 0 for transport failures.
func ObserveBackendCall(endpoint string, start time.Time, status int, failed bool) {
	BackendCalls.WithLabelValues(endpoint).Inc()
	BackendDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if failed {
		BackendErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
}

// ObserveOperation records a caller-facing operation duration.
func ObserveOperation(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	OperationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

func SetEmojiEntries(host string, n int) { EmojiEntries.WithLabelValues(host).Set(float64(n)) }

func IncEmojiPopulation(result string) { EmojiPopulations.WithLabelValues(result).Inc() }

func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
