package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/resp-kv-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_rejected_total",
		Help: "Total connection attempts rejected by admission control.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connections_active",
		Help: "Current number of open client connections.",
	})
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Total commands executed, by command name.",
	}, []string{"command"})
	StoreKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_keys",
		Help: "Current number of keys held by the store.",
	})
	StoreKeysExpiring = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "store_keys_expiring",
		Help: "Current number of keys carrying a TTL.",
	})
	StoreExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "store_expirations_total",
		Help: "Total keys reclaimed by the expiration sweeper.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead   = "tcp_read"
	ErrTCPWrite  = "tcp_write"
	ErrProtocol  = "protocol"
	ErrAdmission = "admission"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at
// /ready on a new mux, listening on addr in a background goroutine.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localAccepted  uint64
	localRejected  uint64
	localActive    uint64
	localErrors    uint64
	localMalformed uint64
	localExpired   uint64
	localStoreKeys uint64
	localExpiring  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Accepted  uint64
	Rejected  uint64
	Active    uint64
	Errors    uint64 // sum across error labels
	Malformed uint64
	Expired   uint64
	StoreKeys uint64
	Expiring  uint64
}

func Snap() Snapshot {
	return Snapshot{
		Accepted:  atomic.LoadUint64(&localAccepted),
		Rejected:  atomic.LoadUint64(&localRejected),
		Active:    atomic.LoadUint64(&localActive),
		Errors:    atomic.LoadUint64(&localErrors),
		Malformed: atomic.LoadUint64(&localMalformed),
		Expired:   atomic.LoadUint64(&localExpired),
		StoreKeys: atomic.LoadUint64(&localStoreKeys),
		Expiring:  atomic.LoadUint64(&localExpiring),
	}
}

// Wrapper helpers to keep call sites simple.
func IncConnectionAccepted() {
	ConnectionsAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncConnectionRejected() {
	ConnectionsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func SetConnectionsActive(n int) {
	ConnectionsActive.Set(float64(n))
	atomic.StoreUint64(&localActive, uint64(n))
}

func IncCommand(name string) {
	CommandsTotal.WithLabelValues(name).Inc()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func AddExpirations(n int) {
	StoreExpirations.Add(float64(n))
	atomic.AddUint64(&localExpired, uint64(n))
}

// SetStoreStats records a snapshot of key count and TTL'd key count.
func SetStoreStats(keys, expiring int) {
	StoreKeys.Set(float64(keys))
	StoreKeysExpiring.Set(float64(expiring))
	atomic.StoreUint64(&localStoreKeys, uint64(keys))
	atomic.StoreUint64(&localExpiring, uint64(expiring))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrProtocol, ErrAdmission} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
