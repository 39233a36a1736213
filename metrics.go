package sockfd

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "sockfd"

const (
	unblockDisconnect = "disconnect"
	unblockShutdown   = "shutdown"
)

var (
	liveHandles = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "live_handles",
		Help:      "Number of owning handles that have not been closed",
	})
	closeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "close_results_total",
		Help:      "Outcomes of the close protocol by intent and classified result",
	}, []string{"abortive", "code", "remapped"})
	closeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "close_duration_seconds",
		Help:      "Time spent disposing a handle, including waiting for in-flight operations",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	})
	unblockActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "unblock_actions_total",
		Help:      "Unblocking calls issued against in-flight operations",
	}, []string{"action"})
)

// RegisterMetrics registers the package's collectors with r.
// Collectors that are already registered with r are skipped.
func RegisterMetrics(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{liveHandles, closeResults, closeDuration, unblockActions} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeClose(abortive bool, r Result, d time.Duration) {
	closeResults.WithLabelValues(strconv.FormatBool(abortive), r.Code.String(), strconv.FormatBool(r.Remapped)).Inc()
	closeDuration.Observe(d.Seconds())
}

func observeUnblock(action string) {
	unblockActions.WithLabelValues(action).Inc()
}
