package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	commandsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolink",
			Subsystem: "queue",
			Name:      "commands_total",
			Help:      "Number of moderation commands durably enqueued.",
		}, []string{"guild", "kind"},
	)
	commandsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolink",
			Subsystem: "queue",
			Name:      "delivered_total",
			Help:      "Number of queued commands handed to a polling game server.",
		}, []string{"guild", "kind"},
	)
	pushPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolink",
			Subsystem: "push",
			Name:      "publishes_total",
			Help:      "Instant-push publish attempts by outcome.",
		}, []string{"guild", "outcome"},
	)
	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolink",
			Subsystem: "poll",
			Name:      "requests_total",
			Help:      "Poll requests received from game servers.",
		}, []string{"guild"},
	)
	sweepDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolink",
			Subsystem: "presence",
			Name:      "sweep_deleted_total",
			Help:      "Stale server rows removed by the presence sweep.",
		},
	)
	liveServers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rolink",
			Subsystem: "presence",
			Name:      "live_servers",
			Help:      "Live game servers last observed per guild.",
		}, []string{"guild"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{commandsQueued, commandsDelivered, pushPublishes, polls, sweepDeleted, liveServers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncQueued(guild, kind string) {
	if regOK.Load() {
		commandsQueued.WithLabelValues(guild, kind).Inc()
	}
}

func IncDelivered(guild, kind string) {
	if regOK.Load() {
		commandsDelivered.WithLabelValues(guild, kind).Inc()
	}
}

func IncPush(guild, outcome string) {
	if regOK.Load() {
		pushPublishes.WithLabelValues(guild, outcome).Inc()
	}
}

func IncPoll(guild string) {
	if regOK.Load() {
		polls.WithLabelValues(guild).Inc()
	}
}

func SweepDeleted(n int64) {
	if regOK.Load() && n > 0 {
		sweepDeleted.Add(float64(n))
	}
}

func SetLiveServers(guild string, n int) {
	if regOK.Load() {
		liveServers.WithLabelValues(guild).Set(float64(n))
	}
}
