// Package metrics holds the Prometheus collectors shared by the display
// client's components. Every method is safe to call on a nil *Collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentworkforce/hearthboard/internal/model"
)

const namespace = "hearthboard"

type Collectors struct {
	connectionStatus *prometheus.GaugeVec
	reconnects       prometheus.Counter
	deltasApplied    *prometheus.CounterVec
	deltasDropped    *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	entities         *prometheus.GaugeVec
	lastUpdated      prometheus.Gauge
	heartbeats       *prometheus.CounterVec
	healthFailures   prometheus.Gauge
	memoryBytes      prometheus.Gauge
	restarts         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		connectionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "Change-feed connection status, one-hot by status label",
		}, []string{"status"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled change-feed reconnect attempts",
		}),
		deltasApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_applied_total",
			Help:      "Change-feed deltas applied to the state store",
		}, []string{"entity", "op"}),
		deltasDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_dropped_total",
			Help:      "Change-feed messages dropped before reaching the store",
		}, []string{"reason"}),
		snapshots: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_loads_total",
			Help:      "Snapshot loads by entity and result",
		}, []string{"entity", "result"}),
		entities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_entities",
			Help:      "Entities held in the state store",
		}, []string{"entity"}),
		lastUpdated: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_last_updated_seconds",
			Help:      "Unix time of the last store transition",
		}),
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat posts by result",
		}, []string{"result"}),
		healthFailures: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_consecutive_failures",
			Help:      "Consecutive failed health checks",
		}),
		memoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_sample_bytes",
			Help:      "Most recent process memory sample",
		}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Recovery restarts requested by reason",
		}, []string{"reason"}),
	}
}

func (c *Collectors) SetConnectionStatus(status model.ConnectionStatus) {
	if c == nil {
		return
	}
	for _, s := range model.ConnectionStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		c.connectionStatus.WithLabelValues(string(s)).Set(value)
	}
}

func (c *Collectors) ReconnectScheduled() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

func (c *Collectors) DeltaApplied(entity model.EntityType, op string) {
	if c == nil {
		return
	}
	c.deltasApplied.WithLabelValues(string(entity), op).Inc()
}

func (c *Collectors) DeltaDropped(reason string) {
	if c == nil {
		return
	}
	c.deltasDropped.WithLabelValues(reason).Inc()
}

func (c *Collectors) SnapshotLoaded(entity model.EntityType, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.snapshots.WithLabelValues(string(entity), result).Inc()
}

func (c *Collectors) StoreChanged(counts map[model.EntityType]int, lastUpdated time.Time) {
	if c == nil {
		return
	}
	for entity, n := range counts {
		c.entities.WithLabelValues(string(entity)).Set(float64(n))
	}
	if !lastUpdated.IsZero() {
		c.lastUpdated.Set(float64(lastUpdated.UnixNano()) / 1e9)
	}
}

func (c *Collectors) Heartbeat(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.heartbeats.WithLabelValues(result).Inc()
}

func (c *Collectors) HealthFailures(n int) {
	if c == nil {
		return
	}
	c.healthFailures.Set(float64(n))
}

func (c *Collectors) MemorySample(bytes uint64) {
	if c == nil {
		return
	}
	c.memoryBytes.Set(float64(bytes))
}

func (c *Collectors) Restart(reason string) {
	if c == nil {
		return
	}
	c.restarts.WithLabelValues(reason).Inc()
}
