package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentworkforce/hearthboard/internal/model"
)

func TestConnectionStatusIsOneHot(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.SetConnectionStatus(model.StatusConnected)
	c.SetConnectionStatus(model.StatusReconnecting)

	if got := testutil.ToFloat64(c.connectionStatus.WithLabelValues("reconnecting")); got != 1 {
		t.Fatalf("expected reconnecting=1, got %v", got)
	}
	if got := testutil.ToFloat64(c.connectionStatus.WithLabelValues("connected")); got != 0 {
		t.Fatalf("expected connected=0, got %v", got)
	}
}

func TestCountersRecordResults(t *testing.T) {
	c := New(prometheus.NewRegistry())
	c.Heartbeat(nil)
	c.Heartbeat(errors.New("offline"))
	c.Heartbeat(errors.New("offline"))
	c.DeltaApplied(model.EntityEvents, "UPDATE")
	c.StoreChanged(map[model.EntityType]int{model.EntityEvents: 3}, time.Unix(100, 0))

	if got := testutil.ToFloat64(c.heartbeats.WithLabelValues("error")); got != 2 {
		t.Fatalf("expected 2 failed heartbeats, got %v", got)
	}
	if got := testutil.ToFloat64(c.deltasApplied.WithLabelValues("events", "UPDATE")); got != 1 {
		t.Fatalf("expected 1 applied delta, got %v", got)
	}
	if got := testutil.ToFloat64(c.entities.WithLabelValues("events")); got != 3 {
		t.Fatalf("expected 3 events, got %v", got)
	}
	if got := testutil.ToFloat64(c.lastUpdated); got != 100 {
		t.Fatalf("expected last updated 100, got %v", got)
	}
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.SetConnectionStatus(model.StatusConnected)
	c.Restart("memory")
	c.MemorySample(42)
}
