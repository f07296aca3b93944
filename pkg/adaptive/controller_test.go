package adaptive

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zen-systems/dualtrack/pkg/monitor"
)

func newTestController(mode Mode, mon *monitor.Monitor) (*Controller, *Store) {
	store := NewStore(DefaultState(mode, 0.05))
	c := NewController(ControllerConfig{Mode: mode, Tick: time.Hour, MinExploration: 0.05}, store, mon, nil)
	return c, store
}

func TestTickShiftsBiasTowardBetterTrack(t *testing.T) {
	mon := monitor.New(50)
	// Remote succeeds quickly, local keeps failing.
	for i := 0; i < 10; i++ {
		mon.Record(monitor.Sample{Track: monitor.TrackLocal, Success: false, ErrorKind: "model_load", Latency: 900 * time.Millisecond})
		mon.Record(monitor.Sample{Track: monitor.TrackRemote, Success: true, Quality: 1, Latency: 300 * time.Millisecond})
	}

	c, store := newTestController(ModeBalanced, mon)
	before := store.Snapshot().RoutingBias
	c.Tick()
	after := store.Snapshot().RoutingBias
	if after <= before {
		t.Fatalf("expected bias to move toward remote, got %.2f -> %.2f", before, after)
	}
}

func TestTickLeavesSnapshotImmutable(t *testing.T) {
	mon := monitor.New(50)
	mon.Record(monitor.Sample{Track: monitor.TrackLocal, Success: true, Quality: 1})
	mon.Record(monitor.Sample{Track: monitor.TrackRemote, Success: false, ErrorKind: "network"})

	c, store := newTestController(ModeBalanced, mon)
	before := store.Snapshot()
	beforeBias := before.RoutingBias
	c.Tick()
	if before.RoutingBias != beforeBias {
		t.Fatalf("old snapshot mutated in place")
	}
	if store.Snapshot() == before {
		t.Fatalf("expected a fresh snapshot after tick")
	}
}

func TestExplorationFloorCapsBias(t *testing.T) {
	mon := monitor.New(50)
	for i := 0; i < 10; i++ {
		mon.Record(monitor.Sample{Track: monitor.TrackLocal, Success: false, ErrorKind: "timeout", Latency: 2 * time.Second})
		mon.Record(monitor.Sample{Track: monitor.TrackRemote, Success: true, Quality: 1, Latency: 100 * time.Millisecond})
	}

	c, store := newTestController(ModeBalanced, mon)
	for i := 0; i < 50; i++ {
		c.Tick()
	}

	bias := store.Snapshot().RoutingBias
	limit := 1.0 - 0.05
	if bias > limit+1e-9 {
		t.Fatalf("bias %.3f exceeds exploration limit %.3f", bias, limit)
	}
	if math.Abs(bias-limit) > 1e-9 {
		t.Fatalf("expected bias to saturate at %.3f, got %.3f", limit, bias)
	}
}

func TestTimeoutMultiplierWidensAndDecays(t *testing.T) {
	mon := monitor.New(50)
	for i := 0; i < 10; i++ {
		mon.Record(monitor.Sample{Track: monitor.TrackLocal, Success: false, ErrorKind: "timeout"})
	}

	c, store := newTestController(ModeBalanced, mon)
	c.Tick()
	widened := store.Snapshot().LocalTimeoutMult
	if widened <= 1.0 {
		t.Fatalf("expected local timeout multiplier above 1.0, got %.2f", widened)
	}

	// A healthy window decays the multiplier back toward 1.0.
	healthy := monitor.New(50)
	for i := 0; i < 10; i++ {
		healthy.Record(monitor.Sample{Track: monitor.TrackLocal, Success: true, Quality: 1})
	}
	c2 := NewController(ControllerConfig{Mode: ModeBalanced, Tick: time.Hour, MinExploration: 0.05}, store, healthy, nil)
	c2.Tick()
	decayed := store.Snapshot().LocalTimeoutMult
	if decayed >= widened {
		t.Fatalf("expected multiplier to decay, got %.2f -> %.2f", widened, decayed)
	}
}

func TestModeChangesScoring(t *testing.T) {
	mon := monitor.New(50)
	// Local: free but slow. Remote: fast but costly.
	for i := 0; i < 10; i++ {
		mon.Record(monitor.Sample{Track: monitor.TrackLocal, Success: true, Quality: 1, Latency: 2 * time.Second})
		mon.Record(monitor.Sample{Track: monitor.TrackRemote, Success: true, Quality: 1, Latency: 100 * time.Millisecond, CostUSD: 0.05})
	}

	cLatency, storeLatency := newTestController(ModeLatency, mon)
	cLatency.Tick()
	if storeLatency.Snapshot().RoutingBias <= 0 {
		t.Fatalf("latency mode should favor remote, bias %.2f", storeLatency.Snapshot().RoutingBias)
	}

	cCost, storeCost := newTestController(ModeCost, mon)
	cCost.Tick()
	if storeCost.Snapshot().RoutingBias >= 0 {
		t.Fatalf("cost mode should favor local, bias %.2f", storeCost.Snapshot().RoutingBias)
	}
}

func TestStatePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store := NewStore(DefaultState(ModeLatency, 0.05))
	next := *store.Snapshot()
	next.RoutingBias = 0.4
	next.LocalTimeoutMult = 1.3
	store.Publish(&next)

	if err := store.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.RoutingBias != 0.4 || loaded.LocalTimeoutMult != 1.3 || loaded.Mode != ModeLatency {
		t.Fatalf("unexpected restored state: %+v", loaded)
	}
}

func TestLoadStateRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "routing_bias": 0.5}`), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadState(path); err == nil {
		t.Fatalf("expected version rejection")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("latency") != ModeLatency {
		t.Fatalf("latency mode not parsed")
	}
	if ParseMode("nonsense") != ModeBalanced {
		t.Fatalf("unknown mode should default to balanced")
	}
}

func TestStopWithoutStartReturns(t *testing.T) {
	mon := monitor.New(10)
	c, _ := newTestController(ModeBalanced, mon)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked when Start was never called")
	}
}

func TestStopAfterStartWaitsForLoop(t *testing.T) {
	mon := monitor.New(10)
	c, _ := newTestController(ModeBalanced, mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Start")
	}
}
