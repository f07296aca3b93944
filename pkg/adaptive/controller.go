package adaptive

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zen-systems/dualtrack/pkg/monitor"
	"github.com/zen-systems/dualtrack/pkg/resource"
)

const (
	biasStep    = 0.1
	biasMax     = 1.0
	timeoutMin  = 0.5
	timeoutMax  = 2.0
	timeoutStep = 0.1
)

// ControllerConfig configures the adaptive controller.
type ControllerConfig struct {
	Mode           Mode
	Tick           time.Duration
	MinExploration float64
	StatePath      string
	Debug          bool
}

// Controller periodically reads performance summaries and resource
// signals and publishes a retuned adaptive state.
type Controller struct {
	cfg     ControllerConfig
	store   *Store
	monitor *monitor.Monitor
	guard   *resource.Guard

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewController creates a controller bound to a store, monitor, and guard.
func NewController(cfg ControllerConfig, store *Store, mon *monitor.Monitor, guard *resource.Guard) *Controller {
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Second
	}
	if cfg.MinExploration <= 0 {
		cfg.MinExploration = 0.05
	}
	return &Controller{
		cfg:     cfg,
		store:   store,
		monitor: mon,
		guard:   guard,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the tick loop. A persisted snapshot, if configured and
// readable, seeds the store before the first tick.
func (c *Controller) Start(ctx context.Context) {
	if c.cfg.StatePath != "" {
		if state, err := LoadState(c.cfg.StatePath); err == nil {
			state.Mode = c.cfg.Mode
			c.store.Publish(state)
			if c.cfg.Debug {
				log.Printf("[adaptive] restored state bias=%.2f", state.RoutingBias)
			}
		}
	}

	c.started.Store(true)
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Tick()
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the loop and persists the final state when configured. Safe
// to call when Start never ran.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
		if c.cfg.StatePath != "" {
			if err := c.store.Save(c.cfg.StatePath); err != nil {
				log.Printf("[adaptive] failed to persist state: %v", err)
			}
		}
	})
}

// Tick performs one adjustment cycle. Exported so request-count-based
// callers and tests can drive the controller directly.
func (c *Controller) Tick() {
	summary := c.monitor.Summary()
	var violations []resource.Violation
	if c.guard != nil {
		violations = c.guard.Violations()
	}

	cur := c.store.Snapshot()
	next := c.retune(cur, summary, violations)
	c.store.Publish(next)

	if c.cfg.Debug {
		log.Printf("[adaptive] bias=%.2f localMult=%.2f remoteMult=%.2f violations=%v",
			next.RoutingBias, next.LocalTimeoutMult, next.RemoteTimeoutMult, violations)
	}
}

// retune computes the next snapshot without mutating the current one.
func (c *Controller) retune(cur *State, summary map[monitor.TrackKind]monitor.TrackSummary, violations []resource.Violation) *State {
	next := *cur
	next.Mode = c.cfg.Mode
	next.Exploration = c.cfg.MinExploration

	local, haveLocal := summary[monitor.TrackLocal]
	remote, haveRemote := summary[monitor.TrackRemote]

	if haveLocal && haveRemote && local.Count > 0 && remote.Count > 0 {
		localScore := c.trackScore(local)
		remoteScore := c.trackScore(remote)
		switch {
		case remoteScore > localScore:
			next.RoutingBias += biasStep
		case localScore > remoteScore:
			next.RoutingBias -= biasStep
		}
	}

	// Resource pressure shifts load off the device regardless of scores.
	for _, v := range violations {
		switch v {
		case resource.ViolationMemory, resource.ViolationCPU, resource.ViolationBattery:
			next.RoutingBias += biasStep
		}
	}

	next.LocalTimeoutMult = retuneTimeout(next.LocalTimeoutMult, local, haveLocal)
	next.RemoteTimeoutMult = retuneTimeout(next.RemoteTimeoutMult, remote, haveRemote)

	// The exploration floor keeps both paths reachable: bias saturating at
	// either end would starve one track forever.
	limit := biasMax - c.cfg.MinExploration
	next.RoutingBias = clamp(next.RoutingBias, -limit, limit)

	return &next
}

// trackScore rates a track higher-is-better under the configured mode.
func (c *Controller) trackScore(s monitor.TrackSummary) float64 {
	if s.Count == 0 {
		return 0
	}
	latencyScore := 1.0 / (1.0 + s.LatencyP95.Seconds())
	costScore := 1.0 / (1.0 + s.AvgCostUSD*100)

	switch c.cfg.Mode {
	case ModeLatency:
		return 0.7*latencyScore + 0.3*s.SuccessRate
	case ModeCost:
		return 0.7*costScore + 0.3*s.SuccessRate
	case ModeQuality:
		return 0.7*s.AvgQuality + 0.3*s.SuccessRate
	case ModeResource:
		// Favor whichever track succeeds with less device memory.
		memScore := 1.0 / (1.0 + s.PeakMemory/512)
		return 0.5*memScore + 0.5*s.SuccessRate
	default:
		return 0.4*s.SuccessRate + 0.3*latencyScore + 0.2*s.AvgQuality + 0.1*costScore
	}
}

// retuneTimeout widens the timeout multiplier when the track keeps timing
// out and decays it toward 1.0 when it is healthy.
func retuneTimeout(mult float64, s monitor.TrackSummary, have bool) float64 {
	if !have || s.Count == 0 {
		return clamp(mult, timeoutMin, timeoutMax)
	}
	timeouts := s.ErrorCounts["timeout"]
	timeoutRate := float64(timeouts) / float64(s.Count)
	switch {
	case timeoutRate > 0.2:
		mult += timeoutStep
	case timeoutRate == 0 && mult > 1.0:
		mult -= timeoutStep
	case timeoutRate == 0 && mult < 1.0:
		mult += timeoutStep
	}
	return clamp(mult, timeoutMin, timeoutMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
