package resource

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Violation names a constrained resource.
type Violation string

const (
	ViolationMemory  Violation = "memory"
	ViolationCPU     Violation = "cpu"
	ViolationBattery Violation = "battery"
)

// Snapshot is one resource measurement.
type Snapshot struct {
	HeapMB         float64
	CPUPercent     float64
	BatteryPercent int
	OnBattery      bool
	Timestamp      time.Time
}

// Limits configures when a snapshot counts as a violation.
type Limits struct {
	MemoryLimitMB    float64
	CPULimitPercent  float64
	BatteryThreshold int
	PollInterval     time.Duration
	Cooldown         time.Duration
}

// ProbeFunc measures current resource usage. Injectable for tests.
type ProbeFunc func() Snapshot

// Guard polls resource usage at a fixed interval and exposes
// constraint-violation flags. After a battery or CPU event a cooldown
// keeps the violation asserted so load does not flap back immediately.
type Guard struct {
	limits Limits
	probe  ProbeFunc
	debug  bool

	mu            sync.Mutex
	latest        Snapshot
	violations    map[Violation]bool
	cooldownUntil time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithProbe replaces the default system probe.
func WithProbe(probe ProbeFunc) GuardOption {
	return func(g *Guard) {
		g.probe = probe
	}
}

// WithDebug enables verbose logging.
func WithDebug(debug bool) GuardOption {
	return func(g *Guard) {
		g.debug = debug
	}
}

// NewGuard creates a resource guard. Call Start to begin polling.
func NewGuard(limits Limits, opts ...GuardOption) *Guard {
	if limits.PollInterval <= 0 {
		limits.PollInterval = 2 * time.Second
	}
	if limits.Cooldown <= 0 {
		limits.Cooldown = 30 * time.Second
	}
	if limits.CPULimitPercent <= 0 {
		limits.CPULimitPercent = 85
	}
	g := &Guard{
		limits:     limits,
		probe:      systemProbe,
		violations: make(map[Violation]bool),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.observe(g.probe())
	return g
}

// Start launches the polling loop until Stop or context cancellation.
func (g *Guard) Start(ctx context.Context) {
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.limits.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.observe(g.probe())
			case <-ctx.Done():
				return
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop halts the polling loop.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Guard) observe(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.latest = s
	prev := len(g.violations)

	memViolated := g.limits.MemoryLimitMB > 0 && s.HeapMB > g.limits.MemoryLimitMB
	cpuViolated := s.CPUPercent > g.limits.CPULimitPercent
	batViolated := s.OnBattery && g.limits.BatteryThreshold > 0 && s.BatteryPercent > 0 &&
		s.BatteryPercent < g.limits.BatteryThreshold

	g.violations[ViolationMemory] = memViolated
	g.violations[ViolationCPU] = cpuViolated
	g.violations[ViolationBattery] = batViolated

	if cpuViolated || batViolated {
		g.cooldownUntil = s.Timestamp.Add(g.limits.Cooldown)
	}

	if g.debug && countTrue(g.violations) != prev {
		log.Printf("[resource] violations=%v heap=%.1fMB cpu=%.1f%% battery=%d%%",
			g.activeLocked(), s.HeapMB, s.CPUPercent, s.BatteryPercent)
	}
}

// Violations returns the currently asserted violations, including those
// held by an active cooldown.
func (g *Guard) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeLocked()
}

func (g *Guard) activeLocked() []Violation {
	var out []Violation
	inCooldown := time.Now().Before(g.cooldownUntil)
	for _, v := range []Violation{ViolationMemory, ViolationCPU, ViolationBattery} {
		if g.violations[v] {
			out = append(out, v)
			continue
		}
		if inCooldown && (v == ViolationCPU || v == ViolationBattery) {
			out = append(out, v)
		}
	}
	return out
}

// Constrained reports whether any violation is asserted.
func (g *Guard) Constrained() bool {
	return len(g.Violations()) > 0
}

// InCooldown reports whether a thermal/battery cooldown is active.
func (g *Guard) InCooldown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.cooldownUntil)
}

// Latest returns the most recent snapshot.
func (g *Guard) Latest() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest
}

func countTrue(m map[Violation]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// systemProbe reads process heap, system load, and battery state. Battery
// files are absent on servers; the probe degrades to mains power.
func systemProbe() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := Snapshot{
		HeapMB:     float64(mem.HeapAlloc) / (1024 * 1024),
		CPUPercent: loadPercent(),
		Timestamp:  time.Now(),
	}
	snap.BatteryPercent, snap.OnBattery = batteryState()
	return snap
}

func loadPercent() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load / float64(runtime.NumCPU()) * 100
}

func batteryState() (percent int, onBattery bool) {
	matches, err := filepath.Glob("/sys/class/power_supply/BAT*/capacity")
	if err != nil || len(matches) == 0 {
		return 0, false
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return 0, false
	}
	percent, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}

	statusPath := filepath.Join(filepath.Dir(matches[0]), "status")
	status, err := os.ReadFile(statusPath)
	if err != nil {
		return percent, false
	}
	return percent, strings.TrimSpace(string(status)) == "Discharging"
}
