package monitor

import (
	"sort"
	"sync"
	"time"
)

// TrackKind identifies which execution path a sample came from.
type TrackKind string

const (
	TrackLocal  TrackKind = "local"
	TrackRemote TrackKind = "remote"
)

// Sample is one observed request outcome. Samples are immutable once
// recorded.
type Sample struct {
	Track      TrackKind
	Latency    time.Duration
	CostUSD    float64
	Quality    float64
	Success    bool
	ErrorKind  string
	MemoryMB   float64
	CPUPercent float64
	Timestamp  time.Time
}

// TrackSummary aggregates the samples currently in a track's window.
type TrackSummary struct {
	Count       int
	SuccessRate float64
	LatencyP50  time.Duration
	LatencyP95  time.Duration
	LatencyP99  time.Duration
	AvgCostUSD  float64
	AvgQuality  float64
	PeakMemory  float64
	PeakCPU     float64
	ErrorCounts map[string]int
}

// ring is a fixed-capacity overwrite-oldest buffer.
type ring struct {
	samples []Sample
	next    int
	count   int
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]Sample, capacity)}
}

func (r *ring) add(s Sample) {
	r.samples[r.next] = s
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *ring) snapshot() []Sample {
	out := make([]Sample, r.count)
	if r.count < len(r.samples) {
		copy(out, r.samples[:r.count])
		return out
	}
	n := copy(out, r.samples[r.next:])
	copy(out[n:], r.samples[:r.next])
	return out
}

// Monitor keeps a bounded sample window per track kind and computes
// rolling summaries. Record is O(1) and never blocks on anything slower
// than a mutex.
type Monitor struct {
	mu      sync.Mutex
	window  int
	buffers map[TrackKind]*ring
}

// New creates a Monitor with the given window size per track kind.
func New(window int) *Monitor {
	if window < 1 {
		window = 100
	}
	return &Monitor{
		window:  window,
		buffers: make(map[TrackKind]*ring),
	}
}

// Record appends a sample to the track's ring buffer, evicting the
// oldest sample when the window is full.
func (m *Monitor) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	m.mu.Lock()
	buf, ok := m.buffers[s.Track]
	if !ok {
		buf = newRing(m.window)
		m.buffers[s.Track] = buf
	}
	buf.add(s)
	m.mu.Unlock()

	observeSample(s)
}

// Summary computes aggregates for every track kind seen so far.
func (m *Monitor) Summary() map[TrackKind]TrackSummary {
	m.mu.Lock()
	snapshots := make(map[TrackKind][]Sample, len(m.buffers))
	for kind, buf := range m.buffers {
		snapshots[kind] = buf.snapshot()
	}
	m.mu.Unlock()

	out := make(map[TrackKind]TrackSummary, len(snapshots))
	for kind, samples := range snapshots {
		out[kind] = summarize(samples)
	}
	return out
}

// TrackSummaryFor returns the summary for a single track kind.
func (m *Monitor) TrackSummaryFor(kind TrackKind) TrackSummary {
	m.mu.Lock()
	buf, ok := m.buffers[kind]
	var samples []Sample
	if ok {
		samples = buf.snapshot()
	}
	m.mu.Unlock()
	return summarize(samples)
}

func summarize(samples []Sample) TrackSummary {
	summary := TrackSummary{ErrorCounts: make(map[string]int)}
	if len(samples) == 0 {
		return summary
	}

	latencies := make([]time.Duration, 0, len(samples))
	successes := 0
	var totalCost, totalQuality float64
	for _, s := range samples {
		latencies = append(latencies, s.Latency)
		if s.Success {
			successes++
		}
		if s.ErrorKind != "" {
			summary.ErrorCounts[s.ErrorKind]++
		}
		totalCost += s.CostUSD
		totalQuality += s.Quality
		if s.MemoryMB > summary.PeakMemory {
			summary.PeakMemory = s.MemoryMB
		}
		if s.CPUPercent > summary.PeakCPU {
			summary.PeakCPU = s.CPUPercent
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	summary.Count = len(samples)
	summary.SuccessRate = float64(successes) / float64(len(samples))
	summary.LatencyP50 = percentile(latencies, 0.50)
	summary.LatencyP95 = percentile(latencies, 0.95)
	summary.LatencyP99 = percentile(latencies, 0.99)
	summary.AvgCostUSD = totalCost / float64(len(samples))
	summary.AvgQuality = totalQuality / float64(len(samples))
	return summary
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
