package adaptive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Mode selects which metric dominates adaptive adjustments.
type Mode string

const (
	ModeBalanced Mode = "balanced"
	ModeLatency  Mode = "latency"
	ModeResource Mode = "resource"
	ModeQuality  Mode = "quality"
	ModeCost     Mode = "cost"
)

// ParseMode maps a config string to a Mode, defaulting to balanced.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeLatency, ModeResource, ModeQuality, ModeCost:
		return Mode(s)
	default:
		return ModeBalanced
	}
}

const stateVersion = 1

// State is an immutable adaptive-state snapshot. The controller replaces
// the whole snapshot atomically; readers never observe partial updates.
type State struct {
	Version           int       `json:"version"`
	RoutingBias       float64   `json:"routing_bias"` // -1 favors local, +1 favors remote
	LocalTimeoutMult  float64   `json:"local_timeout_mult"`
	RemoteTimeoutMult float64   `json:"remote_timeout_mult"`
	Mode              Mode      `json:"mode"`
	Exploration       float64   `json:"exploration"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultState returns a neutral starting state.
func DefaultState(mode Mode, exploration float64) *State {
	if exploration <= 0 {
		exploration = 0.05
	}
	return &State{
		Version:           stateVersion,
		RoutingBias:       0,
		LocalTimeoutMult:  1.0,
		RemoteTimeoutMult: 1.0,
		Mode:              mode,
		Exploration:       exploration,
		UpdatedAt:         time.Now().UTC(),
	}
}

// Store publishes adaptive-state snapshots with a copy-on-write swap.
type Store struct {
	ptr atomic.Pointer[State]
}

// NewStore creates a store holding the initial state.
func NewStore(initial *State) *Store {
	s := &Store{}
	if initial == nil {
		initial = DefaultState(ModeBalanced, 0.05)
	}
	s.ptr.Store(initial)
	return s
}

// Snapshot returns the current state. Callers must treat it as read-only.
func (s *Store) Snapshot() *State {
	return s.ptr.Load()
}

// Publish atomically replaces the current state.
func (s *Store) Publish(next *State) {
	if next == nil {
		return
	}
	next.UpdatedAt = time.Now().UTC()
	next.Version = stateVersion
	s.ptr.Store(next)
}

// Save writes the current state as a versioned JSON snapshot, atomically
// via temp file and rename.
func (s *Store) Save(path string) error {
	if path == "" {
		return nil
	}
	state := s.Snapshot()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".adaptive-state-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadState reads a persisted snapshot, rejecting unknown versions.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("unsupported adaptive state version %d", state.Version)
	}
	if state.LocalTimeoutMult <= 0 {
		state.LocalTimeoutMult = 1.0
	}
	if state.RemoteTimeoutMult <= 0 {
		state.RemoteTimeoutMult = 1.0
	}
	return &state, nil
}
