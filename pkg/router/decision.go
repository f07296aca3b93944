package router

import "time"

// Path is the routing outcome selecting which track(s) serve a query.
type Path string

const (
	PathLocal    Path = "local"
	PathRemote   Path = "remote"
	PathParallel Path = "parallel"
)

// ParsePath maps a config string to a Path, defaulting to parallel.
func ParsePath(s string) Path {
	switch Path(s) {
	case PathLocal, PathRemote:
		return Path(s)
	default:
		return PathParallel
	}
}

// Decision captures one immutable routing decision for a query.
type Decision struct {
	Path           Path          `json:"path"`
	Confidence     float64       `json:"confidence"`
	Reasoning      string        `json:"reasoning"`
	LocalDeadline  time.Duration `json:"local_deadline"`
	RemoteDeadline time.Duration `json:"remote_deadline"`
	Features       Features      `json:"features"`
}
