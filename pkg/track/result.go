package track

import (
	"time"

	"github.com/zen-systems/dualtrack/pkg/adapter"
)

// Kind identifies one inference execution path.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Terminal marks how a track finished.
type Terminal string

const (
	TerminalDone    Terminal = "done"
	TerminalTimeout Terminal = "timeout"
	TerminalError   Terminal = "error"
)

// ErrorKindResource marks a refusal caused by resource constraints
// rather than a provider failure.
const ErrorKindResource = "resource_constraint"

// Result is the immutable outcome of one track execution.
type Result struct {
	Source     Kind          `json:"source"`
	Text       string        `json:"text"`
	TokenCount int           `json:"token_count"`
	Latency    time.Duration `json:"latency"`
	CostUSD    float64       `json:"cost_usd"`
	Success    bool          `json:"success"`
	Partial    bool          `json:"partial"`
	TimedOut   bool          `json:"timed_out"`
	Retries    int           `json:"retries"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Err        error         `json:"-"`
}

// Event is one streamed fragment or terminal marker from a track. Each
// track assigns its own monotonically increasing sequence.
type Event struct {
	Track     Kind
	Seq       int
	Text      string
	Terminal  Terminal // empty for token events
	Timestamp time.Time
}

// emitter writes events to a track's channel, assigning sequence numbers.
// The terminal event is sent exactly once and the channel is closed after.
type emitter struct {
	track  Kind
	out    chan<- Event
	seq    int
	closed bool
}

func newEmitter(track Kind, out chan<- Event) *emitter {
	return &emitter{track: track, out: out}
}

func (e *emitter) token(text string) {
	if e.out == nil || e.closed || text == "" {
		return
	}
	e.out <- Event{Track: e.track, Seq: e.seq, Text: text, Timestamp: time.Now()}
	e.seq++
}

func (e *emitter) terminal(t Terminal) {
	if e.out == nil || e.closed {
		return
	}
	e.out <- Event{Track: e.track, Seq: e.seq, Terminal: t, Timestamp: time.Now()}
	e.closed = true
	close(e.out)
}

// errorKindString flattens an adapter classification for reporting.
func errorKindString(err error) string {
	kind := adapter.Classify(err)
	if kind == adapter.KindNone {
		return "unknown"
	}
	return string(kind)
}
