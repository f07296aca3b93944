package stream

import (
	"time"

	"github.com/zen-systems/dualtrack/pkg/track"
)

// EventType classifies coordinator output events.
type EventType string

const (
	// EventToken carries streamed text from a track.
	EventToken EventType = "token"
	// EventTransition marks the boundary where authority shifts from the
	// provisional local stream to the remote stream.
	EventTransition EventType = "transition"
	// EventTerminal marks the end of one track's stream.
	EventTerminal EventType = "terminal"
)

// Event is one ordered item in the merged output stream.
type Event struct {
	Type        EventType      `json:"type"`
	Track       track.Kind     `json:"track"`
	// Seq is the arrival sequence assigned by the coordinator; TrackSeq is
	// the originating track's own generation sequence.
	Seq         int            `json:"seq"`
	TrackSeq    int            `json:"track_seq"`
	Text        string         `json:"text,omitempty"`
	Terminal    track.Terminal `json:"terminal,omitempty"`
	Provisional bool           `json:"provisional,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Coordinator fans in events from the active tracks of one query into a
// single ordered stream. It is the sole writer of the output channel, so
// emission order is owned by one loop and cannot interleave racily.
type Coordinator struct {
	local    <-chan track.Event
	remote   <-chan track.Event
	parallel bool
	out      chan<- Event
}

// NewCoordinator wires the coordinator to its inputs. Either input may be
// nil when the path runs a single track. out may be nil for callers that
// only need final TrackResults; events are then counted and dropped.
func NewCoordinator(local, remote <-chan track.Event, parallel bool, out chan<- Event) *Coordinator {
	return &Coordinator{local: local, remote: remote, parallel: parallel, out: out}
}

// Run merges events until every active track has delivered its terminal
// event and closed its channel. Per-track order is preserved; cross-track
// order is the coordinator's arrival order. In parallel mode local tokens
// are marked provisional and the first remote token is preceded by a
// transition event.
func (c *Coordinator) Run() {
	seq := 0
	transitioned := false
	local, remote := c.local, c.remote

	emit := func(ev track.Event) {
		if c.out == nil {
			seq++
			return
		}
		if c.parallel && !transitioned && ev.Track == track.KindRemote && ev.Terminal == "" {
			c.out <- Event{
				Type:      EventTransition,
				Track:     track.KindRemote,
				Seq:       seq,
				Timestamp: time.Now(),
			}
			seq++
			transitioned = true
		}

		out := Event{
			Track:     ev.Track,
			Seq:       seq,
			TrackSeq:  ev.Seq,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
		}
		if ev.Terminal != "" {
			out.Type = EventTerminal
			out.Terminal = ev.Terminal
		} else {
			out.Type = EventToken
			out.Provisional = c.parallel && !transitioned && ev.Track == track.KindLocal
		}
		c.out <- out
		seq++
	}

	for local != nil || remote != nil {
		select {
		case ev, ok := <-local:
			if !ok {
				local = nil
				continue
			}
			emit(ev)
		case ev, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			emit(ev)
		}
	}

	if c.out != nil {
		close(c.out)
	}
}
