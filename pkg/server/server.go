package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zen-systems/dualtrack/pkg/engine"
	"github.com/zen-systems/dualtrack/pkg/integrate"
	"github.com/zen-systems/dualtrack/pkg/router"
	"github.com/zen-systems/dualtrack/pkg/stream"
)

// wsMessage is the envelope for frames in both directions on /ws.
type wsMessage struct {
	Type        string        `json:"type"`
	Query       string        `json:"query,omitempty"`
	ContextRefs []string      `json:"context_refs,omitempty"`
	QueryID     string        `json:"query_id,omitempty"`
	Event       *stream.Event `json:"event,omitempty"`
	Response    *finalFrame   `json:"response,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type finalFrame struct {
	Text       string  `json:"text"`
	Strategy   string  `json:"strategy"`
	Path       string  `json:"path"`
	Confidence float64 `json:"confidence"`
	Partial    bool    `json:"partial"`
	Degraded   bool    `json:"degraded"`
}

// Server exposes the engine over websocket plus metrics and health
// endpoints for scraping.
type Server struct {
	engine   *engine.Engine
	port     int
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	debug    bool
}

func New(eng *engine.Engine, port int, debug bool) *Server {
	return &Server{
		engine: eng,
		port:   port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		debug: debug,
	}
}

// Start serves until the context is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthHandler)

	s.httpSrv = &http.Server{Addr: ":" + strconv.Itoa(s.port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("[server] listening on :%d", s.port)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"state":  s.engine.AdaptiveState(),
	})
}

// wsHandler serves one connection. Each "query" frame runs a query and
// streams its merged events back as "event" frames, finishing with a
// single "response" frame.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[server] websocket read error: %v", err)
			}
			return
		}
		if msg.Type != "query" || msg.Query == "" {
			conn.WriteJSON(wsMessage{Type: "error", Error: "expected a query frame with non-empty query"})
			continue
		}
		if err := s.serveQuery(r.Context(), conn, msg); err != nil {
			return
		}
	}
}

func (s *Server) serveQuery(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	q := engine.NewQuery(msg.Query, msg.ContextRefs)
	if s.debug {
		log.Printf("[server] query %s: %q", q.ID, msg.Query)
	}

	events := make(chan stream.Event, 64)
	type outcome struct {
		resp     integrate.Response
		decision router.Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, decision, err := s.engine.ProcessStream(ctx, q, events)
		done <- outcome{resp: resp, decision: decision, err: err}
	}()

	for ev := range events {
		if err := conn.WriteJSON(wsMessage{Type: "event", QueryID: q.ID, Event: &ev}); err != nil {
			// The engine keeps draining after a write failure so the
			// query still records its samples.
			for range events {
			}
			<-done
			return err
		}
	}

	out := <-done
	if out.err != nil {
		return conn.WriteJSON(wsMessage{Type: "error", QueryID: q.ID, Error: out.err.Error()})
	}
	return conn.WriteJSON(wsMessage{
		Type:    "response",
		QueryID: q.ID,
		Response: &finalFrame{
			Text:       out.resp.Text,
			Strategy:   string(out.resp.Strategy),
			Path:       string(out.decision.Path),
			Confidence: out.decision.Confidence,
			Partial:    out.resp.Partial,
			Degraded:   out.resp.Degraded,
		},
	})
}
