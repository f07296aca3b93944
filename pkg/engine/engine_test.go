package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/integrate"
	"github.com/zen-systems/dualtrack/pkg/monitor"
	"github.com/zen-systems/dualtrack/pkg/resource"
	"github.com/zen-systems/dualtrack/pkg/router"
	"github.com/zen-systems/dualtrack/pkg/stream"
)

func testEngineConfig() *config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.Local.Adapter = "local"
	cfg.Local.Model = "mock-1"
	cfg.Remote.Adapter = "remote"
	cfg.Remote.Model = "mock-1"
	cfg.Remote.Fallback = nil
	cfg.Remote.BaseBackoffMs = 1
	cfg.Remote.MaxBackoffMs = 2
	return cfg
}

func newTestEngine(t *testing.T, local, remote adapter.Adapter, opts Options) *Engine {
	t.Helper()
	adapters := map[string]adapter.Adapter{}
	if local != nil {
		adapters["local"] = local
	}
	if remote != nil {
		adapters["remote"] = remote
	}
	eng, err := New(testEngineConfig(), adapters, opts)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return eng
}

func TestShortSocialRunsLocalOnly(t *testing.T) {
	local := adapter.NewMockAdapterWithResponses(
		map[string]string{"Hi, how are you?": "Doing well, thanks for asking!"}, "")
	remote := adapter.NewMockAdapter().WithName("remote")
	eng := newTestEngine(t, local, remote, Options{})

	resp, decision, err := eng.Process(context.Background(), NewQuery("Hi, how are you?", nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Path != router.PathLocal || decision.Confidence < 0.8 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if resp.Text != "Doing well, thanks for asking!" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if remote.Calls() != 0 {
		t.Fatalf("remote track must stay idle, got %d calls", remote.Calls())
	}
}

func TestReasoningRunsRemote(t *testing.T) {
	local := adapter.NewMockAdapter()
	remote := adapter.NewMockAdapterWithResponses(nil, "deep answer:").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{})

	query := "Analyze the trade-offs between these storage designs and then write a short poem about them"
	resp, decision, err := eng.Process(context.Background(), NewQuery(query, nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Path != router.PathRemote {
		t.Fatalf("expected remote path, got %s (%s)", decision.Path, decision.Reasoning)
	}
	if !strings.HasPrefix(resp.Text, "deep answer:") {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if local.Calls() != 0 {
		t.Fatalf("local track must stay idle, got %d calls", local.Calls())
	}
}

func TestParallelMergesDissimilarTexts(t *testing.T) {
	query := "Tell me something interesting regarding whales"
	local := adapter.NewMockAdapterWithResponses(
		map[string]string{query: "Whales sing to each other."}, "")
	remote := adapter.NewMockAdapterWithResponses(
		map[string]string{query: "Blue hearts weigh around 180 kilograms."}, "").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{Scorer: integrate.FixedScorer{Score: 0.1}})

	resp, decision, err := eng.Process(context.Background(), NewQuery(query, nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Path != router.PathParallel {
		t.Fatalf("expected parallel path, got %s (%s)", decision.Path, decision.Reasoning)
	}
	if resp.Strategy != integrate.StrategySmooth {
		t.Fatalf("expected smooth merge, got %s", resp.Strategy)
	}
	if !strings.Contains(resp.Text, "Whales sing") || !strings.Contains(resp.Text, "180 kilograms") {
		t.Fatalf("merge lost a side: %q", resp.Text)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected both sources, got %v", resp.Sources)
	}
}

func TestParallelStreamEmitsTransition(t *testing.T) {
	query := "Tell me something interesting regarding whales"
	local := adapter.NewMockAdapterWithResponses(map[string]string{query: "Local take on whales."}, "")
	remote := adapter.NewMockAdapterWithResponses(map[string]string{query: "Remote take on whales."}, "").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{Scorer: integrate.FixedScorer{Score: 0.1}})

	events := make(chan stream.Event, 128)
	collected := make(chan []stream.Event, 1)
	go func() {
		var out []stream.Event
		for ev := range events {
			out = append(out, ev)
		}
		collected <- out
	}()

	if _, _, err := eng.ProcessStream(context.Background(), NewQuery(query, nil), events); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	all := <-collected
	transitions, terminals := 0, 0
	for _, ev := range all {
		switch ev.Type {
		case stream.EventTransition:
			transitions++
		case stream.EventTerminal:
			terminals++
		}
	}
	if transitions != 1 {
		t.Fatalf("expected one transition, got %d", transitions)
	}
	if terminals != 2 {
		t.Fatalf("expected a terminal per track, got %d", terminals)
	}
}

func TestBothTracksFailedDegraded(t *testing.T) {
	boom := &adapter.AdapterError{Status: 422, Kind: adapter.KindInvalidResponse, Err: errors.New("boom")}
	authErr := &adapter.AdapterError{Status: 401, Kind: adapter.KindAuth, Err: errors.New("no key")}
	local := adapter.NewMockAdapter().FailFirst(boom, boom)
	remote := adapter.NewMockAdapter().WithName("remote").FailFirst(authErr, authErr, authErr)
	eng := newTestEngine(t, local, remote, Options{})

	resp, _, err := eng.Process(context.Background(), NewQuery("Tell me something interesting regarding whales", nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !resp.Degraded {
		t.Fatalf("expected degraded response, got %+v", resp)
	}
	if resp.Text != integrate.FallbackText {
		t.Fatalf("unexpected fallback text: %q", resp.Text)
	}
}

func TestLocalRefusalFailsOverToRemote(t *testing.T) {
	probe := func() resource.Snapshot {
		return resource.Snapshot{HeapMB: 4096, CPUPercent: 10}
	}
	local := adapter.NewMockAdapter()
	remote := adapter.NewMockAdapterWithResponses(
		map[string]string{"Hi, how are you?": "Remote says hello."}, "").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{ResourceProbe: probe})

	resp, decision, err := eng.Process(context.Background(), NewQuery("Hi, how are you?", nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Path != router.PathLocal {
		t.Fatalf("expected a local decision, got %s", decision.Path)
	}
	if resp.Text != "Remote says hello." {
		t.Fatalf("expected the remote failover answer, got %q", resp.Text)
	}
	if resp.Partial || resp.Degraded {
		t.Fatalf("complete failover answer marked partial: %+v", resp)
	}
	if local.Calls() != 0 {
		t.Fatalf("constrained local track must refuse before calling the adapter")
	}
}

func TestMissingRemoteDemotesToLocal(t *testing.T) {
	local := adapter.NewMockAdapterWithResponses(nil, "local only:")
	eng := newTestEngine(t, local, nil, Options{})

	resp, _, err := eng.Process(context.Background(),
		NewQuery("Analyze the trade-offs between these designs step by step", nil))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !strings.HasPrefix(resp.Text, "local only:") {
		t.Fatalf("expected local answer, got %q", resp.Text)
	}
}

func TestSamplesRecordedPerTrack(t *testing.T) {
	query := "Tell me something interesting regarding whales"
	local := adapter.NewMockAdapterWithResponses(map[string]string{query: "a"}, "")
	remote := adapter.NewMockAdapterWithResponses(map[string]string{query: "b"}, "").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{Scorer: integrate.FixedScorer{Score: 0.1}})

	if _, _, err := eng.Process(context.Background(), NewQuery(query, nil)); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	summary := eng.Summary()
	if summary[monitor.TrackLocal].Count != 1 || summary[monitor.TrackRemote].Count != 1 {
		t.Fatalf("expected one sample per track, got %+v", summary)
	}
}

func TestForcedPathOverridesClassifier(t *testing.T) {
	local := adapter.NewMockAdapter()
	remote := adapter.NewMockAdapterWithResponses(nil, "forced remote:").WithName("remote")
	eng := newTestEngine(t, local, remote, Options{})

	resp, decision, err := eng.ProcessForced(context.Background(),
		NewQuery("Hi, how are you?", nil), router.PathRemote, nil)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if decision.Path != router.PathRemote {
		t.Fatalf("expected forced remote path, got %s", decision.Path)
	}
	if !strings.HasPrefix(resp.Text, "forced remote:") {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if local.Calls() != 0 {
		t.Fatalf("local track must stay idle under a forced remote path")
	}
}

type staticContext struct {
	text string
}

func (s staticContext) RetrieveContext(ctx context.Context, q Query) (string, error) {
	return s.text, nil
}

func TestContextProviderPrependsContext(t *testing.T) {
	local := adapter.NewMockAdapterWithResponses(nil, "echo:")
	eng := newTestEngine(t, local, nil, Options{ContextProvider: staticContext{text: "prior conversation"}})

	resp, _, err := eng.ProcessForced(context.Background(),
		NewQuery("what did we decide", nil), router.PathLocal, nil)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	// The mock echoes its prompt, which carries the retrieved context.
	if !strings.Contains(resp.Text, "prior conversation") {
		t.Fatalf("context not threaded into the prompt: %q", resp.Text)
	}
}

func TestQueryIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		q := NewQuery("same text", nil)
		if seen[q.ID] {
			t.Fatalf("duplicate query id %s", q.ID)
		}
		seen[q.ID] = true
	}
}
