package track

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/resource"
)

// stubAdapter streams scripted chunks with an optional stall partway
// through, recording the model and prompt of the last call.
type stubAdapter struct {
	mu         sync.Mutex
	chunks     []string
	stallAfter int // stall before emitting this chunk index, 0 disables
	streamErr  error
	callErrs   []error
	variants   map[string]string
	lastModel  string
	lastPrompt string
	calls      int
}

func (a *stubAdapter) Name() string     { return "stub" }
func (a *stubAdapter) Models() []string { return []string{"stub-1"} }

func (a *stubAdapter) Downgrade(model string) string {
	return a.variants[model]
}

func (a *stubAdapter) Generate(ctx context.Context, model, prompt string) (*adapter.Response, error) {
	return &adapter.Response{Text: strings.Join(a.chunks, "")}, nil
}

func (a *stubAdapter) Stream(ctx context.Context, model, prompt string) (<-chan adapter.Chunk, error) {
	a.mu.Lock()
	a.calls++
	a.lastModel = model
	a.lastPrompt = prompt
	var err error
	if len(a.callErrs) > 0 {
		err = a.callErrs[0]
		a.callErrs = a.callErrs[1:]
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan adapter.Chunk, 16)
	go func() {
		defer close(out)
		for i, text := range a.chunks {
			if a.stallAfter > 0 && i == a.stallAfter {
				<-ctx.Done()
				out <- adapter.Chunk{Err: ctx.Err()}
				return
			}
			out <- adapter.Chunk{Text: text}
		}
		if a.streamErr != nil {
			out <- adapter.Chunk{Err: a.streamErr}
			return
		}
		out <- adapter.Chunk{Done: true, FinishReason: "stop"}
	}()
	return out, nil
}

var _ Downgrader = (*adapter.LocalAdapter)(nil)

func localConfig() config.LocalConfig {
	cfg := config.DefaultEngineConfig().Local
	cfg.Model = "stub-1"
	return cfg
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func checkSingleTerminal(t *testing.T, events []Event, want Terminal) {
	t.Helper()
	terminals := 0
	for _, ev := range events {
		if ev.Terminal != "" {
			terminals++
			if ev.Terminal != want {
				t.Fatalf("expected terminal %s, got %s", want, ev.Terminal)
			}
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestLocalRunSuccess(t *testing.T) {
	stub := &stubAdapter{chunks: []string{"hello ", "there"}}
	lt := NewLocalTrack(stub, nil, localConfig(), false)

	events := make(chan Event, 16)
	result := lt.Run(context.Background(), "hi", "", time.Second, events)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Text != "hello there" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.Source != KindLocal || result.Provider != "stub" {
		t.Fatalf("unexpected attribution: %+v", result)
	}

	collected := drainEvents(events)
	checkSingleTerminal(t, collected, TerminalDone)
	if collected[0].Text != "hello " || collected[1].Text != "there" {
		t.Fatalf("unexpected token events: %+v", collected)
	}
}

func TestLocalRunTimeoutKeepsPartial(t *testing.T) {
	stub := &stubAdapter{chunks: []string{"the answer ", "is ", "never sent"}, stallAfter: 2}
	lt := NewLocalTrack(stub, nil, localConfig(), false)

	deadline := 50 * time.Millisecond
	events := make(chan Event, 16)
	start := time.Now()
	result := lt.Run(context.Background(), "slow question", "", deadline, events)
	elapsed := time.Since(start)

	if result.Success {
		t.Fatalf("expected failure on timeout")
	}
	if elapsed < deadline-5*time.Millisecond {
		t.Fatalf("timed out before the deadline: %v < %v", elapsed, deadline)
	}
	if slack := elapsed - deadline; slack > 100*time.Millisecond {
		t.Fatalf("terminal arrived %v past the deadline", slack)
	}
	if !result.TimedOut || !result.Partial {
		t.Fatalf("expected timed-out partial result, got %+v", result)
	}
	if result.Text != "the answer is " {
		t.Fatalf("expected the streamed prefix, got %q", result.Text)
	}
	if result.ErrorKind != string(adapter.KindTimeout) {
		t.Fatalf("unexpected error kind %q", result.ErrorKind)
	}
	checkSingleTerminal(t, drainEvents(events), TerminalTimeout)
}

func TestLocalRunCancelled(t *testing.T) {
	stub := &stubAdapter{chunks: []string{"working on ", "it", "forever"}, stallAfter: 2}
	lt := NewLocalTrack(stub, nil, localConfig(), false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	events := make(chan Event, 16)
	result := lt.Run(ctx, "question", "", time.Minute, events)

	if result.Success {
		t.Fatalf("expected cancellation, got success")
	}
	if !result.Partial || result.ErrorKind != "cancelled" {
		t.Fatalf("expected cancelled partial result, got %+v", result)
	}
	checkSingleTerminal(t, drainEvents(events), TerminalTimeout)
}

func constrainedGuard(t *testing.T) *resource.Guard {
	t.Helper()
	probe := func() resource.Snapshot {
		return resource.Snapshot{HeapMB: 2000, CPUPercent: 10}
	}
	return resource.NewGuard(resource.Limits{MemoryLimitMB: 512}, resource.WithProbe(probe))
}

func TestLocalRunDowngradesUnderPressure(t *testing.T) {
	stub := &stubAdapter{
		chunks:   []string{"small model answer"},
		variants: map[string]string{"stub-1": "stub-1-mini"},
	}
	lt := NewLocalTrack(stub, constrainedGuard(t), localConfig(), false)

	result := lt.Run(context.Background(), "hi", "", time.Second, nil)
	if !result.Success {
		t.Fatalf("expected success on the variant, got %+v", result)
	}
	if stub.lastModel != "stub-1-mini" || result.Model != "stub-1-mini" {
		t.Fatalf("expected downgraded model, got %q / %q", stub.lastModel, result.Model)
	}
}

func TestLocalRunRefusesWithoutVariant(t *testing.T) {
	stub := &stubAdapter{chunks: []string{"never used"}}
	lt := NewLocalTrack(stub, constrainedGuard(t), localConfig(), false)

	events := make(chan Event, 16)
	result := lt.Run(context.Background(), "hi", "", time.Second, events)

	if result.Success {
		t.Fatalf("expected refusal under memory pressure")
	}
	if result.ErrorKind != ErrorKindResource {
		t.Fatalf("expected resource refusal, got %q", result.ErrorKind)
	}
	if stub.calls != 0 {
		t.Fatalf("expected no adapter call, got %d", stub.calls)
	}
	checkSingleTerminal(t, drainEvents(events), TerminalError)
}

func TestLocalRunRetriesOnContextOverflow(t *testing.T) {
	overflow := &adapter.AdapterError{Status: 400, Kind: adapter.KindContextOverflow,
		Err: errors.New("context length exceeded")}
	stub := &stubAdapter{
		chunks:   []string{"answer after retry"},
		callErrs: []error{overflow},
	}
	cfg := localConfig()
	cfg.MaxContextChars = 100

	lt := NewLocalTrack(stub, nil, cfg, false)
	longContext := strings.Repeat("x", 400)
	result := lt.Run(context.Background(), "question", longContext, time.Second, nil)

	if !result.Success {
		t.Fatalf("expected success after truncated retry, got %+v", result)
	}
	if stub.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", stub.calls)
	}
	if !strings.Contains(stub.lastPrompt, "question") {
		t.Fatalf("retry lost the prompt: %q", stub.lastPrompt)
	}
	// The retried context keeps only the tail, half the configured cap.
	if strings.Count(stub.lastPrompt, "x") != 50 {
		t.Fatalf("expected 50 chars of context on retry, got %d", strings.Count(stub.lastPrompt, "x"))
	}
}

func TestLocalRunNoRetryWithoutContext(t *testing.T) {
	overflow := &adapter.AdapterError{Status: 400, Kind: adapter.KindContextOverflow,
		Err: errors.New("context length exceeded")}
	stub := &stubAdapter{chunks: []string{"unused"}, callErrs: []error{overflow, overflow}}

	lt := NewLocalTrack(stub, nil, localConfig(), false)
	result := lt.Run(context.Background(), "question", "", time.Second, nil)

	if result.Success {
		t.Fatalf("expected failure with no context to shed")
	}
	if stub.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", stub.calls)
	}
	if result.ErrorKind != string(adapter.KindContextOverflow) {
		t.Fatalf("unexpected error kind %q", result.ErrorKind)
	}
}
