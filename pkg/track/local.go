package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/resource"
)

// Downgrader is implemented by adapters that can swap a model for a
// smaller variant under resource pressure.
type Downgrader interface {
	Downgrade(model string) string
}

// LocalTrack executes queries on the on-device model.
type LocalTrack struct {
	adapter adapter.Adapter
	guard   *resource.Guard
	cfg     config.LocalConfig
	debug   bool
}

// NewLocalTrack creates a local track over an adapter and resource guard.
func NewLocalTrack(a adapter.Adapter, guard *resource.Guard, cfg config.LocalConfig, debug bool) *LocalTrack {
	return &LocalTrack{adapter: a, guard: guard, cfg: cfg, debug: debug}
}

// Kind returns KindLocal.
func (t *LocalTrack) Kind() Kind {
	return KindLocal
}

// Run executes the query with the given deadline, streaming token events
// to events when non-nil. It always delivers exactly one terminal event
// and closes the channel, and always returns a finalized Result.
func (t *LocalTrack) Run(ctx context.Context, prompt, contextText string, deadline time.Duration, events chan<- Event) Result {
	start := time.Now()
	em := newEmitter(KindLocal, events)
	result := Result{Source: KindLocal, Provider: t.adapter.Name(), Model: t.cfg.Model}

	model, refused := t.pickModel()
	if refused {
		result.Latency = time.Since(start)
		result.ErrorKind = ErrorKindResource
		result.Err = fmt.Errorf("local track refused: resource constraints %v", t.guard.Violations())
		em.terminal(TerminalError)
		return result
	}
	result.Model = model

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	text, usage, err := t.generate(runCtx, model, prompt, contextText, em)
	result.Latency = time.Since(start)
	result.Text = text
	result.TokenCount = tokenCount(usage, text)

	if err == nil {
		result.Success = true
		em.terminal(TerminalDone)
		return result
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Partial = text != ""
		result.TimedOut = true
		result.ErrorKind = string(adapter.KindTimeout)
		result.Err = err
		em.terminal(TerminalTimeout)
	case errors.Is(err, context.Canceled):
		// Superseded mid-generation; surface what was produced.
		result.Partial = text != ""
		result.ErrorKind = "cancelled"
		result.Err = err
		em.terminal(TerminalTimeout)
	default:
		result.ErrorKind = errorKindString(err)
		result.Err = err
		em.terminal(TerminalError)
	}
	return result
}

// pickModel consults the resource guard. Memory or CPU pressure first
// tries the configured smaller variant; with no variant the track refuses
// so the caller can prefer remote.
func (t *LocalTrack) pickModel() (model string, refused bool) {
	model = t.cfg.Model
	if t.guard == nil {
		return model, false
	}

	constrained := false
	for _, v := range t.guard.Violations() {
		if v == resource.ViolationMemory || v == resource.ViolationCPU {
			constrained = true
			break
		}
	}
	if !constrained {
		return model, false
	}

	if dg, ok := t.adapter.(Downgrader); ok {
		if variant := dg.Downgrade(model); variant != "" {
			if t.debug {
				log.Printf("[local] resource pressure, downgrading %s -> %s", model, variant)
			}
			return variant, false
		}
	}
	return model, true
}

// generate streams one attempt, retrying exactly once with truncated
// context if the model rejects the prompt for length.
func (t *LocalTrack) generate(ctx context.Context, model, prompt, contextText string, em *emitter) (string, *adapter.Usage, error) {
	text, usage, err := t.streamOnce(ctx, model, buildPrompt(prompt, contextText), em)
	if err == nil || adapter.Classify(err) != adapter.KindContextOverflow || contextText == "" {
		return text, usage, err
	}

	truncated := truncateContext(contextText, t.cfg.MaxContextChars/2)
	if t.debug {
		log.Printf("[local] context overflow, retrying with %d chars of context", len(truncated))
	}
	return t.streamOnce(ctx, model, buildPrompt(prompt, truncated), em)
}

func (t *LocalTrack) streamOnce(ctx context.Context, model, fullPrompt string, em *emitter) (string, *adapter.Usage, error) {
	chunks, err := t.adapter.Stream(ctx, model, fullPrompt)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var usage *adapter.Usage
	for chunk := range chunks {
		if chunk.Err != nil {
			return sb.String(), usage, chunk.Err
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if chunk.Text != "" {
			sb.WriteString(chunk.Text)
			em.token(chunk.Text)
		}
	}
	return sb.String(), usage, nil
}

func buildPrompt(prompt, contextText string) string {
	if contextText == "" {
		return prompt
	}
	return contextText + "\n\n" + prompt
}

// truncateContext keeps the tail of the context, which is usually the
// most recent and most relevant part.
func truncateContext(contextText string, max int) string {
	if max <= 0 || len(contextText) <= max {
		return contextText
	}
	return contextText[len(contextText)-max:]
}

func tokenCount(usage *adapter.Usage, text string) int {
	if usage != nil && usage.CompletionTokens > 0 {
		return usage.CompletionTokens
	}
	return len(strings.Fields(text))
}
