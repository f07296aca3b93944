package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
)

// ErrorKindBackpressure marks a request rejected at admission because the
// bounded queue was full.
const ErrorKindBackpressure = "backpressure"

// Target pairs an adapter with a model for the remote attempt chain.
type Target struct {
	Adapter adapter.Adapter
	Model   string
}

// RemoteTrack executes queries on network providers with retries,
// provider fallback, and a bounded in-flight limit.
type RemoteTrack struct {
	targets  []Target
	cfg      config.RemoteConfig
	inflight chan struct{}
	waiters  atomic.Int32
	debug    bool
}

// NewRemoteTrack creates a remote track. The first target is the primary;
// the rest form the fallback chain in order.
func NewRemoteTrack(targets []Target, cfg config.RemoteConfig, debug bool) (*RemoteTrack, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("remote track requires at least one target")
	}
	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 8
	}
	return &RemoteTrack{
		targets:  targets,
		cfg:      cfg,
		inflight: make(chan struct{}, maxInflight),
		debug:    debug,
	}, nil
}

// Kind returns KindRemote.
func (t *RemoteTrack) Kind() Kind {
	return KindRemote
}

// Run executes the query with retries and fallback under one deadline.
// It always delivers exactly one terminal event and closes the channel.
func (t *RemoteTrack) Run(ctx context.Context, prompt, contextText string, deadline time.Duration, events chan<- Event) Result {
	start := time.Now()
	em := newEmitter(KindRemote, events)
	result := Result{Source: KindRemote}

	release, err := t.admit(ctx)
	if err != nil {
		result.Latency = time.Since(start)
		result.Err = err
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			result.TimedOut = true
			result.ErrorKind = string(adapter.KindTimeout)
			em.terminal(TerminalTimeout)
		case errors.Is(err, context.Canceled):
			result.ErrorKind = "cancelled"
			em.terminal(TerminalTimeout)
		default:
			result.ErrorKind = ErrorKindBackpressure
			em.terminal(TerminalError)
		}
		return result
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	fullPrompt := buildPrompt(prompt, contextText)
	attempts := t.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	targetIdx := 0
	var text string
	var usage *adapter.Usage
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		target := t.targets[targetIdx]
		result.Provider = target.Adapter.Name()
		result.Model = target.Model
		result.Retries = attempt

		text, usage, lastErr = t.streamOnce(runCtx, target, fullPrompt, em)
		if lastErr == nil {
			result.Latency = time.Since(start)
			result.Text = text
			result.TokenCount = tokenCount(usage, text)
			result.Success = true
			result.CostUSD = t.costFor(target, usage)
			em.terminal(TerminalDone)
			return result
		}

		if deadlineHit(runCtx, lastErr) {
			break
		}

		kind := adapter.Classify(lastErr)
		if kind == adapter.KindAuth {
			break
		}

		// Rate limits and non-retryable payload failures move to the next
		// provider in the chain when one is configured.
		switchable := kind == adapter.KindRateLimited || kind == adapter.KindInvalidResponse
		if switchable && targetIdx+1 < len(t.targets) {
			targetIdx++
			if t.debug {
				log.Printf("[remote] %s on %s, falling back to %s/%s",
					kind, target.Adapter.Name(), t.targets[targetIdx].Adapter.Name(), t.targets[targetIdx].Model)
			}
			continue
		}

		if !adapter.IsTransient(lastErr) && kind != adapter.KindRateLimited {
			break
		}

		if attempt < attempts {
			if err := t.backoff(runCtx, attempt); err != nil {
				lastErr = err
				break
			}
		}
	}

	result.Latency = time.Since(start)
	result.Text = text
	result.TokenCount = tokenCount(usage, text)
	result.Err = lastErr

	if deadlineHit(runCtx, lastErr) {
		result.Partial = text != ""
		result.TimedOut = true
		result.ErrorKind = string(adapter.KindTimeout)
		em.terminal(TerminalTimeout)
		return result
	}
	if errors.Is(lastErr, context.Canceled) {
		result.Partial = text != ""
		result.ErrorKind = "cancelled"
		em.terminal(TerminalTimeout)
		return result
	}

	result.ErrorKind = errorKindString(lastErr)
	em.terminal(TerminalError)
	return result
}

// admit enforces the bounded in-flight limit. Requests beyond the queue
// depth fail fast instead of growing an unbounded backlog.
func (t *RemoteTrack) admit(ctx context.Context) (func(), error) {
	queueDepth := int32(t.cfg.QueueDepth)
	if queueDepth <= 0 {
		queueDepth = 16
	}

	if t.waiters.Add(1) > queueDepth {
		t.waiters.Add(-1)
		return nil, fmt.Errorf("remote queue full (depth %d)", queueDepth)
	}
	defer t.waiters.Add(-1)

	select {
	case t.inflight <- struct{}{}:
		return func() { <-t.inflight }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *RemoteTrack) streamOnce(ctx context.Context, target Target, fullPrompt string, em *emitter) (string, *adapter.Usage, error) {
	chunks, err := target.Adapter.Stream(ctx, target.Model, fullPrompt)
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

// backoff sleeps base * factor^(attempt-1), capped, or returns early when
// the deadline fires.
func (t *RemoteTrack) backoff(ctx context.Context, attempt int) error {
	base := time.Duration(t.cfg.BaseBackoffMs) * time.Millisecond
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	factor := t.cfg.BackoffFactor
	if factor <= 1 {
		factor = 1.5
	}
	max := time.Duration(t.cfg.MaxBackoffMs) * time.Millisecond
	if max < base {
		max = base
	}

	delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if delay > max {
		delay = max
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *RemoteTrack) costFor(target Target, usage *adapter.Usage) float64 {
	if usage == nil {
		return 0
	}
	cost, ok := EstimateCost(t.cfg.Pricing, target.Adapter.Name(), target.Model, adapter.NormalizeUsage(usage))
	if !ok {
		return 0
	}
	return cost.Amount
}

func deadlineHit(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx.Err() == context.DeadlineExceeded
}
