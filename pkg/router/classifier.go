package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/zen-systems/dualtrack/pkg/adaptive"
	"github.com/zen-systems/dualtrack/pkg/config"
)

// Classifier picks a routing path per query. Classify is a pure function
// over the query, its context, and an adaptive-state snapshot; the same
// inputs always yield the same decision.
type Classifier struct {
	thresholds    config.ThresholdsConfig
	defaultPath   Path
	localTimeout  time.Duration
	remoteTimeout time.Duration
}

// NewClassifier creates a classifier from engine configuration.
func NewClassifier(cfg *config.EngineConfig) *Classifier {
	return &Classifier{
		thresholds:    cfg.Routing.Thresholds,
		defaultPath:   ParsePath(cfg.Routing.DefaultPath),
		localTimeout:  time.Duration(cfg.Local.TimeoutMs) * time.Millisecond,
		remoteTimeout: time.Duration(cfg.Remote.TimeoutMs) * time.Millisecond,
	}
}

// Classify produces the routing decision for a query. Empty or
// whitespace-only text routes to parallel with zero confidence; it never
// returns an error.
func (c *Classifier) Classify(text string, contextRefs []string, snap *adaptive.State) Decision {
	if snap == nil {
		snap = adaptive.DefaultState(adaptive.ModeBalanced, 0.05)
	}

	decision := Decision{
		LocalDeadline:  scaleDuration(c.localTimeout, snap.LocalTimeoutMult),
		RemoteDeadline: scaleDuration(c.remoteTimeout, snap.RemoteTimeoutMult),
	}

	if strings.TrimSpace(text) == "" {
		decision.Path = PathParallel
		decision.Confidence = 0
		decision.Reasoning = "invalid input"
		return decision
	}

	features := ExtractFeatures(text, contextRefs)
	decision.Features = features

	// The routing bias nudges each threshold within a bounded range
	// without changing rule order. Positive bias favors the remote track,
	// so it shrinks local-favoring thresholds and loosens remote ones.
	bias := clampBias(snap.RoutingBias)
	nudge := bias * c.thresholds.BiasRange

	shortTokens := float64(c.thresholds.ShortTokens) * (1 - nudge)
	factualTokens := float64(c.thresholds.FactualTokens) * (1 - nudge)
	reasoningSteps := float64(c.thresholds.ReasoningSteps) * (1 - nudge)
	contextDep := c.thresholds.ContextDependency * (1 - nudge)

	switch {
	case features.Social && float64(features.TokenEstimate) < shortTokens:
		decision.Path = PathLocal
		decision.Confidence = 0.9
		decision.Reasoning = "short social chat suits the on-device model"
	case features.Factual && float64(features.TokenEstimate) < factualTokens:
		decision.Path = PathLocal
		decision.Confidence = 0.8
		decision.Reasoning = "short factual retrieval suits the on-device model"
	case float64(features.ReasoningSteps) > reasoningSteps || features.Creative:
		decision.Path = PathRemote
		decision.Confidence = 0.85
		decision.Reasoning = fmt.Sprintf("multi-step reasoning or creative work (steps=%d creative=%v)",
			features.ReasoningSteps, features.Creative)
	case features.ContextDependency > contextDep:
		decision.Path = PathRemote
		decision.Confidence = 0.75
		decision.Reasoning = fmt.Sprintf("high context dependency (%.2f)", features.ContextDependency)
	default:
		decision.Path = c.defaultPath
		decision.Confidence = 0.7
		decision.Reasoning = fmt.Sprintf("no strong signal; using default path %s", c.defaultPath)
	}

	return decision
}

func clampBias(bias float64) float64 {
	if bias < -1 {
		return -1
	}
	if bias > 1 {
		return 1
	}
	return bias
}

func scaleDuration(d time.Duration, mult float64) time.Duration {
	if mult <= 0 {
		return d
	}
	return time.Duration(float64(d) * mult)
}
