package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/dualtrack/pkg/adaptive"
	"github.com/zen-systems/dualtrack/pkg/adapter"
	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/history"
	"github.com/zen-systems/dualtrack/pkg/integrate"
	"github.com/zen-systems/dualtrack/pkg/monitor"
	"github.com/zen-systems/dualtrack/pkg/resource"
	"github.com/zen-systems/dualtrack/pkg/router"
	"github.com/zen-systems/dualtrack/pkg/stream"
	"github.com/zen-systems/dualtrack/pkg/track"
)

// trackEventBuffer bounds each track's event channel; the coordinator is
// the only reader so a modest buffer absorbs bursts.
const trackEventBuffer = 64

// Options configures optional engine collaborators.
type Options struct {
	ContextProvider ContextProvider
	Scorer          integrate.Scorer
	ResourceProbe   resource.ProbeFunc
	History         *history.Store
	Debug           bool
}

// Engine orchestrates the classifier, tracks, coordinator, integrator,
// and the adaptive feedback loop for each query.
type Engine struct {
	cfg        *config.EngineConfig
	classifier *router.Classifier
	store      *adaptive.Store
	controller *adaptive.Controller
	guard      *resource.Guard
	mon        *monitor.Monitor
	local      *track.LocalTrack
	remote     *track.RemoteTrack
	integrator *integrate.Integrator
	provider   ContextProvider
	hist       *history.Store
	debug      bool
}

// New wires an engine from configuration and constructed adapters. The
// local adapter is required; remote targets are filtered to the adapters
// actually available so a missing API key disables a provider instead of
// failing startup.
func New(cfg *config.EngineConfig, adapters map[string]adapter.Adapter, opts Options) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}

	guardOpts := []resource.GuardOption{resource.WithDebug(opts.Debug)}
	if opts.ResourceProbe != nil {
		guardOpts = append(guardOpts, resource.WithProbe(opts.ResourceProbe))
	}
	guard := resource.NewGuard(resource.Limits{
		MemoryLimitMB:    float64(cfg.Resource.MemoryLimitMB),
		BatteryThreshold: cfg.Resource.BatteryThreshold,
		PollInterval:     time.Duration(cfg.Resource.PollMs) * time.Millisecond,
		Cooldown:         time.Duration(cfg.Resource.CooldownMs) * time.Millisecond,
	}, guardOpts...)

	mon := monitor.New(cfg.Optimizer.Window)
	mode := adaptive.ParseMode(cfg.Optimizer.Strategy)
	store := adaptive.NewStore(adaptive.DefaultState(mode, cfg.Optimizer.MinExploration))
	controller := adaptive.NewController(adaptive.ControllerConfig{
		Mode:           mode,
		Tick:           time.Duration(cfg.Optimizer.TickMs) * time.Millisecond,
		MinExploration: cfg.Optimizer.MinExploration,
		StatePath:      cfg.Optimizer.StatePath,
		Debug:          opts.Debug,
	}, store, mon, guard)

	localAdapter, ok := adapters[cfg.Local.Adapter]
	if !ok {
		return nil, fmt.Errorf("local adapter %q not available", cfg.Local.Adapter)
	}
	localTrack := track.NewLocalTrack(localAdapter, guard, cfg.Local, opts.Debug)

	var remoteTrack *track.RemoteTrack
	targets := remoteTargets(cfg.Remote, adapters)
	if len(targets) > 0 {
		var err error
		remoteTrack, err = track.NewRemoteTrack(targets, cfg.Remote, opts.Debug)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		cfg:        cfg,
		classifier: router.NewClassifier(cfg),
		store:      store,
		controller: controller,
		guard:      guard,
		mon:        mon,
		local:      localTrack,
		remote:     remoteTrack,
		integrator: integrate.New(cfg.Integration, opts.Scorer),
		provider:   opts.ContextProvider,
		hist:       opts.History,
		debug:      opts.Debug,
	}, nil
}

func remoteTargets(cfg config.RemoteConfig, adapters map[string]adapter.Adapter) []track.Target {
	var targets []track.Target
	if a, ok := adapters[cfg.Adapter]; ok {
		targets = append(targets, track.Target{Adapter: a, Model: cfg.Model})
	}
	for _, fb := range cfg.Fallback {
		if a, ok := adapters[fb.Adapter]; ok {
			targets = append(targets, track.Target{Adapter: a, Model: fb.Model})
		}
	}
	return targets
}

// Start launches the resource guard and adaptive controller.
func (e *Engine) Start(ctx context.Context) {
	e.guard.Start(ctx)
	e.controller.Start(ctx)
}

// Stop halts background loops, persisting adaptive state if configured.
func (e *Engine) Stop() {
	e.controller.Stop()
	e.guard.Stop()
}

// AdaptiveState returns the current adaptive snapshot.
func (e *Engine) AdaptiveState() *adaptive.State {
	return e.store.Snapshot()
}

// Summary returns the current performance summaries per track kind.
func (e *Engine) Summary() map[monitor.TrackKind]monitor.TrackSummary {
	return e.mon.Summary()
}

// Classify exposes the routing decision the engine would make right now.
func (e *Engine) Classify(q Query) router.Decision {
	return e.classifier.Classify(q.Text, q.ContextRefs, e.store.Snapshot())
}

// Process executes a query to completion, discarding intermediate stream
// events. The returned response is never nil and errors never surface
// from track failures, only from a cancelled context.
func (e *Engine) Process(ctx context.Context, q Query) (integrate.Response, router.Decision, error) {
	return e.ProcessStream(ctx, q, nil)
}

// ProcessStream executes a query, forwarding merged stream events to out
// when non-nil. The engine closes out when the stream ends.
func (e *Engine) ProcessStream(ctx context.Context, q Query, out chan<- stream.Event) (integrate.Response, router.Decision, error) {
	return e.process(ctx, q, out, "")
}

// ProcessForced runs a query on a fixed path, bypassing the classifier's
// path choice while keeping its deadlines.
func (e *Engine) ProcessForced(ctx context.Context, q Query, forced router.Path, out chan<- stream.Event) (integrate.Response, router.Decision, error) {
	return e.process(ctx, q, out, forced)
}

func (e *Engine) process(ctx context.Context, q Query, out chan<- stream.Event, forced router.Path) (integrate.Response, router.Decision, error) {
	state := stateCreated
	e.trace(q, state)

	contextText := e.retrieveContext(ctx, q)

	decision := e.classifier.Classify(q.Text, q.ContextRefs, e.store.Snapshot())
	state = e.advance(q, stateClassified)

	if forced != "" {
		decision.Path = forced
		decision.Reasoning = "path forced by caller"
	}
	path := e.effectivePath(decision.Path)
	results := e.dispatch(ctx, q, contextText, decision, path, out, &state)

	response := e.integrator.Integrate(results, path)
	state = e.advance(q, stateIntegrated)

	e.record(results)

	state = e.advance(q, stateDelivered)
	e.archive(q, decision, response)
	if err := ctx.Err(); err != nil {
		return response, decision, err
	}
	return response, decision, nil
}

// archive records a delivered response in the history store, if one is
// attached. Failures are logged, never surfaced to the caller.
func (e *Engine) archive(q Query, decision router.Decision, resp integrate.Response) {
	if e.hist == nil {
		return
	}
	sources := make([]string, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		sources = append(sources, string(src))
	}
	_, err := e.hist.Append(history.Record{
		QueryID:    q.ID,
		QueryText:  q.Text,
		Path:       string(decision.Path),
		Confidence: decision.Confidence,
		Strategy:   string(resp.Strategy),
		Response:   resp.Text,
		Sources:    sources,
		Partial:    resp.Partial,
		Degraded:   resp.Degraded,
	})
	if err != nil {
		log.Printf("[engine] history append failed: %v", err)
	}
}

// effectivePath downgrades the decision when a track is unavailable.
func (e *Engine) effectivePath(path router.Path) router.Path {
	if e.remote == nil {
		return router.PathLocal
	}
	return path
}

// dispatch runs the track(s) for the chosen path and returns their
// finalized results once the coordinator has drained every stream.
func (e *Engine) dispatch(ctx context.Context, q Query, contextText string, decision router.Decision, path router.Path, out chan<- stream.Event, state *queryState) []track.Result {
	var localCh, remoteCh chan track.Event
	runLocal := path == router.PathLocal || path == router.PathParallel
	runRemote := path == router.PathRemote || path == router.PathParallel

	switch {
	case runLocal && runRemote:
		*state = e.advance(q, stateBothActive)
	case runLocal:
		*state = e.advance(q, stateLocalActive)
	default:
		*state = e.advance(q, stateRemoteActive)
	}

	if runLocal {
		localCh = make(chan track.Event, trackEventBuffer)
	}
	if runRemote {
		remoteCh = make(chan track.Event, trackEventBuffer)
	}

	coordinator := stream.NewCoordinator(localCh, remoteCh, runLocal && runRemote, out)
	coordDone := make(chan struct{})
	go func() {
		coordinator.Run()
		close(coordDone)
	}()

	localCtx, cancelLocal := context.WithCancel(ctx)
	defer cancelLocal()

	resultCh := make(chan track.Result, 2)
	active := 0
	if runLocal {
		active++
		go func() {
			resultCh <- e.local.Run(localCtx, q.Text, contextText, decision.LocalDeadline, localCh)
		}()
	}
	if runRemote {
		active++
		go func() {
			resultCh <- e.remote.Run(ctx, q.Text, contextText, decision.RemoteDeadline, remoteCh)
		}()
	}

	interrupt := runLocal && runRemote && e.cfg.Integration.Strategy == "interrupt"

	var results []track.Result
	for i := 0; i < active; i++ {
		r := <-resultCh
		// A completed remote answer supersedes the still-running local
		// generation so device compute is freed promptly.
		if interrupt && r.Source == track.KindRemote && r.Success {
			cancelLocal()
		}
		results = append(results, r)
	}
	<-coordDone

	// A local-only refusal under resource pressure falls over to remote
	// rather than failing the request.
	if path == router.PathLocal && e.remote != nil && len(results) == 1 &&
		results[0].ErrorKind == track.ErrorKindResource {
		if e.debug {
			log.Printf("[engine] query %s: local refused (%s), rerouting to remote", q.ID, results[0].ErrorKind)
		}
		remoteResult := e.remote.Run(ctx, q.Text, contextText, decision.RemoteDeadline, nil)
		results = append(results, remoteResult)
	}

	return results
}

func (e *Engine) retrieveContext(ctx context.Context, q Query) string {
	if e.provider == nil {
		return ""
	}
	contextText, err := e.provider.RetrieveContext(ctx, q)
	if err != nil {
		log.Printf("[engine] context retrieval failed for %s: %v", q.ID, err)
		return ""
	}
	return contextText
}

// record logs one performance sample per track result, including error
// kinds, so the adaptive controller sees failures as well as successes.
func (e *Engine) record(results []track.Result) {
	snap := e.guard.Latest()
	for _, r := range results {
		kind := monitor.TrackLocal
		if r.Source == track.KindRemote {
			kind = monitor.TrackRemote
		}
		e.mon.Record(monitor.Sample{
			Track:      kind,
			Latency:    r.Latency,
			CostUSD:    r.CostUSD,
			Quality:    qualityScore(r),
			Success:    r.Success,
			ErrorKind:  r.ErrorKind,
			MemoryMB:   snap.HeapMB,
			CPUPercent: snap.CPUPercent,
		})
	}
}

// qualityScore is a cheap proxy until a real evaluator feeds the loop.
func qualityScore(r track.Result) float64 {
	switch {
	case r.Success:
		return 1.0
	case r.Partial:
		return 0.5
	default:
		return 0
	}
}

func (e *Engine) advance(q Query, to queryState) queryState {
	e.trace(q, to)
	return to
}

func (e *Engine) trace(q Query, state queryState) {
	if e.debug {
		log.Printf("[engine] query %s: %s", q.ID, state)
	}
}
