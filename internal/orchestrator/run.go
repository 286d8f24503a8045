package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/routing"
	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Sources of signals the orchestrator emits itself.
const (
	sourceRequest = "request"
	sourceCache   = "signature_cache"
)

// Skip reasons recorded in Result.Skipped.
const (
	SkipDisabled     = "disabled"
	SkipUnregistered = "unregistered"
	SkipRoute        = "route_skip"
	SkipMissingInput = "missing_input"
	SkipTrigger      = "trigger_unmet"
	SkipWhen         = "skip_when"
	SkipShouldRun    = "should_run"
	SkipEarlyExit    = "early_exit"
	SkipUnresolved   = "unresolved_dependency"
	SkipCancelled    = "cancelled"
	SkipRejected     = "rejected"
)

// run is the state of one Analyze call.
type run struct {
	engine  *Engine
	set     *manifest.Set
	waves   map[string]wave.Wave
	img     *imaging.Image
	opts    Options
	key     string
	board   *blackboard.Board
	machine *runMachine

	route     blackboard.Route
	fromCache bool

	mu        sync.Mutex
	skipped   map[string]string
	truncated bool
	reject    error
}

func newRun(e *Engine, set *manifest.Set, waves map[string]wave.Wave, img *imaging.Image, opts Options) *run {
	board := blackboard.NewBoard(opts.SessionID)
	return &run{
		engine:  e,
		set:     set,
		waves:   waves,
		img:     img,
		opts:    opts,
		key:     img.ContentHash(),
		board:   board,
		machine: newRunMachine(board.SessionID()),
		skipped: make(map[string]string),
	}
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	if r.opts.Caption {
		if err := r.board.Add(blackboard.NewSignal("request.caption", blackboard.Bool(true), 1, sourceRequest)); err != nil {
			return nil, err
		}
	}

	if err := r.machine.fire(ctx, eventRoute); err != nil {
		return nil, err
	}
	if cached := r.lookup(ctx); cached == nil || !r.replay(cached) {
		r.schedule(ctx, r.lane(true), 1.0)
		r.route = routeFrom(r.board.Snapshot())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cause := r.rejection(); cause != nil {
		return r.rejectWith(ctx, cause)
	}

	if err := r.machine.fire(ctx, eventExecute); err != nil {
		return nil, err
	}
	threshold := r.engine.cfg.threshold(r.route.Tier)
	if r.opts.NoEarlyExit {
		threshold = 1.0
	}
	r.schedule(ctx, r.lane(false), threshold)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cause := r.rejection(); cause != nil {
		return r.rejectWith(ctx, cause)
	}
	if cause := r.contradiction(r.board.Snapshot()); cause != nil {
		return r.rejectWith(ctx, cause)
	}

	if err := r.machine.fire(ctx, eventAggregate); err != nil {
		return nil, err
	}
	res := r.aggregate(blackboard.AnalysisStatusDone)
	if err := r.machine.fire(ctx, eventFinish); err != nil {
		return nil, err
	}
	res.States = r.machine.History()
	return res, nil
}

func (r *run) rejectWith(ctx context.Context, cause error) (*Result, error) {
	if err := r.machine.fire(ctx, eventReject); err != nil {
		return nil, err
	}
	res := r.aggregate(blackboard.AnalysisStatusRejected)
	res.RejectReason = cause.Error()
	res.States = r.machine.History()
	return res, fmt.Errorf("%w: %v", ErrRejected, cause)
}

// lane returns the manifests of the routing lane, or of every other lane,
// in (priority, name) order.
func (r *run) lane(routingLane bool) []manifest.Manifest {
	var out []manifest.Manifest
	for _, m := range r.set.All() {
		if (m.LaneName() == manifest.RoutingLane) == routingLane {
			out = append(out, m)
		}
	}
	return out
}

// lookup returns a complete cached signature for the image, or nil.
// Store errors are logged and treated as a miss.
func (r *run) lookup(ctx context.Context) *blackboard.Signature {
	if r.opts.SkipCache || r.engine.store == nil {
		return nil
	}
	sig, err := r.engine.store.Get(ctx, r.key)
	switch {
	case signature.IsNotFound(err):
		cacheLookups.WithLabelValues("miss").Inc()
		return nil
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		log.Printf("[Orchestrator] Signature lookup for %s failed, running cold: %v", shortKey(r.key), err)
		return nil
	case !sig.IsComplete || sig.Route == nil:
		cacheLookups.WithLabelValues("partial").Inc()
		return nil
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return sig
}

// replay seeds the board from a cached signature instead of routing. The
// stored route is re-emitted with reason cached_decision and the waves that
// contributed to the signature are recorded as completed. It reports false
// when the stored signals are unusable, leaving the board untouched.
func (r *run) replay(sig *blackboard.Signature) bool {
	route := blackboard.Route{
		Tier:   sig.Route.Tier,
		Reason: routing.ReasonCachedDecision,
		Skip:   append([]string(nil), sig.Route.Skip...),
	}

	keys := make([]string, 0, len(sig.Signals))
	for key := range sig.Signals {
		if strings.HasPrefix(key, "route.") || strings.HasPrefix(key, "request.") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var signals []blackboard.Signal
	for _, key := range keys {
		signals = append(signals, sig.Signals[key]...)
	}
	signals = append(signals, routing.Signals(route, r.routeParams(), sourceCache)...)

	if err := r.board.AddAll(signals); err != nil {
		log.Printf("[Orchestrator] Cached signature %s is unusable, running cold: %v", shortKey(r.key), err)
		cacheLookups.WithLabelValues("error").Inc()
		return false
	}
	for _, name := range sig.ContributingWaves {
		if err := r.board.MarkCompleted(name); err != nil {
			log.Printf("[Orchestrator] Ignoring replayed wave %s: %v", name, err)
		}
	}
	r.route = route
	r.fromCache = true
	return true
}

// routeParams reads routing thresholds from the manifest producing the route.
func (r *run) routeParams() routing.Params {
	for _, name := range r.set.Producers("route.selected") {
		if m, ok := r.set.Get(name); ok {
			return routing.ParamsFrom(m.Defaults)
		}
	}
	return routing.DefaultParams()
}

// routeFrom reads the route decided by the routing lane. Without a valid
// route.selected the run proceeds as balanced.
func routeFrom(snap *blackboard.Snapshot) blackboard.Route {
	tier := blackboard.Tier(snap.GetString("route.selected", ""))
	if tier.Validate() != nil {
		return blackboard.Route{Tier: blackboard.TierBalanced, Reason: "route_unavailable"}
	}
	route := blackboard.Route{Tier: tier, Reason: snap.GetString("route.reason", routing.ReasonDefault)}
	seen := make(map[string]bool)
	for _, s := range snap.GetAll("route.skip") {
		name := strings.TrimPrefix(s.Key, "route.skip.")
		if seen[name] {
			continue
		}
		seen[name] = true
		if snap.GetBool(s.Key, false) {
			route.Skip = append(route.Skip, name)
		}
	}
	sort.Strings(route.Skip)
	return route
}

// runWave executes one wave and records its outcome on the board. It
// returns the signals the wave emitted, or nil when it failed.
func (r *run) runWave(ctx context.Context, m manifest.Manifest, w wave.Wave) []blackboard.Signal {
	ctx, span := tracer.Start(ctx, "wave."+m.Name,
		trace.WithAttributes(
			attribute.String("glint.wave", m.Name),
			attribute.String("glint.lane", m.LaneName()),
			attribute.Int("glint.priority", m.Priority),
			attribute.String("glint.session_id", r.board.SessionID()),
		),
	)
	defer span.End()

	r.emitMarkers(m.Name, m.Emits.OnStart)

	start := time.Now()
	signals, err := r.invoke(ctx, m, w)
	waveSeconds.WithLabelValues(m.Name).Observe(time.Since(start).Seconds())
	if err == nil {
		err = r.board.AddAll(signals)
	}

	if err != nil {
		r.emitMarkers(m.Name, m.Emits.OnFail)
		if markErr := r.board.MarkFailed(m.Name, err); markErr != nil {
			log.Printf("[Orchestrator] %v", markErr)
		}
		if wave.IsCritical(err) && r.engine.cfg.RejectOnCritical {
			r.setReject(fmt.Errorf("critical failure in wave %s: %w", m.Name, err))
		}
		waveOutcomes.WithLabelValues(m.Name, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("[Orchestrator] Wave %s failed: %v", m.Name, err)
		return nil
	}

	r.emitMarkers(m.Name, m.Emits.OnComplete)
	snap := r.board.Snapshot()
	for _, c := range m.Emits.Conditional {
		if c.When.Eval(snap) {
			r.emitMarkers(m.Name, []string{c.Key})
		}
	}
	if m.Taxonomy.Persistence == manifest.PersistenceEscalatable {
		for _, esc := range m.Escalation {
			if manifest.All(esc.When, snap) && !manifest.Any(esc.SkipWhen, snap) {
				r.emitMarkers(m.Name, []string{manifest.EscalationKey(esc.Target)})
			}
		}
	}

	if err := r.board.MarkCompleted(m.Name); err != nil {
		log.Printf("[Orchestrator] %v", err)
	}
	waveOutcomes.WithLabelValues(m.Name, "completed").Inc()
	span.SetAttributes(attribute.Int("glint.signals", len(signals)))
	span.SetStatus(codes.Ok, "")
	return signals
}

// invoke calls Analyze under the wave's budget. A wave that ignores
// cancellation is abandoned when the budget expires; its late result is
// discarded.
func (r *run) invoke(ctx context.Context, m manifest.Manifest, w wave.Wave) ([]blackboard.Signal, error) {
	budget := m.Budget.MaxDuration.Std()
	if budget <= 0 {
		budget = r.engine.cfg.DefaultWaveTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		signals []blackboard.Signal
		err     error
	}
	done := make(chan outcome, 1)
	snap := r.board.Snapshot()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("wave panicked: %v", p)}
			}
		}()
		signals, err := w.Analyze(wctx, r.img, snap)
		done <- outcome{signals: signals, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("budget of %s exceeded: %w", budget, out.err)
		}
		return out.signals, out.err
	case <-wctx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("budget of %s exceeded: %w", budget, wctx.Err())
	}
}

// emitMarkers appends boolean marker signals declared by a manifest.
func (r *run) emitMarkers(source string, keys []string) {
	if len(keys) == 0 {
		return
	}
	markers := make([]blackboard.Signal, len(keys))
	for i, key := range keys {
		markers[i] = blackboard.NewSignal(key, blackboard.Bool(true), 1, source, blackboard.TagEmission)
	}
	if err := r.board.AddAll(markers); err != nil {
		log.Printf("[Orchestrator] Dropping markers from %s: %v", source, err)
	}
}

func (r *run) skip(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[name] = reason
	if reason == SkipEarlyExit {
		r.truncated = true
	}
	waveOutcomes.WithLabelValues(name, "skipped").Inc()
}

func (r *run) setReject(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject == nil {
		r.reject = cause
	}
}

func (r *run) rejection() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reject
}

// contradiction returns the first configured pair of signals that disagree
// beyond its tolerance when the reject policy is on. Otherwise
// disagreements are only logged.
func (r *run) contradiction(snap *blackboard.Snapshot) error {
	for _, c := range r.engine.cfg.Contradictions {
		a, okA := snap.Get(c.A)
		b, okB := snap.Get(c.B)
		if !okA || !okB || agree(a.Value, b.Value, c.Tolerance) {
			continue
		}
		err := fmt.Errorf("%s=%s contradicts %s=%s", c.A, a.Value.AsString(), c.B, b.Value.AsString())
		if r.engine.cfg.RejectOnCritical {
			return err
		}
		log.Printf("[Orchestrator] WARNING: %v", err)
	}
	return nil
}

func agree(a, b blackboard.Value, tolerance float64) bool {
	fa, okA := a.AsFloat()
	fb, okB := b.AsFloat()
	if okA && okB {
		return math.Abs(fa-fb) <= tolerance
	}
	return a.Equal(b)
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
