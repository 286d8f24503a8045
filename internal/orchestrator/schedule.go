package orchestrator

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/pkg/blackboard"
)

type verdict int

const (
	verdictWait verdict = iota
	verdictReady
	verdictSkip
)

// scheduler dispatches one group of manifests across their lanes. Each lane
// is a weighted semaphore sized to its concurrency cap; ready waves are
// launched in (priority, name) order whenever their lane has room.
type scheduler struct {
	r         *run
	lanes     map[string]*semaphore.Weighted
	threshold float64
	wake      chan struct{}

	mu      sync.Mutex
	pending []manifest.Manifest
	open    map[string]bool // pending or running
	running int
	stopped bool
}

// schedule runs manifests to completion. Waves with a confidence signal at
// or above threshold stop further dispatch; running waves finish. A
// threshold of 1.0 or more disables early exit. A rejection stops dispatch
// the same way.
func (r *run) schedule(ctx context.Context, manifests []manifest.Manifest, threshold float64) {
	s := &scheduler{
		r:         r,
		lanes:     make(map[string]*semaphore.Weighted),
		threshold: threshold,
		wake:      make(chan struct{}, 1),
		open:      make(map[string]bool),
	}

	snap := r.board.Snapshot()
	caps := r.set.LaneCaps()
	for _, m := range manifests {
		if snap.IsCompleted(m.Name) || snap.IsFailed(m.Name) {
			continue
		}
		s.pending = append(s.pending, m)
		s.open[m.Name] = true
		lane := m.LaneName()
		if _, ok := s.lanes[lane]; !ok {
			size := caps[lane]
			if size <= 0 {
				size = len(manifests)
			}
			s.lanes[lane] = semaphore.NewWeighted(int64(size))
		}
	}

	var g errgroup.Group
	for {
		launched := s.dispatch(ctx, &g)

		s.mu.Lock()
		pending, running := len(s.pending), s.running
		s.mu.Unlock()

		if pending == 0 && running == 0 {
			break
		}
		if running == 0 && launched == 0 {
			// Everything left waits on something that will never settle.
			s.skipPending(SkipUnresolved)
			break
		}
		<-s.wake
	}
	_ = g.Wait()
}

// dispatch makes one pass over the pending waves and returns how many it
// launched.
func (s *scheduler) dispatch(ctx context.Context, g *errgroup.Group) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.r.rejection() != nil:
		s.skipPendingLocked(SkipRejected)
		return 0
	case s.stopped:
		s.skipPendingLocked(SkipEarlyExit)
		return 0
	case ctx.Err() != nil:
		s.skipPendingLocked(SkipCancelled)
		return 0
	}

	snap := s.r.board.Snapshot()
	launched := 0
	remaining := make([]manifest.Manifest, 0, len(s.pending))
	for _, m := range s.pending {
		v, reason := s.readiness(m, snap)
		switch v {
		case verdictSkip:
			delete(s.open, m.Name)
			s.r.skip(m.Name, reason)
		case verdictWait:
			remaining = append(remaining, m)
		case verdictReady:
			sem := s.lanes[m.LaneName()]
			if !sem.TryAcquire(1) {
				remaining = append(remaining, m)
				continue
			}
			s.running++
			launched++
			m := m
			w := s.r.waves[m.Name]
			g.Go(func() error {
				defer sem.Release(1)
				signals := s.r.runWave(ctx, m, w)
				s.finish(m.Name, signals)
				return nil
			})
		}
	}
	s.pending = remaining
	return launched
}

// readiness decides whether m can run against snap. A wave waits while any
// producer of a key it listens to or triggers on is still open.
func (s *scheduler) readiness(m manifest.Manifest, snap *blackboard.Snapshot) (verdict, string) {
	if !m.IsEnabled() {
		return verdictSkip, SkipDisabled
	}
	w, ok := s.r.waves[m.Name]
	if !ok {
		return verdictSkip, SkipUnregistered
	}
	if snap.GetBool(manifest.SkipKey(m.Name), false) {
		return verdictSkip, SkipRoute
	}

	for _, key := range dependencyKeys(m) {
		for _, producer := range s.r.set.Producers(key) {
			if producer != m.Name && s.open[producer] {
				return verdictWait, ""
			}
		}
	}

	for _, key := range m.Listens.Required {
		if !snap.HasPrefix(key) {
			return verdictSkip, SkipMissingInput
		}
	}
	if !manifest.All(m.Triggers.Requires, snap) {
		return verdictSkip, SkipTrigger
	}
	if len(m.Triggers.AnyOf) > 0 && !manifest.Any(m.Triggers.AnyOf, snap) {
		return verdictSkip, SkipTrigger
	}
	if manifest.Any(m.Triggers.SkipWhen, snap) {
		return verdictSkip, SkipWhen
	}
	if !w.ShouldRun(s.r.img, snap) {
		return verdictSkip, SkipShouldRun
	}
	return verdictReady, ""
}

// finish records a wave's return, checks configured contradictions under the
// reject policy and checks the early exit threshold.
func (s *scheduler) finish(name string, signals []blackboard.Signal) {
	if s.r.engine.cfg.RejectOnCritical && len(signals) > 0 {
		if cause := s.r.contradiction(s.r.board.Snapshot()); cause != nil {
			s.r.setReject(cause)
		}
	}

	s.mu.Lock()
	s.running--
	delete(s.open, name)
	if !s.stopped && s.crosses(signals) {
		s.stopped = true
		earlyExits.WithLabelValues(string(s.r.route.Tier)).Inc()
		s.r.engine.logEvent("early_exit", map[string]interface{}{
			"session_id": s.r.board.SessionID(),
			"wave":       name,
			"tier":       s.r.route.Tier,
			"threshold":  s.threshold,
		})
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// crosses reports whether any confidence signal reaches the threshold.
func (s *scheduler) crosses(signals []blackboard.Signal) bool {
	if s.threshold >= 1.0 {
		return false
	}
	for _, sig := range signals {
		if !sig.HasTag(blackboard.TagConfidence) && !strings.HasSuffix(sig.Key, ".confidence") {
			continue
		}
		if sig.Confidence >= s.threshold {
			return true
		}
	}
	return false
}

func (s *scheduler) skipPending(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipPendingLocked(reason)
}

func (s *scheduler) skipPendingLocked(reason string) {
	for _, m := range s.pending {
		delete(s.open, m.Name)
		s.r.skip(m.Name, reason)
	}
	s.pending = nil
}

// dependencyKeys lists every key m waits on: listened-to keys and the
// signals its triggers inspect.
func dependencyKeys(m manifest.Manifest) []string {
	keys := append([]string(nil), m.Listens.Required...)
	keys = append(keys, m.Listens.Optional...)
	for _, group := range [][]manifest.Condition{m.Triggers.Requires, m.Triggers.AnyOf, m.Triggers.SkipWhen} {
		for _, c := range group {
			keys = append(keys, c.Signal)
		}
	}
	return keys
}
