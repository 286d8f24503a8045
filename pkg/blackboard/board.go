package blackboard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Board is the append-only signal log for one analysis run.
//
// The log is versioned: every Add increments the version, and Snapshot cuts an
// immutable view at the current version. Additions from concurrently running
// waves are serialized by the board's mutex. Nothing is ever removed.
//
// Multiple occurrences of the same key are kept. Get returns the last
// occurrence (the canonical value for single-value keys); GetAll returns every
// occurrence in emission order.
type Board struct {
	mu         sync.RWMutex
	sessionID  string
	startedAt  time.Time
	log        []Signal
	index      map[string][]int
	completed  map[string]struct{}
	failed     map[string]string
	confidence float64
}

// NewBoard creates an empty board. An empty sessionID is replaced by a new UUID.
func NewBoard(sessionID string) *Board {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Board{
		sessionID: sessionID,
		startedAt: time.Now(),
		index:     make(map[string][]int),
		completed: make(map[string]struct{}),
		failed:    make(map[string]string),
	}
}

// SessionID returns the correlation identifier of the run.
func (b *Board) SessionID() string {
	return b.sessionID
}

// StartedAt returns when the board was created.
func (b *Board) StartedAt() time.Time {
	return b.startedAt
}

// Add appends a signal to the log. Invalid signals are rejected.
func (b *Board) Add(s Signal) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(s.Clone())
	return nil
}

// AddAll appends signals atomically: either every signal is appended or none.
func (b *Board) AddAll(signals []Signal) error {
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("invalid signal: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range signals {
		b.appendLocked(s.Clone())
	}
	return nil
}

func (b *Board) appendLocked(s Signal) {
	b.index[s.Key] = append(b.index[s.Key], len(b.log))
	b.log = append(b.log, s)
	if s.HasTag(TagConfidence) && s.Confidence > b.confidence {
		b.confidence = s.Confidence
	}
}

// MarkCompleted records a wave as completed.
// A wave name may appear at most once across the completed and failed sets.
func (b *Board) MarkCompleted(wave string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkUnrecordedLocked(wave); err != nil {
		return err
	}
	b.completed[wave] = struct{}{}
	return nil
}

// MarkFailed records a wave as failed with its error.
func (b *Board) MarkFailed(wave string, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkUnrecordedLocked(wave); err != nil {
		return err
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	b.failed[wave] = msg
	return nil
}

func (b *Board) checkUnrecordedLocked(wave string) error {
	if wave == "" {
		return fmt.Errorf("wave name cannot be empty")
	}
	if _, ok := b.completed[wave]; ok {
		return fmt.Errorf("wave %q already recorded as completed", wave)
	}
	if _, ok := b.failed[wave]; ok {
		return fmt.Errorf("wave %q already recorded as failed", wave)
	}
	return nil
}

// Version returns the number of signals appended so far.
func (b *Board) Version() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.log)
}

// Get returns the last occurrence of key.
func (b *Board) Get(key string) (Signal, bool) {
	return b.Snapshot().Get(key)
}

// Has reports whether key has been emitted at least once.
func (b *Board) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index[key]) > 0
}

// Snapshot cuts an immutable view of the board at its current version.
func (b *Board) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.log)
	index := make(map[string][]int, len(b.index))
	for k, positions := range b.index {
		index[k] = positions[:len(positions):len(positions)]
	}
	completed := make(map[string]struct{}, len(b.completed))
	for k := range b.completed {
		completed[k] = struct{}{}
	}
	failed := make(map[string]string, len(b.failed))
	for k, v := range b.failed {
		failed[k] = v
	}

	return &Snapshot{
		sessionID:  b.sessionID,
		version:    n,
		elapsed:    time.Since(b.startedAt),
		log:        b.log[:n:n],
		index:      index,
		completed:  completed,
		failed:     failed,
		confidence: b.confidence,
	}
}

// Snapshot is an immutable view of a Board.
// The log slice shares storage with the board; it is capped at the snapshot
// version so later appends are never visible.
type Snapshot struct {
	sessionID  string
	version    int
	elapsed    time.Duration
	log        []Signal
	index      map[string][]int
	completed  map[string]struct{}
	failed     map[string]string
	confidence float64
}

// SessionID returns the correlation identifier of the run.
func (s *Snapshot) SessionID() string { return s.sessionID }

// Version returns the log version the snapshot was cut at.
func (s *Snapshot) Version() int { return s.version }

// Elapsed returns the time since the run started, measured when the snapshot was cut.
func (s *Snapshot) Elapsed() time.Duration { return s.elapsed }

// Confidence returns the running aggregate confidence: the maximum confidence
// of any signal tagged TagConfidence.
func (s *Snapshot) Confidence() float64 { return s.confidence }

// Get returns the last occurrence of key.
func (s *Snapshot) Get(key string) (Signal, bool) {
	positions := s.index[key]
	if len(positions) == 0 {
		return Signal{}, false
	}
	return s.log[positions[len(positions)-1]].Clone(), true
}

// Has reports whether key has been emitted at least once.
func (s *Snapshot) Has(key string) bool {
	return len(s.index[key]) > 0
}

// HasPrefix reports whether any key equal to prefix or below it has been emitted.
func (s *Snapshot) HasPrefix(prefix string) bool {
	for key := range s.index {
		if matchesPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// GetFloat returns the numeric value of the last occurrence of key, or def.
func (s *Snapshot) GetFloat(key string, def float64) float64 {
	sig, ok := s.Get(key)
	if !ok {
		return def
	}
	if f, ok := sig.Value.AsFloat(); ok {
		return f
	}
	return def
}

// GetString returns the string value of the last occurrence of key, or def.
func (s *Snapshot) GetString(key string, def string) string {
	sig, ok := s.Get(key)
	if !ok || sig.Value.Kind != KindString {
		return def
	}
	return sig.Value.Str
}

// GetBool returns the boolean value of the last occurrence of key, or def.
func (s *Snapshot) GetBool(key string, def bool) bool {
	sig, ok := s.Get(key)
	if !ok {
		return def
	}
	if b, ok := sig.Value.AsBool(); ok {
		return b
	}
	return def
}

// GetAll returns every occurrence of every key equal to prefix, below it
// ("prefix.x"), or indexed under it ("prefix[i]"), in emission order.
func (s *Snapshot) GetAll(prefix string) []Signal {
	var out []Signal
	for _, sig := range s.log {
		if matchesPrefix(sig.Key, prefix) {
			out = append(out, sig.Clone())
		}
	}
	return out
}

// BySource returns the signals emitted by one wave, in emission order.
func (s *Snapshot) BySource(wave string) []Signal {
	var out []Signal
	for _, sig := range s.log {
		if sig.Source == wave {
			out = append(out, sig.Clone())
		}
	}
	return out
}

// Signals returns every signal in emission order.
func (s *Snapshot) Signals() []Signal {
	out := make([]Signal, len(s.log))
	for i, sig := range s.log {
		out[i] = sig.Clone()
	}
	return out
}

// SignalMap groups every signal by key, preserving emission order per key.
func (s *Snapshot) SignalMap() map[string][]Signal {
	out := make(map[string][]Signal, len(s.index))
	for _, sig := range s.log {
		out[sig.Key] = append(out[sig.Key], sig.Clone())
	}
	return out
}

// Completed returns the sorted names of completed waves.
func (s *Snapshot) Completed() []string {
	return sortedKeys(s.completed)
}

// Failed returns wave name -> error message for failed waves.
func (s *Snapshot) Failed() map[string]string {
	out := make(map[string]string, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}

// IsCompleted reports whether wave completed.
func (s *Snapshot) IsCompleted(wave string) bool {
	_, ok := s.completed[wave]
	return ok
}

// IsFailed reports whether wave failed.
func (s *Snapshot) IsFailed(wave string) bool {
	_, ok := s.failed[wave]
	return ok
}

func matchesPrefix(key, prefix string) bool {
	if prefix == "" || key == prefix {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	next := key[len(prefix)]
	return next == '.' || next == '[' || strings.HasSuffix(prefix, ".")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
