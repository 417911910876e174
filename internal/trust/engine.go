// Package trust maintains Beta-distribution reputation scores per
// identity and decides content visibility. Evidence is self-weighted:
// what an actor's endorsement or report is worth scales with the
// actor's own current score.
package trust

import (
	"hash/fnv"
	"log/slog"
	"sync"
)

// DefaultHideThreshold hides content whose author scores below it.
const DefaultHideThreshold = 0.35

const shardCount = 16

// Record holds the Beta-distribution parameters for one subject.
// Both stay >= 1 (uninformative prior) and only ever grow.
type Record struct {
	Alpha float64
	Beta  float64
}

// Score is alpha/(alpha+beta), always inside (0,1).
func (r Record) Score() float64 {
	return r.Alpha / (r.Alpha + r.Beta)
}

type shard struct {
	mu   sync.Mutex
	recs map[string]*Record
}

// Engine is the process-wide reputation scorer. Updates for different
// subjects proceed concurrently; updates for one subject serialize on
// its shard.
type Engine struct {
	shards        [shardCount]shard
	hideThreshold float64
	logger        *slog.Logger
}

// NewEngine creates an engine with the given hide threshold; a
// non-positive threshold selects the default.
func NewEngine(hideThreshold float64, logger *slog.Logger) *Engine {
	if hideThreshold <= 0 {
		hideThreshold = DefaultHideThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{hideThreshold: hideThreshold, logger: logger}
	for i := range e.shards {
		e.shards[i].recs = make(map[string]*Record)
	}
	return e
}

func (e *Engine) shardFor(subject string) *shard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return &e.shards[h.Sum32()%shardCount]
}

// Score returns the subject's current score, lazily initializing the
// Beta(1,1) prior on first access. Records are never deleted and never
// decay.
func (e *Engine) Score(subject string) float64 {
	s := e.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(subject).Score()
}

// Record returns a copy of the subject's accumulators.
func (e *Engine) Record(subject string) Record {
	s := e.shardFor(subject)
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.record(subject)
}

// record must be called with the shard lock held.
func (s *shard) record(subject string) *Record {
	r, ok := s.recs[subject]
	if !ok {
		r = &Record{Alpha: 1, Beta: 1}
		s.recs[subject] = r
	}
	return r
}

// RecordPositive adds positive evidence about subject contributed by
// actor: alpha += score(actor) * weight.
func (e *Engine) RecordPositive(subject, actor string, weight float64) {
	if weight <= 0 {
		return
	}
	delta := e.Score(actor) * weight
	s := e.shardFor(subject)
	s.mu.Lock()
	r := s.record(subject)
	r.Alpha += delta
	score := r.Score()
	s.mu.Unlock()
	e.logger.Debug("positive evidence",
		"subject", abbrev(subject), "delta", delta, "score", score)
}

// RecordNegative adds negative evidence about subject contributed by
// actor: beta += score(actor) * baseWeight * velocityMultiplier.
func (e *Engine) RecordNegative(subject, actor string, baseWeight, velocityMultiplier float64) {
	if baseWeight <= 0 || velocityMultiplier <= 0 {
		return
	}
	delta := e.Score(actor) * baseWeight * velocityMultiplier
	s := e.shardFor(subject)
	s.mu.Lock()
	r := s.record(subject)
	r.Beta += delta
	score := r.Score()
	s.mu.Unlock()
	e.logger.Debug("negative evidence",
		"subject", abbrev(subject), "delta", delta, "velocity", velocityMultiplier, "score", score)
}

// ShouldHide reports whether the subject's content is suppressed from
// the feed.
func (e *Engine) ShouldHide(subject string) bool {
	return e.Score(subject) < e.hideThreshold
}

func abbrev(pubkey string) string {
	if len(pubkey) > 10 {
		return pubkey[:10]
	}
	return pubkey
}
