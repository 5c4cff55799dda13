// Package selector picks the phrases a learner practices next, biased toward
// the words they keep getting wrong.
package selector

import (
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/textnorm"
)

// ErrEmptyModule is returned when a module has no phrases to build from.
var ErrEmptyModule = errors.New("content unavailable: module has no phrases")

// Limits controls exam composition.
type Limits struct {
	ExamSize    int
	PrimaryTier int
	CrossTier   int
	WeakFetch   int
}

// DefaultLimits returns the standard exam shape.
func DefaultLimits() Limits {
	return Limits{ExamSize: 20, PrimaryTier: 14, CrossTier: 6, WeakFetch: 30}
}

// Selector builds exams and drills. It is not safe for concurrent use
// because it owns its random source.
type Selector struct {
	rnd    *rand.Rand
	limits Limits
}

// New returns a Selector seeded with the current time.
func New(limits Limits) *Selector {
	return NewWithSource(limits, rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource returns a Selector using src for every random choice.
func NewWithSource(limits Limits, src rand.Source) *Selector {
	return &Selector{rnd: rand.New(src), limits: limits}
}

// Limits reports the configured limits.
func (s *Selector) Limits() Limits {
	return s.limits
}

// WeakSet turns weak word rows into a lookup set.
func WeakSet(weak []model.WeakWord) map[string]struct{} {
	set := make(map[string]struct{}, len(weak))
	for _, w := range weak {
		set[w.Word] = struct{}{}
	}
	return set
}

// PhraseScore counts the words of p that are in weak.
func PhraseScore(p model.Phrase, weak map[string]struct{}) int {
	n := 0
	for _, w := range textnorm.Normalize(p.English) {
		if _, ok := weak[w]; ok {
			n++
		}
	}
	return n
}

type scored struct {
	phrase model.Phrase
	score  int
}

func rank(phrases []model.Phrase, weak map[string]struct{}) []scored {
	out := make([]scored, len(phrases))
	for i, p := range phrases {
		out[i] = scored{phrase: p, score: PhraseScore(p, weak)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}

func phraseKey(p model.Phrase) string {
	return textnorm.Join(textnorm.Normalize(p.English))
}

// BuildExam selects the mid-module exam for current.
//
// Phrases from the first half of current are ranked by weak-word hits and the
// best PrimaryTier are taken. When weak words exist, up to CrossTier phrases
// from other modules that contain at least one weak word are added. The rest
// is filled at random from the unused first-half phrases. The result is
// shuffled, capped at ExamSize and never repeats a phrase.
func (s *Selector) BuildExam(current model.Module, midpoint int, weak []model.WeakWord, others []model.Module) ([]model.Phrase, error) {
	if len(current.Phrases) == 0 {
		return nil, ErrEmptyModule
	}
	midpoint = min(midpoint, len(current.Phrases))
	if midpoint <= 0 {
		return nil, ErrEmptyModule
	}
	firstHalf := current.Phrases[:midpoint]
	weakSet := WeakSet(weak)

	selected := make([]model.Phrase, 0, s.limits.ExamSize)
	used := map[string]struct{}{}
	take := func(p model.Phrase) bool {
		key := phraseKey(p)
		if key == "" {
			return false
		}
		if _, ok := used[key]; ok {
			return false
		}
		used[key] = struct{}{}
		selected = append(selected, p)
		return true
	}

	primary := 0
	for _, sp := range rank(firstHalf, weakSet) {
		if primary >= s.limits.PrimaryTier {
			break
		}
		if take(sp.phrase) {
			primary++
		}
	}

	if len(weakSet) > 0 {
		var pool []model.Phrase
		for _, m := range others {
			if m.Name == current.Name {
				continue
			}
			pool = append(pool, m.Phrases...)
		}
		cross := 0
		for _, sp := range rank(pool, weakSet) {
			if cross >= s.limits.CrossTier || sp.score == 0 {
				break
			}
			if take(sp.phrase) {
				cross++
			}
		}
	}

	if len(selected) < s.limits.ExamSize {
		var rest []model.Phrase
		for _, p := range firstHalf {
			if _, ok := used[phraseKey(p)]; !ok {
				rest = append(rest, p)
			}
		}
		s.rnd.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		for _, p := range rest {
			if len(selected) >= s.limits.ExamSize {
				break
			}
			take(p)
		}
	}

	s.rnd.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	if len(selected) > s.limits.ExamSize {
		selected = selected[:s.limits.ExamSize]
	}
	return selected, nil
}

// Drill picks count phrases for free practice, weighting each phrase by
// 1 + factor*weak hits. Phrases are drawn without replacement.
func (s *Selector) Drill(phrases []model.Phrase, count int, weak []model.WeakWord, factor float64) []model.Phrase {
	weakSet := WeakSet(weak)
	pool := append([]model.Phrase(nil), phrases...)
	weights := make([]float64, len(pool))
	total := 0.0
	for i, p := range pool {
		w := 1.0 + float64(PhraseScore(p, weakSet))*factor
		weights[i] = w
		total += w
	}

	result := make([]model.Phrase, 0, min(count, len(pool)))
	for len(result) < count && len(pool) > 0 {
		r := s.rnd.Float64() * total
		acc := 0.0
		idx := len(pool) - 1
		for j, w := range weights {
			acc += w
			if r <= acc {
				idx = j
				break
			}
		}
		result = append(result, pool[idx])
		total -= weights[idx]
		pool = append(pool[:idx], pool[idx+1:]...)
		weights = append(weights[:idx], weights[idx+1:]...)
	}
	return result
}
