// Package scoring compares a recognized transcript against its target phrase
// word by word.
//
// The default alignment is positional: word i of the transcript is compared
// with word i of the target and nothing is realigned, so a dropped word shifts
// every later comparison. An edit-distance alignment is available for callers
// that prefer to forgive insertions and omissions.
package scoring

import (
	"fmt"

	"github.com/antzucaro/matchr"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/phonetic"
	"github.com/verte-zerg/sotaque/internal/textnorm"
)

// Alignment selects how spoken words are paired with target words.
type Alignment string

const (
	AlignPositional  Alignment = "positional"
	AlignLevenshtein Alignment = "levenshtein"
)

// Score thresholds used by lesson flows.
const (
	SuccessScore = 80
	PerfectScore = 100
)

// CanAdvance reports whether the learner may move past a lesson. Lessons
// already passed once stay unlocked.
func CanAdvance(current, best int, reviewing bool) bool {
	return reviewing || current >= SuccessScore || best >= SuccessScore
}

const defaultNearMissThreshold = 0.80

// ParseAlignment validates an alignment name. Empty selects positional.
func ParseAlignment(name string) (Alignment, error) {
	switch Alignment(name) {
	case "", AlignPositional:
		return AlignPositional, nil
	case AlignLevenshtein:
		return AlignLevenshtein, nil
	default:
		return "", fmt.Errorf("unknown alignment %q", name)
	}
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithAlignment sets the alignment strategy.
func WithAlignment(a Alignment) Option {
	return func(s *Scorer) {
		s.alignment = a
	}
}

// WithDictionary sets the phonetic table used for annotations.
func WithDictionary(d *phonetic.Dictionary) Option {
	return func(s *Scorer) {
		s.dict = d
	}
}

// WithNearMissThreshold sets the Jaro-Winkler similarity above which an
// incorrect word is flagged as a near miss. Default: 0.80.
func WithNearMissThreshold(threshold float64) Option {
	return func(s *Scorer) {
		s.nearMiss = threshold
	}
}

// Scorer is stateless after construction and safe for concurrent use.
type Scorer struct {
	alignment Alignment
	dict      *phonetic.Dictionary
	nearMiss  float64
}

// New returns a Scorer configured with opts.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		alignment: AlignPositional,
		nearMiss:  defaultNearMissThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	if s.dict == nil {
		s.dict = phonetic.Default()
	}
	return s
}

// Score judges spoken against target using the default positional scorer.
func Score(target, spoken string) model.ScoringResult {
	return defaultScorer.Score(target, spoken)
}

var defaultScorer = New()

// Score judges spoken against target.
func (s *Scorer) Score(target, spoken string) model.ScoringResult {
	t := textnorm.Normalize(target)
	sp := textnorm.Normalize(spoken)

	var paired []string
	switch s.alignment {
	case AlignLevenshtein:
		paired = alignEditDistance(t, sp)
	default:
		paired = alignPositional(t, sp)
	}

	res := model.ScoringResult{
		Words: make([]model.WordResult, len(t)),
		Total: len(t),
	}
	for i, word := range t {
		res.Words[i] = s.judge(word, paired[i])
		if res.Words[i].Correct {
			res.Correct++
		}
	}
	res.Percent = Percent(res.Correct, res.Total)
	return res
}

// Percent returns correct/total as a truncated percentage, 0 when total is 0.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return correct * 100 / total
}

func (s *Scorer) judge(target, spoken string) model.WordResult {
	wr := model.WordResult{
		Target:         target,
		Spoken:         spoken,
		Correct:        spoken != "" && spoken == target,
		PhoneticTarget: s.dict.Lookup(target),
	}
	if spoken != "" {
		wr.PhoneticSpoken = s.dict.Lookup(spoken)
		wr.Similarity = matchr.JaroWinkler(target, spoken, false)
	}
	if wr.Correct {
		wr.Similarity = 1
		return wr
	}
	wr.NearMiss = spoken != "" && wr.Similarity >= s.nearMiss
	wr.Feedback = Feedback(wr)
	return wr
}

// Feedback returns the learner-facing correction for an incorrect word.
func Feedback(wr model.WordResult) string {
	if wr.Correct {
		return ""
	}
	if wr.Spoken == "" {
		return fmt.Sprintf("Palavra não detectada. A pronúncia é '%s'", wr.PhoneticTarget)
	}
	return fmt.Sprintf("Você disse '%s', o correto é '%s'", wr.PhoneticSpoken, wr.PhoneticTarget)
}
