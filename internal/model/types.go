// Package model defines shared data structures.
package model

import "time"

// Phrase is a single bilingual lesson unit.
type Phrase struct {
	ID         string `json:"id"`
	English    string `json:"english"`
	Portuguese string `json:"portuguese"`
}

// Module is an ordered list of phrases loaded from one phrase file.
type Module struct {
	Name    string   `json:"name"`
	Phrases []Phrase `json:"phrases"`
}

// Midpoint returns the index where the mid-module exam is triggered.
func (m Module) Midpoint() int {
	return len(m.Phrases) / 2
}

// Mode controls how many XP points a correct word is worth.
type Mode string

const (
	ModeLesson Mode = "lesson"
	ModeCoach  Mode = "coach"
	ModeExam   Mode = "exam"
)

// WordResult is the judgment for one target word.
type WordResult struct {
	Target         string  `json:"target"`
	Spoken         string  `json:"spoken"`
	Correct        bool    `json:"correct"`
	PhoneticTarget string  `json:"phonetic_target"`
	PhoneticSpoken string  `json:"phonetic_spoken"`
	Feedback       string  `json:"feedback,omitempty"`
	Similarity     float64 `json:"similarity"`
	NearMiss       bool    `json:"near_miss,omitempty"`
}

// ScoringResult is the outcome of comparing one attempt against its target.
type ScoringResult struct {
	Words   []WordResult `json:"words"`
	Percent int          `json:"score_percent"`
	Correct int          `json:"correct_count"`
	Total   int          `json:"total_count"`
}

// TargetWords returns the normalized target words in order, repeats included.
func (r ScoringResult) TargetWords() []string {
	words := make([]string, 0, len(r.Words))
	for _, w := range r.Words {
		words = append(words, w.Target)
	}
	return words
}

// WrongWords returns the distinct target words judged incorrect.
func (r ScoringResult) WrongWords() []string {
	seen := map[string]struct{}{}
	var words []string
	for _, w := range r.Words {
		if w.Correct {
			continue
		}
		if _, ok := seen[w.Target]; ok {
			continue
		}
		seen[w.Target] = struct{}{}
		words = append(words, w.Target)
	}
	return words
}

// Silent reports whether no spoken word was detected at all.
func (r ScoringResult) Silent() bool {
	for _, w := range r.Words {
		if w.Spoken != "" {
			return false
		}
	}
	return true
}

// WordErrorRecord is the persisted error aggregate for one user and word.
type WordErrorRecord struct {
	Username   string    `json:"username"`
	Word       string    `json:"word"`
	ErrorCount int       `json:"error_count"`
	TotalSeen  int       `json:"total_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// WeakWord is a word the user keeps getting wrong.
type WeakWord struct {
	Word       string `json:"word"`
	ErrorCount int    `json:"error_count"`
	TotalSeen  int    `json:"total_seen"`
}

// LessonScore is the best score ever reached on one lesson.
type LessonScore struct {
	Module    string `json:"module"`
	Lesson    int    `json:"lesson"`
	BestScore int    `json:"best_score"`
}

// AttemptRecord is one entry of a session history.
type AttemptRecord struct {
	Phrase     string   `json:"phrase"`
	Score      int      `json:"score"`
	WrongWords []string `json:"wrong_words"`
}

// MissedWord counts how often a word was missed during a session.
type MissedWord struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// SessionSummary aggregates a lesson run or an exam.
type SessionSummary struct {
	Attempts     int          `json:"attempts"`
	AverageScore int          `json:"average_score"`
	MostMissed   []MissedWord `json:"most_missed"`
}
