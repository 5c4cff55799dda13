package stats

import (
	"sort"

	"github.com/verte-zerg/sotaque/internal/model"
)

// MaxMissedWords caps the most-missed list of a session summary.
const MaxMissedWords = 10

// Finalize summarizes a session history. The average is truncated to an
// integer; ties in the missed-word ranking keep first-seen order.
func Finalize(history []model.AttemptRecord) model.SessionSummary {
	summary := model.SessionSummary{
		Attempts:   len(history),
		MostMissed: []model.MissedWord{},
	}
	if len(history) == 0 {
		return summary
	}

	total := 0
	counts := map[string]int{}
	var order []string
	for _, h := range history {
		total += h.Score
		for _, w := range h.WrongWords {
			if _, ok := counts[w]; !ok {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	summary.AverageScore = total / len(history)

	missed := make([]model.MissedWord, len(order))
	for i, w := range order {
		missed[i] = model.MissedWord{Word: w, Count: counts[w]}
	}
	sort.SliceStable(missed, func(i, j int) bool {
		return missed[i].Count > missed[j].Count
	})
	if len(missed) > MaxMissedWords {
		missed = missed[:MaxMissedWords]
	}
	summary.MostMissed = missed
	return summary
}
