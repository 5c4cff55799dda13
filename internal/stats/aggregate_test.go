package stats

import (
	"fmt"
	"testing"

	"github.com/verte-zerg/sotaque/internal/model"
)

func TestFinalizeEmpty(t *testing.T) {
	s := Finalize(nil)
	if s.AverageScore != 0 || s.Attempts != 0 || len(s.MostMissed) != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestFinalizeAverageTruncates(t *testing.T) {
	s := Finalize([]model.AttemptRecord{{Score: 100}, {Score: 66}, {Score: 0}})
	if s.AverageScore != 55 {
		t.Fatalf("expected 55, got %d", s.AverageScore)
	}
	if s.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", s.Attempts)
	}
}

func TestFinalizeMostMissedStableOrder(t *testing.T) {
	history := []model.AttemptRecord{
		{Score: 50, WrongWords: []string{"think", "water"}},
		{Score: 75, WrongWords: []string{"hospital"}},
		{Score: 25, WrongWords: []string{"water", "hospital", "three"}},
	}
	s := Finalize(history)
	want := []model.MissedWord{
		{Word: "water", Count: 2},
		{Word: "hospital", Count: 2},
		{Word: "think", Count: 1},
		{Word: "three", Count: 1},
	}
	if len(s.MostMissed) != len(want) {
		t.Fatalf("expected %d words, got %+v", len(want), s.MostMissed)
	}
	for i := range want {
		if s.MostMissed[i] != want[i] {
			t.Fatalf("position %d: expected %+v, got %+v", i, want[i], s.MostMissed[i])
		}
	}
}

func TestFinalizeCapsMissedWords(t *testing.T) {
	var wrong []string
	for i := 0; i < 15; i++ {
		wrong = append(wrong, fmt.Sprintf("w%d", i))
	}
	s := Finalize([]model.AttemptRecord{{Score: 0, WrongWords: wrong}})
	if len(s.MostMissed) != MaxMissedWords {
		t.Fatalf("expected %d words, got %d", MaxMissedWords, len(s.MostMissed))
	}
	if s.MostMissed[0].Word != "w0" {
		t.Fatalf("expected first-seen order, got %q", s.MostMissed[0].Word)
	}
}
