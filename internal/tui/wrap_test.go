package tui

import (
	"strings"
	"testing"

	"github.com/verte-zerg/sotaque/internal/model"
)

func TestStyleWordsColoursByJudgment(t *testing.T) {
	words := []model.WordResult{
		{Target: "i", Spoken: "i", Correct: true},
		{Target: "think", Spoken: "tink", NearMiss: true},
		{Target: "so", Spoken: "no"},
	}
	runes := styleWords(words)
	if runes[0].s != correctStyle.Render("i") {
		t.Fatalf("expected correct style for first word")
	}
	if !runes[1].isSpace {
		t.Fatalf("expected separator after first word")
	}
	if runes[2].s != nearMissStyle.Render("t") {
		t.Fatalf("expected near-miss style for second word")
	}
	out := renderStyledRunes(runes)
	if !strings.Contains(out, pendingStyle.Render("(")) {
		t.Fatalf("expected heard word for a miss: %q", out)
	}
}

func TestStyleWordsSilentMiss(t *testing.T) {
	runes := styleWords([]model.WordResult{{Target: "ok"}})
	if len(runes) != 2 {
		t.Fatalf("expected 2 runes, got %d", len(runes))
	}
	if runes[0].s != incorrectStyle.Render("o") {
		t.Fatalf("expected incorrect style")
	}
}

func TestStylePendingUnderlinesWeakWords(t *testing.T) {
	weak := map[string]struct{}{"think": {}}
	runes := stylePending("I Think,", weak)
	if runes[0].s != pendingStyle.Render("I") {
		t.Fatalf("expected pending style for regular word")
	}
	if runes[2].s != weakWordStyle.Render("T") {
		t.Fatalf("expected weak style for weak word")
	}
}

func TestWrapStyledRunesBreaksAtSpace(t *testing.T) {
	runes := stylePending("one two three", nil)
	out := wrapStyledRunes(runes, 8)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
}

func TestWrapStyledRunesNoWidth(t *testing.T) {
	runes := stylePending("one two", nil)
	if wrapStyledRunes(runes, 0) != renderStyledRunes(runes) {
		t.Fatalf("expected unwrapped output")
	}
}
