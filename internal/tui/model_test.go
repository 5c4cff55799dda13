package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/model"
)

func submit(t *testing.T, m *Model, spoken string) {
	t.Helper()
	m.input.SetValue(spoken)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected submit command")
	}
	if m.phase != phaseScoring {
		t.Fatalf("expected scoring phase, got %d", m.phase)
	}
	m.Update(cmd())
}

func TestLessonRepeatsUntilAdvance(t *testing.T) {
	phrases := []model.Phrase{
		{ID: "p1", English: "good morning", Portuguese: "bom dia"},
		{ID: "p2", English: "thank you", Portuguese: "obrigado"},
	}
	m := NewModel(coach.New(nil), Session{Mode: model.ModeLesson, Phrases: phrases})

	submit(t, m, "good")
	if m.phase != phaseFeedback {
		t.Fatalf("expected feedback phase, got %d", m.phase)
	}
	if m.last.CanAdvance {
		t.Fatalf("expected 50%% to block advancing")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.index != 0 || m.phase != phasePrompt {
		t.Fatalf("expected retry of first phrase, index=%d phase=%d", m.index, m.phase)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input reset")
	}

	submit(t, m, "good morning")
	if !m.last.CanAdvance {
		t.Fatalf("expected full score to advance")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.index != 1 {
		t.Fatalf("expected second phrase, got %d", m.index)
	}

	submit(t, m, "thank you")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.phase != phaseSummary {
		t.Fatalf("expected summary, got %d", m.phase)
	}
	if len(m.history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(m.history))
	}
	if m.xp != 5 {
		t.Fatalf("expected 5 XP, got %d", m.xp)
	}
}

func TestCoachModeAlwaysMovesOn(t *testing.T) {
	phrases := []model.Phrase{
		{ID: "p1", English: "good morning"},
		{ID: "p2", English: "thank you"},
	}
	m := NewModel(coach.New(nil), Session{Mode: model.ModeCoach, Phrases: phrases})

	submit(t, m, "")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.index != 1 {
		t.Fatalf("expected coach mode to move on, got %d", m.index)
	}
}

func TestEmptySessionStartsAtSummary(t *testing.T) {
	m := NewModel(coach.New(nil), Session{Mode: model.ModeLesson})
	if m.phase != phaseSummary {
		t.Fatalf("expected summary phase, got %d", m.phase)
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
}

func TestEscapeEndsSession(t *testing.T) {
	m := NewModel(coach.New(nil), Session{
		Mode:    model.ModeLesson,
		Phrases: []model.Phrase{{ID: "p1", English: "hello"}},
	})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.phase != phaseSummary {
		t.Fatalf("expected summary phase, got %d", m.phase)
	}
}

func TestExamAnswersAdvanceSession(t *testing.T) {
	exam := coach.ExamSession{
		Module: "basics",
		Phrases: []model.Phrase{
			{ID: "p1", English: "good morning"},
		},
	}
	m := NewModel(coach.New(nil), Session{Mode: model.ModeExam, Exam: &exam})

	submit(t, m, "good morning")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.phase != phaseSummary {
		t.Fatalf("expected summary after last exam phrase, got %d", m.phase)
	}
	if m.exam.Score() != 100 {
		t.Fatalf("expected exam score 100, got %d", m.exam.Score())
	}
}
