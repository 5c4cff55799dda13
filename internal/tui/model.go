// Package tui provides the Bubble Tea pronunciation coach.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/phonetic"
	statsPkg "github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/tips"
)

type phase int

const (
	phasePrompt phase = iota
	phaseScoring
	phaseFeedback
	phaseSummary
)

// Session describes what the learner practices.
type Session struct {
	Username string
	Module   string
	Mode     model.Mode
	// Phrases are practiced in order. Lesson numbers start at FirstLesson.
	Phrases     []model.Phrase
	FirstLesson int
	Reviewing   bool
	// Exam replaces Phrases when Mode is model.ModeExam.
	Exam *coach.ExamSession
	XP   int
	Weak []model.WeakWord
}

// Model implements the Bubble Tea coach UI.
type Model struct {
	coach   *coach.Coach
	session Session
	tracker *tips.Tracker
	weak    map[string]struct{}

	width  int
	height int

	input   textinput.Model
	phase   phase
	index   int
	exam    coach.ExamSession
	last    *coach.Attempt
	lastErr error
	notice  string
	history []model.AttemptRecord
	xp      int
}

var (
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	incorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	nearMissStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	weakWordStyle  = pendingStyle.Underline(true)
	promptStyle    = lipgloss.NewStyle().Bold(true)
	guideStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6FA8DC")).Italic(true)
	tipStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// NewModel constructs a coach TUI model.
func NewModel(c *coach.Coach, s Session) *Model {
	in := textinput.New()
	in.Placeholder = "digite o que você disse e tecle Enter"
	in.CharLimit = 280
	in.Focus()

	m := &Model{
		coach:   c,
		session: s,
		tracker: tips.NewTracker(),
		weak:    map[string]struct{}{},
		input:   in,
		xp:      s.XP,
		history: []model.AttemptRecord{},
	}
	for _, w := range s.Weak {
		m.weak[w.Word] = struct{}{}
	}
	if s.Mode == model.ModeExam && s.Exam != nil {
		m.exam = *s.Exam
	}
	if _, ok := m.current(); !ok {
		m.phase = phaseSummary
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) isExam() bool {
	return m.session.Mode == model.ModeExam
}

func (m *Model) current() (model.Phrase, bool) {
	if m.isExam() {
		return m.exam.Current()
	}
	if m.index >= len(m.session.Phrases) {
		return model.Phrase{}, false
	}
	return m.session.Phrases[m.index], true
}

func (m *Model) total() int {
	if m.isExam() {
		return len(m.exam.Phrases)
	}
	return len(m.session.Phrases)
}

func (m *Model) position() int {
	if m.isExam() {
		return m.exam.Index
	}
	return m.index
}

type attemptMsg struct {
	att  coach.Attempt
	exam coach.ExamSession
	err  error
}

type skipMsg struct {
	xp  int
	err error
}

func (m *Model) submitCmd(spoken string) tea.Cmd {
	phrase, _ := m.current()
	if m.isExam() {
		exam := m.exam
		tracker := m.tracker
		return func() tea.Msg {
			next, att, err := m.coach.AnswerExam(context.Background(), exam, spoken, tracker)
			return attemptMsg{att: att, exam: next, err: err}
		}
	}
	in := coach.AttemptInput{
		Username:   m.session.Username,
		Module:     m.session.Module,
		Lesson:     m.session.FirstLesson + m.index,
		Mode:       m.session.Mode,
		Phrase:     phrase,
		Transcript: spoken,
		Tips:       m.tracker,
		Reviewing:  m.session.Reviewing,
	}
	return func() tea.Msg {
		att, err := m.coach.Submit(context.Background(), in)
		return attemptMsg{att: att, err: err}
	}
}

func (m *Model) skipCmd() tea.Cmd {
	username := m.session.Username
	module := m.session.Module
	lesson := m.session.FirstLesson + m.index
	return func() tea.Msg {
		xp, err := m.coach.SkipLesson(context.Background(), username, module, lesson)
		return skipMsg{xp: xp, err: err}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, m.contentWidth()-4)
		return m, nil
	case attemptMsg:
		m.handleAttempt(msg)
		return m, nil
	case skipMsg:
		m.handleSkip(msg)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.phase == phaseSummary {
			return m, tea.Quit
		}
		m.phase = phaseSummary
		return m, nil
	}

	switch m.phase {
	case phasePrompt:
		if msg.Type == tea.KeyEnter {
			m.phase = phaseScoring
			m.notice = ""
			spoken := m.input.Value()
			return m, m.submitCmd(spoken)
		}
		if msg.Type == tea.KeyCtrlS && m.session.Mode == model.ModeLesson && m.session.Username != "" {
			return m, m.skipCmd()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case phaseFeedback:
		if msg.Type == tea.KeyEnter {
			m.advance()
		}
		return m, nil
	case phaseSummary:
		if msg.Type == tea.KeyEnter || (msg.Type == tea.KeyRunes && string(msg.Runes) == "q") {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) handleAttempt(msg attemptMsg) {
	if msg.err != nil {
		m.lastErr = msg.err
		m.phase = phasePrompt
		return
	}
	m.lastErr = nil
	att := msg.att
	m.last = &att
	m.history = append(m.history, att.Record())
	if att.XP > 0 {
		m.xp = att.XP
	} else {
		m.xp += att.XPGained
	}
	if m.isExam() {
		m.exam = msg.exam
	}
	m.phase = phaseFeedback
}

func (m *Model) handleSkip(msg skipMsg) {
	if msg.err != nil {
		m.notice = fmt.Sprintf("Não foi possível pular: %v", msg.err)
		return
	}
	m.xp = msg.xp
	m.notice = fmt.Sprintf("Lição pulada (-%d XP)", coach.SkipCost)
	m.last = nil
	m.next()
}

// advance moves past the feedback screen. Lessons repeat the phrase until
// the learner may advance; exams and free practice always move on.
func (m *Model) advance() {
	m.input.Reset()
	if m.isExam() {
		m.phase = phasePrompt
		if m.exam.Done() {
			m.phase = phaseSummary
		}
		return
	}
	if m.session.Mode == model.ModeLesson && m.last != nil && !m.last.CanAdvance {
		m.phase = phasePrompt
		return
	}
	m.next()
}

func (m *Model) next() {
	m.input.Reset()
	m.index++
	if m.index >= len(m.session.Phrases) {
		m.phase = phaseSummary
		return
	}
	m.phase = phasePrompt
}

func (m *Model) contentWidth() int {
	if m.width == 0 {
		return 0
	}
	return max(1, int(float64(m.width)*0.70))
}

// View implements tea.Model.
func (m *Model) View() string {
	var body string
	switch m.phase {
	case phaseSummary:
		body = m.renderSummary()
	case phaseFeedback:
		body = m.renderFeedback()
	default:
		body = m.renderPrompt()
	}
	if m.width == 0 || m.height == 0 {
		return body + "\n" + m.renderFooter()
	}
	content := lipgloss.NewStyle().Width(m.contentWidth()).Render(body)
	footer := m.renderFooter()
	if footer == "" || m.height < 3 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	bodyHeight := m.height - 1
	main := lipgloss.Place(m.width, bodyHeight, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return main + "\n" + footerLine
}

func (m *Model) renderPrompt() string {
	phrase, ok := m.current()
	if !ok {
		return ""
	}
	lines := []string{}
	if phrase.Portuguese != "" {
		lines = append(lines, promptStyle.Render(phrase.Portuguese))
	}
	lines = append(lines,
		wrapStyledRunes(stylePending(phrase.English, m.weak), m.contentWidth()),
		guideStyle.Render(phonetic.Guide(phrase.English)),
		"",
		m.input.View(),
	)
	if m.phase == phaseScoring {
		lines = append(lines, pendingStyle.Render("avaliando..."))
	}
	if m.lastErr != nil {
		lines = append(lines, incorrectStyle.Render(m.lastErr.Error()))
	}
	if m.notice != "" {
		lines = append(lines, tipStyle.Render(m.notice))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderFeedback() string {
	if m.last == nil {
		return ""
	}
	att := m.last
	lines := []string{
		wrapStyledRunes(styleWords(att.Result.Words), m.contentWidth()),
		"",
		promptStyle.Render(fmt.Sprintf("Pontuação: %d%%", att.Result.Percent)),
	}
	for _, w := range att.Result.Words {
		if w.Feedback != "" {
			lines = append(lines, "• "+w.Feedback)
		}
	}
	for _, t := range att.Tips {
		lines = append(lines, tipStyle.Render(t.Message))
	}
	if att.XPGained > 0 {
		lines = append(lines, fmt.Sprintf("+%d XP", att.XPGained))
	}
	lines = append(lines, "", pendingStyle.Render(m.nextHint()))
	return strings.Join(lines, "\n")
}

func (m *Model) nextHint() string {
	if !m.isExam() && m.session.Mode == model.ModeLesson && m.last != nil && !m.last.CanAdvance {
		return "Enter: tentar de novo · Ctrl+S: pular lição"
	}
	return "Enter: continuar"
}

func (m *Model) renderSummary() string {
	summary := statsPkg.Finalize(m.history)
	var b strings.Builder
	if m.isExam() && m.exam.TotalWords > 0 {
		fmt.Fprintf(&b, "Prova %s: %d%%\n\n", m.exam.Module, m.exam.Score())
	}
	if err := statsPkg.RenderSessionSummary(&b, summary); err != nil {
		return err.Error()
	}
	b.WriteString("\n")
	b.WriteString(pendingStyle.Render("Enter: sair"))
	return b.String()
}

func (m *Model) renderFooter() string {
	total := m.total()
	if total == 0 {
		return ""
	}
	progress := m.position() * 100 / total
	segments := []string{fmt.Sprintf("Progresso %d%% (%d/%d)", progress, min(m.position()+1, total), total)}
	if m.last != nil {
		segments = append(segments, fmt.Sprintf("Última %d%%", m.last.Result.Percent))
	}
	if len(m.history) > 0 {
		segments = append(segments, fmt.Sprintf("Média %d%%", statsPkg.Finalize(m.history).AverageScore))
	}
	tier := statsPkg.TierFor(m.xp)
	segments = append(segments, fmt.Sprintf("%d XP · %s %s", m.xp, tier.Emoji, tier.Name))
	return footerStyle.Render(strings.Join(segments, "  "))
}
