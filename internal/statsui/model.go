// Package statsui provides the Bubble Tea progress dashboard.
package statsui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/stats"
)

const (
	tabOverview = iota
	tabModules
	tabWeakWords
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Config selects whose progress is shown.
type Config struct {
	Username  string
	Modules   []model.Module
	WeakLimit int
}

// Model implements the Bubble Tea stats UI.
type Model struct {
	src stats.Source
	cfg Config

	report stats.Report
	errMsg string

	tabs      []string
	activeTab int
	overview  viewport.Model
	tables    map[int]*table.Model

	width  int
	height int
}

// NewModel constructs a stats UI model and loads the first report.
func NewModel(src stats.Source, cfg Config) *Model {
	m := &Model{
		src:      src,
		cfg:      cfg,
		tabs:     []string{"Overview", "Modules", "Weak Words"},
		overview: viewport.New(0, 0),
		tables:   map[int]*table.Model{},
	}
	modules := newTable(moduleColumns())
	weak := newTable(weakColumns())
	m.tables[tabModules] = &modules
	m.tables[tabWeakWords] = &weak
	m.refreshReport()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}
		switch msg.String() {
		case "left", "h", "shift+tab":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l", "tab":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "r":
			m.refreshReport()
			return m, nil
		case "g", "home":
			if t, ok := m.tables[m.activeTab]; ok {
				t.GotoTop()
			} else {
				m.overview.GotoTop()
			}
			return m, nil
		case "G", "end":
			if t, ok := m.tables[m.activeTab]; ok {
				t.GotoBottom()
			} else {
				m.overview.GotoBottom()
			}
			return m, nil
		default:
			var cmd tea.Cmd
			if t, ok := m.tables[m.activeTab]; ok {
				*t, cmd = t.Update(msg)
				return m, cmd
			}
			m.overview, cmd = m.overview.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := max(1, lipgloss.Height(activeNavStyle.Render("X")))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = max(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.overview.Width = m.width
	m.overview.Height = bodyHeight
	for _, t := range m.tables {
		t.SetWidth(m.width)
		t.SetHeight(max(1, bodyHeight-1))
	}
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	if count == 0 {
		return
	}
	m.activeTab = (m.activeTab + delta + count) % count
	for tab, t := range m.tables {
		if tab == m.activeTab {
			t.Focus()
		} else {
			t.Blur()
		}
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	tabs := padLines(m.renderTabs(), m.width)
	summary := fmt.Sprintf("User: %s  modules=%d", m.cfg.Username, len(m.cfg.Modules))
	return tabs + "\n" + headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderFooter() string {
	help := headerStyle.Render("Nav: left/right  Scroll: up/down/pgup/pgdn  Reload: r  Quit: q")
	if m.errMsg != "" {
		return help + "\n" + errorStyle.Render(m.errMsg)
	}
	return help
}

func (m *Model) renderBody() string {
	switch m.activeTab {
	case tabModules:
		if len(m.report.Modules) == 0 {
			return "No modules found."
		}
		return tableMutedStyle.Render(m.tables[tabModules].View())
	case tabWeakWords:
		if len(m.report.WeakWords) == 0 {
			return "No weak words yet."
		}
		return tableMutedStyle.Render(m.tables[tabWeakWords].View())
	}
	return m.overview.View()
}

func (m *Model) refreshReport() {
	limit := m.cfg.WeakLimit
	if limit <= 0 {
		limit = 20
	}
	report, err := stats.BuildReport(context.Background(), m.src, m.cfg.Username, m.cfg.Modules, limit)
	if err != nil {
		m.errMsg = err.Error()
		m.overview.SetContent("Failed to load stats.")
		return
	}
	m.errMsg = ""
	m.report = report
	m.tables[tabModules].SetRows(moduleRows(report.Modules))
	m.tables[tabWeakWords].SetRows(weakRows(report.WeakWords))
	m.renderTabContents()
}

func (m *Model) renderTabContents() {
	if m.errMsg != "" {
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.overview.SetContent(renderOverview(m.report, width))
}

func renderOverview(r stats.Report, width int) string {
	next := "-"
	if tier, missing, ok := stats.NextTier(r.XP); ok {
		next = fmt.Sprintf("%s in %d", tier.Name, missing)
	}
	mastered, lessons, exams := 0, 0, 0
	for _, mod := range r.Modules {
		mastered += mod.Mastered
		lessons += mod.Lessons
		if mod.ExamCompleted {
			exams++
		}
	}
	cards := []string{
		metricCard("XP", fmt.Sprintf("%d", r.XP)),
		metricCard("Tier", fmt.Sprintf("%s %s", r.Tier.Emoji, r.Tier.Name)),
		metricCard("Next", next),
		metricCard("Mastered", fmt.Sprintf("%d/%d", mastered, lessons)),
		metricCard("Exams", fmt.Sprintf("%d/%d", exams, len(r.Modules))),
	}
	var summary string
	if width < 80 {
		summary = strings.Join(cards, "\n")
	} else {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4])
		summary = lipgloss.JoinVertical(lipgloss.Left, row1, row2)
	}

	lines := []string{summary, ""}
	for _, mod := range r.Modules {
		if len(mod.Scores) == 0 {
			continue
		}
		line := fmt.Sprintf("%-16s %s", mod.Name, stats.Sparkline(mod.Scores))
		lines = append(lines, truncateLine(line, width))
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func moduleColumns() []table.Column {
	return []table.Column{
		{Title: "Module", Width: 16},
		{Title: "Progress", Width: 9},
		{Title: "Mastered", Width: 8},
		{Title: "Exam", Width: 5},
		{Title: "Scores", Width: 24},
	}
}

func moduleRows(modules []stats.ModuleReport) []table.Row {
	rows := make([]table.Row, 0, len(modules))
	for _, mod := range modules {
		exam := "-"
		if mod.ExamCompleted {
			exam = "done"
		}
		rows = append(rows, table.Row{
			mod.Name,
			fmt.Sprintf("%d/%d", mod.Reached, mod.Lessons),
			fmt.Sprintf("%d", mod.Mastered),
			exam,
			stats.Sparkline(mod.Scores),
		})
	}
	return rows
}

func weakColumns() []table.Column {
	return []table.Column{
		{Title: "Word", Width: 16},
		{Title: "Errors", Width: 7},
		{Title: "Seen", Width: 6},
		{Title: "Accuracy", Width: 9},
	}
}

func weakRows(weak []model.WeakWord) []table.Row {
	rows := make([]table.Row, 0, len(weak))
	for _, w := range weak {
		rows = append(rows, table.Row{
			w.Word,
			fmt.Sprintf("%d", w.ErrorCount),
			fmt.Sprintf("%d", w.TotalSeen),
			fmt.Sprintf("%.2f%%", stats.Accuracy(w)*100),
		})
	}
	return rows
}

func newTable(cols []table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(1),
	)
	t.SetStyles(tableStyles())
	return t
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
