package stats

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/verte-zerg/sotaque/internal/model"
)

const sparkChars = " .:-=+*#%@"

// Accuracy is the share of exposures of a word said correctly.
func Accuracy(w model.WeakWord) float64 {
	if w.TotalSeen <= 0 {
		return 1.0
	}
	return float64(w.TotalSeen-w.ErrorCount) / float64(w.TotalSeen)
}

// Sparkline renders a single-line ASCII sparkline for the values.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	minVal := values[0]
	maxVal := values[0]
	for _, v := range values[1:] {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	if math.Abs(maxVal-minVal) < 1e-9 {
		return strings.Repeat(string(sparkChars[len(sparkChars)/2]), len(values))
	}
	var b strings.Builder
	for _, v := range values {
		pos := (v - minVal) / (maxVal - minVal)
		idx := int(math.Round(pos * float64(len(sparkChars)-1)))
		idx = max(0, min(len(sparkChars)-1, idx))
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// RenderReport prints the XP header, module progress and weak words.
func RenderReport(w io.Writer, r Report) error {
	header := fmt.Sprintf("%s  %s %s  %d XP", r.Username, r.Tier.Emoji, r.Tier.Name, r.XP)
	if next, missing, ok := NextTier(r.XP); ok {
		header += fmt.Sprintf("  (%d to %s)", missing, next.Name)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	if err := RenderModuleTable(w, r.Modules); err != nil {
		return err
	}
	return RenderWeakTable(w, r.WeakWords)
}

// RenderModuleTable prints per-module progress.
func RenderModuleTable(w io.Writer, modules []ModuleReport) error {
	if len(modules) == 0 {
		_, err := fmt.Fprintln(w, "No modules found.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Modules"); err != nil {
		return err
	}
	headers := []string{"Module", "Progress", "Mastered", "Exam", "Scores"}
	rows := make([][]string, 0, len(modules))
	for _, m := range modules {
		exam := "-"
		if m.ExamCompleted {
			exam = "done"
		}
		rows = append(rows, []string{
			m.Name,
			fmt.Sprintf("%d/%d", m.Reached, m.Lessons),
			fmt.Sprintf("%d", m.Mastered),
			exam,
			Sparkline(m.Scores),
		})
	}
	return writeLines(w, formatTable(headers, rows, map[int]bool{1: true, 2: true}))
}

// RenderWeakTable prints the user's weak words, most errors first.
func RenderWeakTable(w io.Writer, weak []model.WeakWord) error {
	if len(weak) == 0 {
		_, err := fmt.Fprintln(w, "No weak words yet.")
		return err
	}
	if _, err := fmt.Fprintln(w, "Weak Words"); err != nil {
		return err
	}
	headers := []string{"Word", "Errors", "Seen", "Accuracy"}
	rows := make([][]string, 0, len(weak))
	for _, ww := range weak {
		rows = append(rows, []string{
			ww.Word,
			fmt.Sprintf("%d", ww.ErrorCount),
			fmt.Sprintf("%d", ww.TotalSeen),
			fmt.Sprintf("%.2f%%", Accuracy(ww)*100),
		})
	}
	return writeLines(w, formatTable(headers, rows, map[int]bool{1: true, 2: true, 3: true}))
}

// RenderSessionSummary prints the result of a finished lesson run or exam.
func RenderSessionSummary(w io.Writer, s model.SessionSummary) error {
	if _, err := fmt.Fprintf(w, "Attempts: %d\nAverage score: %d%%\n", s.Attempts, s.AverageScore); err != nil {
		return err
	}
	if len(s.MostMissed) == 0 {
		_, err := fmt.Fprintln(w, "No missed words.")
		return err
	}
	rows := make([][]string, 0, len(s.MostMissed))
	for _, m := range s.MostMissed {
		rows = append(rows, []string{m.Word, fmt.Sprintf("%d", m.Count)})
	}
	return writeLines(w, formatTable([]string{"Missed", "Times"}, rows, map[int]bool{1: true}))
}
