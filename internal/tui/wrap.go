package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/textnorm"
)

type styledRune struct {
	s       string
	width   int
	isSpace bool
}

func appendStyled(out []styledRune, text string, style lipgloss.Style) []styledRune {
	for _, r := range text {
		out = append(out, styledRune{
			s:     style.Render(string(r)),
			width: runewidth.RuneWidth(r),
		})
	}
	return out
}

func appendSpace(out []styledRune) []styledRune {
	return append(out, styledRune{s: " ", width: 1, isSpace: true})
}

// styleWords colours each judged word. Missed words show what was heard
// after the target when the recognizer caught something else.
func styleWords(words []model.WordResult) []styledRune {
	out := make([]styledRune, 0, len(words)*6)
	for i, w := range words {
		if i > 0 {
			out = appendSpace(out)
		}
		switch {
		case w.Correct:
			out = appendStyled(out, w.Target, correctStyle)
		case w.NearMiss:
			out = appendStyled(out, w.Target, nearMissStyle)
		default:
			out = appendStyled(out, w.Target, incorrectStyle)
			if w.Spoken != "" {
				out = appendStyled(out, "("+w.Spoken+")", pendingStyle)
			}
		}
	}
	return out
}

// stylePending renders a target phrase before it is spoken, underlining
// the learner's weak words.
func stylePending(text string, weak map[string]struct{}) []styledRune {
	fields := strings.Fields(text)
	out := make([]styledRune, 0, len(text))
	for i, f := range fields {
		if i > 0 {
			out = appendSpace(out)
		}
		style := pendingStyle
		if _, ok := weak[textnorm.Clean(f)]; ok {
			style = weakWordStyle
		}
		out = appendStyled(out, f, style)
	}
	return out
}

func renderStyledRunes(runes []styledRune) string {
	var b strings.Builder
	for _, item := range runes {
		b.WriteString(item.s)
	}
	return b.String()
}

func wrapStyledRunes(runes []styledRune, width int) string {
	if width <= 0 {
		return renderStyledRunes(runes)
	}
	var out strings.Builder
	line := make([]styledRune, 0, len(runes))
	lineWidth := 0
	lastSpaceIdx := -1

	for i := 0; i < len(runes); {
		item := runes[i]
		if lineWidth+item.width > width && len(line) > 0 {
			if lastSpaceIdx >= 0 {
				out.WriteString(renderStyledRunes(line[:lastSpaceIdx]))
				out.WriteRune('\n')
				line = append([]styledRune{}, line[lastSpaceIdx+1:]...)
				lineWidth = lineWidthOf(line)
				lastSpaceIdx = lastSpaceIndex(line)
			} else {
				out.WriteString(renderStyledRunes(line))
				out.WriteRune('\n')
				line = line[:0]
				lineWidth = 0
				lastSpaceIdx = -1
			}
			continue
		}
		line = append(line, item)
		lineWidth += item.width
		if item.isSpace {
			lastSpaceIdx = len(line) - 1
		}
		i++
	}
	out.WriteString(renderStyledRunes(line))
	return out.String()
}

func lineWidthOf(line []styledRune) int {
	total := 0
	for _, item := range line {
		total += item.width
	}
	return total
}

func lastSpaceIndex(line []styledRune) int {
	for i := len(line) - 1; i >= 0; i-- {
		if line[i].isSpace {
			return i
		}
	}
	return -1
}
