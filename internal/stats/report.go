// Package stats contains statistics calculations and reporting.
package stats

import (
	"context"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/scoring"
)

// Source is the read side of the progress store used by reports.
type Source interface {
	WeakWords(ctx context.Context, username string, limit int) ([]model.WeakWord, error)
	LessonScores(ctx context.Context, username, module string) ([]model.LessonScore, error)
	AllModuleProgress(ctx context.Context, username string) (map[string]int, error)
	ExamCompleted(ctx context.Context, username, module string) (bool, error)
	XP(ctx context.Context, username string) (int, error)
}

// ModuleReport describes progress through one module.
type ModuleReport struct {
	Name          string    `json:"name"`
	Lessons       int       `json:"lessons"`
	Reached       int       `json:"reached"`
	Mastered      int       `json:"mastered"`
	ExamCompleted bool      `json:"exam_completed"`
	Scores        []float64 `json:"scores"`
}

// Report contains precomputed data for stats rendering.
type Report struct {
	Username  string           `json:"username"`
	XP        int              `json:"xp"`
	Tier      Tier             `json:"tier"`
	WeakWords []model.WeakWord `json:"weak_words"`
	Modules   []ModuleReport   `json:"modules"`
}

// BuildReport loads and prepares data for stats rendering.
func BuildReport(ctx context.Context, src Source, username string, modules []model.Module, weakLimit int) (Report, error) {
	xp, err := src.XP(ctx, username)
	if err != nil {
		return Report{}, err
	}
	weak, err := src.WeakWords(ctx, username, weakLimit)
	if err != nil {
		return Report{}, err
	}
	progress, err := src.AllModuleProgress(ctx, username)
	if err != nil {
		return Report{}, err
	}
	scores, err := src.LessonScores(ctx, username, "")
	if err != nil {
		return Report{}, err
	}
	byModule := map[string][]model.LessonScore{}
	for _, s := range scores {
		byModule[s.Module] = append(byModule[s.Module], s)
	}

	report := Report{Username: username, XP: xp, Tier: TierFor(xp), WeakWords: weak}
	for _, m := range modules {
		done, err := src.ExamCompleted(ctx, username, m.Name)
		if err != nil {
			return Report{}, err
		}
		report.Modules = append(report.Modules, moduleReport(m, progress[m.Name], byModule[m.Name], done))
	}
	return report, nil
}

func moduleReport(m model.Module, reached int, scores []model.LessonScore, examDone bool) ModuleReport {
	mr := ModuleReport{
		Name:          m.Name,
		Lessons:       len(m.Phrases),
		Reached:       min(reached, len(m.Phrases)),
		ExamCompleted: examDone,
	}
	if len(m.Phrases) == 0 {
		return mr
	}
	series := make([]float64, len(m.Phrases))
	for _, s := range scores {
		if s.Lesson < 0 || s.Lesson >= len(series) {
			continue
		}
		series[s.Lesson] = float64(s.BestScore)
		if s.BestScore >= scoring.SuccessScore {
			mr.Mastered++
		}
	}
	mr.Scores = series[:max(mr.Reached, lastScored(scores, len(series)))]
	return mr
}

func lastScored(scores []model.LessonScore, n int) int {
	last := 0
	for _, s := range scores {
		if s.Lesson >= 0 && s.Lesson < n && s.Lesson+1 > last {
			last = s.Lesson + 1
		}
	}
	return last
}
