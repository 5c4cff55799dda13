package coach

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/scoring"
	"github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/tips"
)

// ExamSession is the state of one mid-module exam. It is a value: every
// answer returns a new session and leaves the old one untouched.
type ExamSession struct {
	ID           uuid.UUID             `json:"id"`
	Username     string                `json:"username"`
	Module       string                `json:"module"`
	Phrases      []model.Phrase        `json:"phrases"`
	Index        int                   `json:"index"`
	CorrectWords int                   `json:"correct_words"`
	TotalWords   int                   `json:"total_words"`
	History      []model.AttemptRecord `json:"history"`
	StartedAt    time.Time             `json:"started_at"`
}

// Current returns the phrase to answer next.
func (s ExamSession) Current() (model.Phrase, bool) {
	if s.Index < 0 || s.Index >= len(s.Phrases) {
		return model.Phrase{}, false
	}
	return s.Phrases[s.Index], true
}

// Done reports whether every phrase was answered.
func (s ExamSession) Done() bool {
	return s.Index >= len(s.Phrases)
}

// Score is the share of correct words over all answered words.
func (s ExamSession) Score() int {
	return scoring.Percent(s.CorrectWords, s.TotalWords)
}

// Summary aggregates the answers given so far.
func (s ExamSession) Summary() model.SessionSummary {
	return stats.Finalize(s.History)
}

// BuildExam selects exam phrases for current, biased toward username's weak
// words. A failing weak-word read degrades to an unbiased exam.
func (c *Coach) BuildExam(ctx context.Context, username string, current model.Module, midpoint int, modules []model.Module) ([]model.Phrase, error) {
	weak := c.WeakWords(ctx, username, c.selector.Limits().WeakFetch)

	c.selMu.Lock()
	defer c.selMu.Unlock()
	return c.selector.BuildExam(current, midpoint, weak, modules)
}

// StartExam builds a new exam at the module midpoint.
func (c *Coach) StartExam(ctx context.Context, username string, current model.Module, modules []model.Module) (ExamSession, error) {
	phrases, err := c.BuildExam(ctx, username, current, current.Midpoint(), modules)
	if err != nil {
		return ExamSession{}, err
	}
	c.metrics.ExamsStarted.Add(ctx, 1)
	c.logger.Info("exam started",
		slog.String("user", username),
		slog.String("module", current.Name),
		slog.Int("phrases", len(phrases)),
	)
	return ExamSession{
		ID:        uuid.New(),
		Username:  username,
		Module:    current.Name,
		Phrases:   phrases,
		History:   []model.AttemptRecord{},
		StartedAt: time.Now().UTC(),
	}, nil
}

// AnswerExam scores spoken against the current phrase and returns the
// advanced session. The exam is marked completed after the last answer.
func (c *Coach) AnswerExam(ctx context.Context, s ExamSession, spoken string, tracker *tips.Tracker) (ExamSession, Attempt, error) {
	phrase, ok := s.Current()
	if !ok {
		return s, Attempt{}, ErrExamFinished
	}
	att, err := c.Submit(ctx, AttemptInput{
		Username:   s.Username,
		Module:     s.Module,
		Mode:       model.ModeExam,
		Phrase:     phrase,
		Transcript: spoken,
		Tips:       tracker,
	})
	if err != nil {
		return s, Attempt{}, err
	}

	next := s
	next.Index++
	next.CorrectWords += att.Result.Correct
	next.TotalWords += att.Result.Total
	next.History = append(slices.Clip(s.History), att.Record())

	if next.Done() {
		c.metrics.ExamsCompleted.Add(ctx, 1)
		if c.store != nil && next.Username != "" {
			if err := c.store.MarkExamCompleted(ctx, next.Username, next.Module, next.Score()); err != nil {
				c.storeFailed(ctx, "mark_exam_completed", next.Username, err)
			}
		}
		c.logger.Info("exam completed",
			slog.String("user", next.Username),
			slog.String("module", next.Module),
			slog.Int("score", next.Score()),
		)
	}
	return next, att, nil
}
