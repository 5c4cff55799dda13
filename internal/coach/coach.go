// Package coach runs pronunciation attempts end to end: it transcribes audio,
// scores the transcript, picks tips, awards XP and records progress.
//
// Progress writes are best effort. A failing store is logged and counted but
// never changes the feedback a learner sees.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/observe"
	"github.com/verte-zerg/sotaque/internal/scoring"
	"github.com/verte-zerg/sotaque/internal/selector"
	"github.com/verte-zerg/sotaque/internal/speech"
	"github.com/verte-zerg/sotaque/internal/store"
	"github.com/verte-zerg/sotaque/internal/textnorm"
	"github.com/verte-zerg/sotaque/internal/tips"
)

// XP awarded per correct word, and the price of skipping a lesson.
const (
	LessonXPPerWord = 1
	CoachXPPerWord  = 2
	SkipCost        = 50
)

// DefaultRecognizeTimeout bounds a single recognition call.
const DefaultRecognizeTimeout = 20 * time.Second

var (
	// ErrNoContent is returned when there is nothing to practice.
	ErrNoContent = errors.New("content unavailable")
	// ErrNoRecognizer is returned when audio arrives but no recognizer is set.
	ErrNoRecognizer = errors.New("speech recognition is not configured")
	// ErrExamFinished is returned when answering an exam with no phrase left.
	ErrExamFinished = errors.New("exam already finished")
)

// Store is the persistence the coach needs. Both the SQLite and Postgres
// stores satisfy it.
type Store interface {
	RecordOutcomes(ctx context.Context, username string, wrong, all []string) error
	WeakWords(ctx context.Context, username string, limit int) ([]model.WeakWord, error)
	SaveLessonScore(ctx context.Context, username, module string, lesson, score int) error
	LessonScore(ctx context.Context, username, module string, lesson int) (int, error)
	SaveModuleProgress(ctx context.Context, username, module string, index int) error
	MarkExamCompleted(ctx context.Context, username, module string, score int) error
	AddXP(ctx context.Context, username string, delta int) (int, error)
	SpendXP(ctx context.Context, username string, amount int) (int, error)
}

// Coach is safe for concurrent use.
type Coach struct {
	store   Store
	scorer  *scoring.Scorer
	metrics *observe.Metrics
	logger  *slog.Logger

	recognizer       speech.Recognizer
	recognizeTimeout time.Duration

	selMu    sync.Mutex
	selector *selector.Selector
}

// Option configures a Coach.
type Option func(*Coach)

// WithScorer replaces the default positional scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(c *Coach) { c.scorer = s }
}

// WithSelector replaces the default exam selector.
func WithSelector(s *selector.Selector) Option {
	return func(c *Coach) { c.selector = s }
}

// WithRecognizer enables audio attempts. A non-positive timeout selects
// DefaultRecognizeTimeout.
func WithRecognizer(r speech.Recognizer, timeout time.Duration) Option {
	return func(c *Coach) {
		c.recognizer = r
		if timeout > 0 {
			c.recognizeTimeout = timeout
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coach) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coach) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Coach writing progress to st. st may be nil for anonymous
// practice.
func New(st Store, opts ...Option) *Coach {
	c := &Coach{
		store:            st,
		scorer:           scoring.New(),
		logger:           slog.Default(),
		recognizeTimeout: DefaultRecognizeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.selector == nil {
		c.selector = selector.New(selector.DefaultLimits())
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// AttemptInput is one spoken attempt at a phrase. Either Transcript or Audio
// carries what was said; Transcript wins when both are set.
type AttemptInput struct {
	Username   string
	Module     string
	Lesson     int
	Mode       model.Mode
	Phrase     model.Phrase
	Transcript string
	Audio      []byte
	// Tips deduplicates tips across a session. Nil shows every tip.
	Tips *tips.Tracker
	// Reviewing marks a lesson the learner already finished.
	Reviewing bool
}

// Attempt is the feedback for one AttemptInput.
type Attempt struct {
	Phrase     model.Phrase        `json:"phrase"`
	Transcript string              `json:"transcript"`
	Result     model.ScoringResult `json:"result"`
	Tips       []tips.Tip          `json:"tips"`
	XPGained   int                 `json:"xp_gained"`
	XP         int                 `json:"xp,omitempty"`
	BestScore  int                 `json:"best_score"`
	CanAdvance bool                `json:"can_advance"`
}

// Record converts a to a session history entry.
func (a Attempt) Record() model.AttemptRecord {
	return model.AttemptRecord{
		Phrase:     a.Phrase.English,
		Score:      a.Result.Percent,
		WrongWords: a.Result.WrongWords(),
	}
}

// XPPerWord returns the XP a correct word is worth in mode.
func XPPerWord(mode model.Mode) int {
	if mode == model.ModeCoach {
		return CoachXPPerWord
	}
	return LessonXPPerWord
}

// CanRecognize reports whether audio attempts can be transcribed.
func (c *Coach) CanRecognize() bool {
	return c.recognizer != nil
}

// Transcribe turns WAV audio into a lowercase transcript.
func (c *Coach) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.recognizer == nil {
		return "", ErrNoRecognizer
	}
	start := time.Now()
	text, err := speech.Transcribe(ctx, c.recognizer, audio, c.recognizeTimeout)
	reason := ""
	switch {
	case errors.Is(err, speech.ErrMalformedAudio):
		reason = "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case err != nil:
		reason = "error"
	case text == "":
		reason = "empty"
	}
	c.metrics.RecordRecognition(ctx, time.Since(start), reason)
	return text, err
}

// Submit scores in and records its outcome. An empty phrase, or audio
// without a configured recognizer, is an error; recognition failures are
// scored as silence.
func (c *Coach) Submit(ctx context.Context, in AttemptInput) (Attempt, error) {
	if len(textnorm.Normalize(in.Phrase.English)) == 0 {
		return Attempt{}, fmt.Errorf("%w: phrase %q has no words", ErrNoContent, in.Phrase.ID)
	}
	if in.Transcript == "" && len(in.Audio) > 0 && !c.CanRecognize() {
		return Attempt{}, ErrNoRecognizer
	}
	if in.Mode == "" {
		in.Mode = model.ModeLesson
	}

	transcript := in.Transcript
	if transcript == "" && len(in.Audio) > 0 {
		text, err := c.Transcribe(ctx, in.Audio)
		if err != nil {
			c.logger.Warn("recognition failed, scoring as silence",
				slog.String("phrase", in.Phrase.ID),
				slog.Any("error", err),
			)
		}
		transcript = text
	}

	res := c.scorer.Score(in.Phrase.English, transcript)
	att := Attempt{
		Phrase:     in.Phrase,
		Transcript: transcript,
		Result:     res,
		Tips:       tips.ForResult(in.Tips, res),
		XPGained:   res.Correct * XPPerWord(in.Mode),
		BestScore:  res.Percent,
	}
	if att.Tips == nil {
		att.Tips = []tips.Tip{}
	}
	c.metrics.RecordAttempt(ctx, string(in.Mode), res.Percent, res.Correct, res.Total)

	best := 0
	if c.store != nil && in.Username != "" {
		best = c.persist(ctx, in, &att)
	}
	att.BestScore = max(best, res.Percent)
	att.CanAdvance = scoring.CanAdvance(res.Percent, best, in.Reviewing)

	if att.CanAdvance && in.Mode == model.ModeLesson && c.store != nil && in.Username != "" && in.Module != "" {
		if err := c.store.SaveModuleProgress(ctx, in.Username, in.Module, in.Lesson+1); err != nil {
			c.storeFailed(ctx, "save_module_progress", in.Username, err)
		}
	}

	c.logger.Debug("attempt scored",
		slog.String("user", in.Username),
		slog.String("mode", string(in.Mode)),
		slog.String("phrase", in.Phrase.ID),
		slog.Int("score", res.Percent),
	)
	return att, nil
}

// persist writes the attempt and returns the previous best lesson score.
func (c *Coach) persist(ctx context.Context, in AttemptInput, att *Attempt) int {
	res := att.Result
	if err := c.store.RecordOutcomes(ctx, in.Username, res.WrongWords(), res.TargetWords()); err != nil {
		c.storeFailed(ctx, "record_outcomes", in.Username, err)
	}

	best := 0
	if in.Mode == model.ModeLesson && in.Module != "" {
		prev, err := c.store.LessonScore(ctx, in.Username, in.Module, in.Lesson)
		switch {
		case err == nil:
			best = prev
		case !errors.Is(err, store.ErrNotFound):
			c.storeFailed(ctx, "lesson_score", in.Username, err)
		}
		if err := c.store.SaveLessonScore(ctx, in.Username, in.Module, in.Lesson, res.Percent); err != nil {
			c.storeFailed(ctx, "save_lesson_score", in.Username, err)
		}
	}

	if att.XPGained > 0 {
		total, err := c.store.AddXP(ctx, in.Username, att.XPGained)
		if err != nil {
			c.storeFailed(ctx, "add_xp", in.Username, err)
		} else {
			att.XP = total
		}
	}
	return best
}

func (c *Coach) storeFailed(ctx context.Context, op, username string, err error) {
	c.metrics.RecordStoreError(ctx, op)
	c.logger.Error("progress write failed",
		slog.String("op", op),
		slog.String("user", username),
		slog.Any("error", err),
	)
}

// SkipLesson spends SkipCost XP to unlock the lesson after lesson. The XP
// is refunded when the unlock cannot be saved.
func (c *Coach) SkipLesson(ctx context.Context, username, module string, lesson int) (int, error) {
	if c.store == nil {
		return 0, fmt.Errorf("skip lesson: no store configured")
	}
	xp, err := c.store.SpendXP(ctx, username, SkipCost)
	if err != nil {
		return 0, fmt.Errorf("skip lesson: %w", err)
	}
	if err := c.store.SaveModuleProgress(ctx, username, module, lesson+1); err != nil {
		refunded, rerr := c.store.AddXP(ctx, username, SkipCost)
		if rerr != nil {
			c.storeFailed(ctx, "refund_xp", username, rerr)
			return xp, fmt.Errorf("skip lesson: %w", errors.Join(err, rerr))
		}
		return refunded, fmt.Errorf("skip lesson: %w", err)
	}
	return xp, nil
}

// WeakWords returns the learner's weak words, or none when the store
// cannot be read.
func (c *Coach) WeakWords(ctx context.Context, username string, limit int) []model.WeakWord {
	if c.store == nil || username == "" {
		return nil
	}
	weak, err := c.store.WeakWords(ctx, username, limit)
	if err != nil {
		c.storeFailed(ctx, "weak_words", username, err)
		return nil
	}
	return weak
}

// Drill picks count phrases for free practice, favouring weak words.
func (c *Coach) Drill(ctx context.Context, username string, phrases []model.Phrase, count int) []model.Phrase {
	weak := c.WeakWords(ctx, username, c.selector.Limits().WeakFetch)
	c.selMu.Lock()
	defer c.selMu.Unlock()
	return c.selector.Drill(phrases, count, weak, 2)
}
