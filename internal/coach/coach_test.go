package coach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/observe"
	"github.com/verte-zerg/sotaque/internal/selector"
	"github.com/verte-zerg/sotaque/internal/speech"
	"github.com/verte-zerg/sotaque/internal/store"
	"github.com/verte-zerg/sotaque/internal/tips"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sotaque.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newCoach(t *testing.T, st Store, opts ...Option) *Coach {
	t.Helper()
	base := []Option{
		WithMetrics(testMetrics(t)),
		WithLogger(quietLogger()),
		WithSelector(selector.NewWithSource(selector.DefaultLimits(), rand.NewSource(7))),
	}
	return New(st, append(base, opts...)...)
}

// failingStore fails every call.
type failingStore struct{ calls int }

var errDown = errors.New("database is down")

func (f *failingStore) RecordOutcomes(context.Context, string, []string, []string) error {
	f.calls++
	return errDown
}
func (f *failingStore) WeakWords(context.Context, string, int) ([]model.WeakWord, error) {
	f.calls++
	return nil, errDown
}
func (f *failingStore) SaveLessonScore(context.Context, string, string, int, int) error {
	f.calls++
	return errDown
}
func (f *failingStore) LessonScore(context.Context, string, string, int) (int, error) {
	f.calls++
	return 0, errDown
}
func (f *failingStore) SaveModuleProgress(context.Context, string, string, int) error {
	f.calls++
	return errDown
}
func (f *failingStore) MarkExamCompleted(context.Context, string, string, int) error {
	f.calls++
	return errDown
}
func (f *failingStore) AddXP(context.Context, string, int) (int, error) {
	f.calls++
	return 0, errDown
}
func (f *failingStore) SpendXP(context.Context, string, int) (int, error) {
	f.calls++
	return 0, errDown
}

var coffee = model.Phrase{ID: "casual_1", English: "I want coffee", Portuguese: "Eu quero café"}

func TestSubmitScoresAndPersists(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)

	att, err := c.Submit(ctx, AttemptInput{
		Username:   "ana",
		Module:     "casual",
		Lesson:     0,
		Phrase:     coffee,
		Transcript: "I want copy",
	})
	require.NoError(t, err)
	assert.Equal(t, 66, att.Result.Percent)
	assert.Equal(t, 2, att.XPGained)
	assert.Equal(t, 2, att.XP)
	assert.False(t, att.CanAdvance)

	rec, err := st.WordError(ctx, "ana", "coffee")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ErrorCount)
	assert.Equal(t, 1, rec.TotalSeen)

	best, err := st.LessonScore(ctx, "ana", "casual", 0)
	require.NoError(t, err)
	assert.Equal(t, 66, best)
}

func TestSubmitAdvancesLessonOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)

	att, err := c.Submit(ctx, AttemptInput{Username: "ana", Module: "casual", Lesson: 3, Phrase: coffee, Transcript: "i want coffee"})
	require.NoError(t, err)
	assert.True(t, att.CanAdvance)
	assert.Equal(t, 100, att.BestScore)

	reached, err := st.ModuleProgress(ctx, "ana", "casual")
	require.NoError(t, err)
	assert.Equal(t, 4, reached)

	// A worse retry keeps the lesson unlocked.
	att, err = c.Submit(ctx, AttemptInput{Username: "ana", Module: "casual", Lesson: 3, Phrase: coffee, Transcript: ""})
	require.NoError(t, err)
	assert.Equal(t, 0, att.Result.Percent)
	assert.Equal(t, 100, att.BestScore)
	assert.True(t, att.CanAdvance)
}

func TestSubmitCoachModeDoublesXP(t *testing.T) {
	c := newCoach(t, openStore(t))

	att, err := c.Submit(context.Background(), AttemptInput{Username: "ana", Mode: model.ModeCoach, Phrase: coffee, Transcript: "i want coffee"})
	require.NoError(t, err)
	assert.Equal(t, 6, att.XPGained)
}

func TestSubmitEmptyPhrase(t *testing.T) {
	c := newCoach(t, nil)

	_, err := c.Submit(context.Background(), AttemptInput{Phrase: model.Phrase{ID: "x", English: " ?! "}})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestSubmitSurvivesStoreFailure(t *testing.T) {
	fs := &failingStore{}
	c := newCoach(t, fs)

	att, err := c.Submit(context.Background(), AttemptInput{
		Username:   "ana",
		Module:     "casual",
		Phrase:     coffee,
		Transcript: "i want coffee",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, att.Result.Percent)
	assert.True(t, att.CanAdvance)
	assert.Zero(t, att.XP)
	assert.Positive(t, fs.calls)
}

func TestSubmitTipsDeduplicated(t *testing.T) {
	c := newCoach(t, nil)
	tracker := tips.NewTracker()
	phrase := model.Phrase{ID: "p", English: "think there"}

	first, err := c.Submit(context.Background(), AttemptInput{Phrase: phrase, Transcript: "fink dere", Tips: tracker})
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), AttemptInput{Phrase: phrase, Transcript: "fink dere", Tips: tracker})
	require.NoError(t, err)

	require.NotEmpty(t, first.Tips)
	assert.Equal(t, tips.TH, first.Tips[0].Key)
	assert.Empty(t, second.Tips)
}

func TestSubmitAudio(t *testing.T) {
	rec := speech.RecognizerFunc(func(context.Context, []byte, int) (string, error) {
		return "I want coffee", nil
	})
	c := newCoach(t, nil, WithRecognizer(rec, 0))

	att, err := c.Submit(context.Background(), AttemptInput{Phrase: coffee, Audio: speech.EncodeWAV(make([]byte, 64), 16000, 1)})
	require.NoError(t, err)
	assert.Equal(t, "i want coffee", att.Transcript)
	assert.Equal(t, 100, att.Result.Percent)
}

func TestSubmitMalformedAudioScoresSilence(t *testing.T) {
	rec := speech.RecognizerFunc(func(context.Context, []byte, int) (string, error) {
		t.Fatal("recognizer must not be called for malformed audio")
		return "", nil
	})
	c := newCoach(t, nil, WithRecognizer(rec, 0))

	att, err := c.Submit(context.Background(), AttemptInput{Phrase: coffee, Audio: []byte("not a wav")})
	require.NoError(t, err)
	assert.Equal(t, 0, att.Result.Percent)
	assert.True(t, att.Result.Silent())
}

func TestTranscribeWithoutRecognizer(t *testing.T) {
	c := newCoach(t, nil)
	_, err := c.Transcribe(context.Background(), speech.EncodeWAV(nil, 8000, 1))
	assert.ErrorIs(t, err, ErrNoRecognizer)
}

func TestSubmitAudioWithoutRecognizer(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)

	_, err := c.Submit(ctx, AttemptInput{
		Username: "ana",
		Module:   "casual",
		Phrase:   coffee,
		Audio:    speech.EncodeWAV(make([]byte, 64), 16000, 1),
	})
	require.ErrorIs(t, err, ErrNoRecognizer)

	_, err = st.WordError(ctx, "ana", "coffee")
	assert.ErrorIs(t, err, store.ErrNotFound)
	xp, err := st.XP(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, xp)
}

// progressDownStore keeps XP in memory and fails to save progress.
type progressDownStore struct {
	failingStore
	xp int
}

func (s *progressDownStore) SpendXP(_ context.Context, _ string, amount int) (int, error) {
	if s.xp < amount {
		return s.xp, store.ErrInsufficientXP
	}
	s.xp -= amount
	return s.xp, nil
}

func (s *progressDownStore) AddXP(_ context.Context, _ string, delta int) (int, error) {
	s.xp += delta
	return s.xp, nil
}

func TestSkipLessonRefundsWhenProgressFails(t *testing.T) {
	st := &progressDownStore{xp: 70}
	c := newCoach(t, st)

	xp, err := c.SkipLesson(context.Background(), "ana", "casual", 2)
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, 70, xp)
	assert.Equal(t, 70, st.xp)
}

func TestSkipLesson(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)

	_, err := c.SkipLesson(ctx, "ana", "casual", 2)
	assert.ErrorIs(t, err, store.ErrInsufficientXP)

	_, err = st.AddXP(ctx, "ana", 70)
	require.NoError(t, err)
	xp, err := c.SkipLesson(ctx, "ana", "casual", 2)
	require.NoError(t, err)
	assert.Equal(t, 20, xp)

	reached, err := st.ModuleProgress(ctx, "ana", "casual")
	require.NoError(t, err)
	assert.Equal(t, 3, reached)
}

func makeModule(name string, n int, pattern string) model.Module {
	m := model.Module{Name: name}
	for i := 0; i < n; i++ {
		m.Phrases = append(m.Phrases, model.Phrase{
			ID:      fmt.Sprintf("%s_%d", name, i),
			English: fmt.Sprintf(pattern, i),
		})
	}
	return m
}

func TestExamFlow(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)
	module := makeModule("saude", 8, "phrase number %d")

	s, err := c.StartExam(ctx, "ana", module, []model.Module{module})
	require.NoError(t, err)
	require.Len(t, s.Phrases, 4)
	assert.NotEqual(t, uuid.Nil, s.ID)

	start := s
	for !s.Done() {
		p, ok := s.Current()
		require.True(t, ok)
		s, _, err = c.AnswerExam(ctx, s, p.English, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, start.Index)
	assert.Empty(t, start.History)
	assert.Len(t, s.History, 4)
	assert.Equal(t, 100, s.Score())
	assert.Equal(t, 100, s.Summary().AverageScore)

	done, err := st.ExamCompleted(ctx, "ana", "saude")
	require.NoError(t, err)
	assert.True(t, done)

	_, _, err = c.AnswerExam(ctx, s, "anything", nil)
	assert.ErrorIs(t, err, ErrExamFinished)
}

func TestExamSessionsAreIndependentValues(t *testing.T) {
	ctx := context.Background()
	c := newCoach(t, nil)
	module := makeModule("casual", 6, "hello %d")

	s, err := c.StartExam(ctx, "", module, nil)
	require.NoError(t, err)

	a, _, err := c.AnswerExam(ctx, s, "", nil)
	require.NoError(t, err)
	b, _, err := c.AnswerExam(ctx, s, "", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Index)
	assert.Equal(t, 1, b.Index)
	assert.Len(t, a.History, 1)
	assert.Len(t, b.History, 1)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, 0, a.Score())
	assert.Len(t, a.History[0].WrongWords, 2)
}

func TestStartExamEmptyModule(t *testing.T) {
	c := newCoach(t, nil)
	_, err := c.StartExam(context.Background(), "ana", model.Module{Name: "vazio"}, nil)
	assert.ErrorIs(t, err, selector.ErrEmptyModule)
}

func TestBuildExamPrefersWeakWords(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	c := newCoach(t, st)

	module := makeModule("saude", 60, "phrase number %d")
	module.Phrases[25].English = "take me to the hospital"
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordOutcomes(ctx, "ana", []string{"hospital"}, []string{"hospital"}))
	}

	phrases, err := c.BuildExam(ctx, "ana", module, module.Midpoint(), nil)
	require.NoError(t, err)
	assert.Len(t, phrases, 20)
	assert.Contains(t, phrases, module.Phrases[25])
}

func TestBuildExamDegradesWhenWeakWordsFail(t *testing.T) {
	c := newCoach(t, &failingStore{})
	module := makeModule("saude", 40, "phrase number %d")

	phrases, err := c.BuildExam(context.Background(), "ana", module, module.Midpoint(), nil)
	require.NoError(t, err)
	assert.Len(t, phrases, 20)
}

func TestDrill(t *testing.T) {
	c := newCoach(t, nil)
	module := makeModule("casual", 10, "hello %d")

	got := c.Drill(context.Background(), "", module.Phrases, 3)
	assert.Len(t, got, 3)
}
