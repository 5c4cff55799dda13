package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/observe"
	"github.com/verte-zerg/sotaque/internal/selector"
	"github.com/verte-zerg/sotaque/internal/speech"
	"github.com/verte-zerg/sotaque/internal/store"
	"github.com/verte-zerg/sotaque/internal/tts"
)

type fixture struct {
	store   *store.Store
	server  *Server
	handler http.Handler
	now     time.Time
}

func testModules() []model.Module {
	saude := model.Module{Name: "saude"}
	for i := 0; i < 8; i++ {
		saude.Phrases = append(saude.Phrases, model.Phrase{
			ID:      fmt.Sprintf("saude_%d", i),
			English: fmt.Sprintf("see the doctor %d", i),
		})
	}
	casual := model.Module{Name: "casual", Phrases: []model.Phrase{
		{ID: "casual_0", English: "I want coffee", Portuguese: "Eu quero café"},
		{ID: "casual_1", English: "Good morning", Portuguese: "Bom dia"},
	}}
	return []model.Module{casual, saude}
}

type echoSynth struct{}

func (echoSynth) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return buildFixture(t, true, opts...)
}

func buildFixture(t *testing.T, withRecognizer bool, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := speech.RecognizerFunc(func(context.Context, []byte, int) (string, error) {
		return "Good morning", nil
	})
	coachOpts := []coach.Option{
		coach.WithMetrics(metrics),
		coach.WithLogger(logger),
		coach.WithSelector(selector.NewWithSource(selector.DefaultLimits(), rand.NewSource(1))),
	}
	if withRecognizer {
		coachOpts = append(coachOpts, coach.WithRecognizer(rec, time.Second))
	}
	c := coach.New(st, coachOpts...)
	cache, err := tts.NewCache(t.TempDir(), "", echoSynth{})
	require.NoError(t, err)

	f := &fixture{store: st, now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithMetrics(metrics, nil),
		WithLogger(logger),
		WithAudio(cache, "en-US"),
		WithClock(func() time.Time { return f.now }),
	}
	f.server = NewServer(c, st, testModules(), append(base, opts...)...)
	f.handler = f.server.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestScoreTranscript(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/score", map[string]any{
		"username":   "ana",
		"phrase_id":  "casual_0",
		"transcript": "I want copy",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	att := decode[coach.Attempt](t, rr)
	assert.Equal(t, 66, att.Result.Percent)
	assert.Equal(t, "casual_0", att.Phrase.ID)
	assert.False(t, att.Result.Words[2].Correct)
	assert.NotEmpty(t, att.Result.Words[2].Feedback)

	best, err := f.store.LessonScore(context.Background(), "ana", "casual", 0)
	require.NoError(t, err)
	assert.Equal(t, 66, best)
}

func (f *fixture) postAudio(t *testing.T, path string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("audio", "take.wav")
	require.NoError(t, err)
	_, err = fw.Write(speech.EncodeWAV(make([]byte, 32), 16000, 1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestScoreMultipartAudio(t *testing.T) {
	f := newFixture(t)

	rr := f.postAudio(t, "/api/v1/score", map[string]string{"phrase_id": "casual_1", "username": "ana"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	att := decode[coach.Attempt](t, rr)
	assert.Equal(t, "good morning", att.Transcript)
	assert.Equal(t, 100, att.Result.Percent)
	assert.True(t, att.CanAdvance)
}

func TestAudioWithoutRecognizerIsUnavailable(t *testing.T) {
	f := buildFixture(t, false)
	ctx := context.Background()

	rr := f.postAudio(t, "/api/v1/score", map[string]string{"phrase_id": "casual_0", "username": "ana"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())
	_, err := f.store.WordError(ctx, "ana", "coffee")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rr = f.do(t, http.MethodPost, "/api/v1/exams", map[string]string{"username": "ana", "module": "saude"})
	require.Equal(t, http.StatusCreated, rr.Code)
	exam := decode[examView](t, rr)

	path := "/api/v1/exams/" + exam.ID.String()
	rr = f.postAudio(t, path+"/answers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decode[examView](t, rr).Index)
}

func TestScoreErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/score", map[string]any{"phrase": "  ", "transcript": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/score", map[string]any{"phrase_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/score", map[string]any{"phrase": "hi", "mode": "karaoke"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScoreSeenTipsAreSkipped(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/score", map[string]any{
		"phrase":     "think",
		"transcript": "fink",
		"seen_tips":  []string{"th"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	att := decode[coach.Attempt](t, rr)
	assert.Empty(t, att.Tips)
}

func TestWeakWordsAndReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.RecordOutcomes(ctx, "ana", []string{"doctor"}, []string{"see", "the", "doctor"}))
	}

	rr := f.do(t, http.MethodGet, "/api/v1/users/ana/weak-words?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	weak := decode[[]model.WeakWord](t, rr)
	require.Len(t, weak, 1)
	assert.Equal(t, "doctor", weak[0].Word)
	assert.Equal(t, 3, weak[0].ErrorCount)

	rr = f.do(t, http.MethodGet, "/api/v1/users/ana/weak-words?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/users/bob/weak-words", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/v1/users/ana/report", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rep map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, "ana", rep["username"])
	assert.Len(t, rep["modules"], 2)
}

func TestExamLifecycle(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/exams", map[string]string{"username": "ana", "module": "saude"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	exam := decode[examView](t, rr)
	require.Equal(t, 4, exam.Total)
	require.NotNil(t, exam.Current)

	path := "/api/v1/exams/" + exam.ID.String()
	for i := 0; i < exam.Total; i++ {
		rr = f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		current := decode[examView](t, rr).Current
		require.NotNil(t, current)

		rr = f.do(t, http.MethodPost, path+"/answers", map[string]string{"transcript": current.English})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	resp := decode[answerResponse](t, rr)
	assert.True(t, resp.Exam.Done)
	assert.Equal(t, 100, resp.Exam.Score)
	require.NotNil(t, resp.Exam.Summary)
	assert.Equal(t, 4, resp.Exam.Summary.Attempts)

	done, err := f.store.ExamCompleted(context.Background(), "ana", "saude")
	require.NoError(t, err)
	assert.True(t, done)

	rr = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, f.server.exams.len())
}

func TestExamErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/exams", map[string]string{"username": "ana", "module": "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/exams/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/exams/6f1c2d7e-0000-4000-8000-000000000000/answers", map[string]string{"transcript": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExamAbandonAndExpiry(t *testing.T) {
	f := newFixture(t, WithExamTTL(time.Hour))

	rr := f.do(t, http.MethodPost, "/api/v1/exams", map[string]string{"username": "ana", "module": "saude"})
	require.Equal(t, http.StatusCreated, rr.Code)
	first := decode[examView](t, rr)

	rr = f.do(t, http.MethodDelete, "/api/v1/exams/"+first.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodDelete, "/api/v1/exams/"+first.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/exams", map[string]string{"username": "ana", "module": "saude"})
	require.Equal(t, http.StatusCreated, rr.Code)
	second := decode[examView](t, rr)

	f.now = f.now.Add(2 * time.Hour)
	rr = f.do(t, http.MethodGet, "/api/v1/exams/"+second.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSkipAndDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr := f.do(t, http.MethodPost, "/api/v1/users/ana/skip", map[string]any{"module": "casual", "lesson": 0})
	assert.Equal(t, http.StatusConflict, rr.Code)

	_, err := f.store.AddXP(ctx, "ana", 60)
	require.NoError(t, err)
	rr = f.do(t, http.MethodPost, "/api/v1/users/ana/skip", map[string]any{"module": "casual", "lesson": 0})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"xp":10,"unlocked":1}`, rr.Body.String())

	rr = f.do(t, http.MethodDelete, "/api/v1/users/ana", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	xp, err := f.store.XP(ctx, "ana")
	require.NoError(t, err)
	assert.Zero(t, xp)
}

func TestModulesAndTTS(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/modules", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	mods := decode[[]moduleSummary](t, rr)
	assert.Len(t, mods, 2)

	rr = f.do(t, http.MethodGet, "/api/v1/modules/casual", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "kófi")

	rr = f.do(t, http.MethodGet, "/api/v1/tts?text=hello", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/mpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "mp3:hello", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/v1/tts", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
