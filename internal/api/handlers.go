package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/phonetic"
	"github.com/verte-zerg/sotaque/internal/phrasebank"
	"github.com/verte-zerg/sotaque/internal/selector"
	"github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/store"
	"github.com/verte-zerg/sotaque/internal/tips"
	"github.com/verte-zerg/sotaque/internal/tts"
)

const defaultWeakLimit = 20

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithErr maps domain errors to status codes.
func (s *Server) respondWithErr(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, phrasebank.ErrModuleNotFound), errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, coach.ErrNoContent), errors.Is(err, selector.ErrEmptyModule):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInsufficientXP), errors.Is(err, coach.ErrExamFinished):
		code = http.StatusConflict
	case errors.Is(err, store.ErrNoUsername):
		code = http.StatusBadRequest
	case errors.Is(err, tts.ErrUnavailable), errors.Is(err, coach.ErrNoRecognizer):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		respondWithError(w, code, "internal error")
		return
	}
	respondWithError(w, code, err.Error())
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type moduleSummary struct {
	Name     string `json:"name"`
	Phrases  int    `json:"phrases"`
	Midpoint int    `json:"midpoint"`
}

func (s *Server) listModules(w http.ResponseWriter, _ *http.Request) {
	out := make([]moduleSummary, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, moduleSummary{Name: m.Name, Phrases: len(m.Phrases), Midpoint: m.Midpoint()})
	}
	respondWithJSON(w, http.StatusOK, out)
}

type phraseView struct {
	model.Phrase
	Guide string `json:"guide"`
}

func (s *Server) getModule(w http.ResponseWriter, r *http.Request) {
	m, err := phrasebank.Find(s.modules, mux.Vars(r)["name"])
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	phrases := make([]phraseView, len(m.Phrases))
	for i, p := range m.Phrases {
		phrases[i] = phraseView{Phrase: p, Guide: phonetic.Guide(p.English)}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"name":     m.Name,
		"midpoint": m.Midpoint(),
		"phrases":  phrases,
	})
}

type scoreRequest struct {
	Username   string   `json:"username"`
	Module     string   `json:"module"`
	Lesson     int      `json:"lesson"`
	Mode       string   `json:"mode"`
	PhraseID   string   `json:"phrase_id"`
	Phrase     string   `json:"phrase"`
	Transcript string   `json:"transcript"`
	Reviewing  bool     `json:"reviewing"`
	SeenTips   []string `json:"seen_tips"`
	audio      []byte
}

// readScoreRequest accepts JSON or multipart form data with an "audio" file.
func (s *Server) readScoreRequest(w http.ResponseWriter, r *http.Request) (scoreRequest, bool) {
	var req scoreRequest
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return req, s.decodeJSON(w, r, &req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err))
		return req, false
	}
	req.Username = r.FormValue("username")
	req.Module = r.FormValue("module")
	req.Mode = r.FormValue("mode")
	req.PhraseID = r.FormValue("phrase_id")
	req.Phrase = r.FormValue("phrase")
	req.Transcript = r.FormValue("transcript")
	req.Reviewing, _ = strconv.ParseBool(r.FormValue("reviewing"))
	req.SeenTips = r.Form["seen_tips"]
	if v := r.FormValue("lesson"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "lesson must be an integer")
			return req, false
		}
		req.Lesson = n
	}

	if f, _, err := r.FormFile("audio"); err == nil {
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "failed to read audio")
			return req, false
		}
		req.audio = data
	}
	return req, true
}

func parseMode(name string) (model.Mode, error) {
	switch model.Mode(name) {
	case "", model.ModeLesson:
		return model.ModeLesson, nil
	case model.ModeCoach:
		return model.ModeCoach, nil
	case model.ModeExam:
		return model.ModeExam, nil
	default:
		return "", fmt.Errorf("unknown mode %q", name)
	}
}

func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readScoreRequest(w, r)
	if !ok {
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	phrase := model.Phrase{ID: "adhoc", English: req.Phrase}
	module := req.Module
	if req.PhraseID != "" {
		p, name, found := phrasebank.FindPhrase(s.modules, req.PhraseID)
		if !found {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("phrase %q not found", req.PhraseID))
			return
		}
		phrase = p
		module = name
	}

	tracker := tips.NewTracker()
	seen := make([]tips.Key, len(req.SeenTips))
	for i, k := range req.SeenTips {
		seen[i] = tips.Key(k)
	}
	tracker.Add(seen)

	att, err := s.coach.Submit(r.Context(), coach.AttemptInput{
		Username:   req.Username,
		Module:     module,
		Lesson:     req.Lesson,
		Mode:       mode,
		Phrase:     phrase,
		Transcript: req.Transcript,
		Audio:      req.audio,
		Tips:       tracker,
		Reviewing:  req.Reviewing,
	})
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, att)
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request) {
	if s.audio == nil {
		respondWithError(w, http.StatusServiceUnavailable, "text to speech is not configured")
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		respondWithError(w, http.StatusBadRequest, "text is required")
		return
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = s.ttsLang
	}
	data, err := s.audio.Audio(r.Context(), text, lang)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func (s *Server) weakWords(w http.ResponseWriter, r *http.Request) {
	limit := defaultWeakLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	weak, err := s.store.WeakWords(r.Context(), mux.Vars(r)["username"], limit)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	if weak == nil {
		weak = []model.WeakWord{}
	}
	respondWithJSON(w, http.StatusOK, weak)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	rep, err := stats.BuildReport(r.Context(), s.store, mux.Vars(r)["username"], s.modules, defaultWeakLimit)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rep)
}

type skipRequest struct {
	Module string `json:"module"`
	Lesson int    `json:"lesson"`
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if _, err := phrasebank.Find(s.modules, req.Module); err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	xp, err := s.coach.SkipLesson(r.Context(), mux.Vars(r)["username"], req.Module, req.Lesson)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"xp": xp, "unlocked": req.Lesson + 1})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.Context(), mux.Vars(r)["username"]); err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startExamRequest struct {
	Username string `json:"username"`
	Module   string `json:"module"`
}

type examView struct {
	ID      uuid.UUID             `json:"id"`
	Module  string                `json:"module"`
	Index   int                   `json:"index"`
	Total   int                   `json:"total"`
	Score   int                   `json:"score"`
	Done    bool                  `json:"done"`
	Current *phraseView           `json:"current,omitempty"`
	Summary *model.SessionSummary `json:"summary,omitempty"`
}

func viewExam(e coach.ExamSession) examView {
	v := examView{
		ID:     e.ID,
		Module: e.Module,
		Index:  e.Index,
		Total:  len(e.Phrases),
		Score:  e.Score(),
		Done:   e.Done(),
	}
	if p, ok := e.Current(); ok {
		v.Current = &phraseView{Phrase: p, Guide: phonetic.Guide(p.English)}
	}
	if v.Done {
		sum := e.Summary()
		v.Summary = &sum
	}
	return v
}

func (s *Server) startExam(w http.ResponseWriter, r *http.Request) {
	var req startExamRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	m, err := phrasebank.Find(s.modules, req.Module)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	session, err := s.coach.StartExam(r.Context(), req.Username, m, s.modules)
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}
	expired := s.exams.put(session)
	s.metrics.ActiveExams.Add(r.Context(), int64(1-expired))
	respondWithJSON(w, http.StatusCreated, viewExam(session))
}

func (s *Server) lookupExam(w http.ResponseWriter, r *http.Request) (uuid.UUID, *examEntry, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid exam id")
		return uuid.Nil, nil, false
	}
	e, ok := s.exams.get(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "exam not found")
		return id, nil, false
	}
	return id, e, true
}

func (s *Server) getExam(w http.ResponseWriter, r *http.Request) {
	_, e, ok := s.lookupExam(w, r)
	if !ok {
		return
	}
	e.mu.Lock()
	view := viewExam(e.session)
	e.mu.Unlock()
	respondWithJSON(w, http.StatusOK, view)
}

func (s *Server) abandonExam(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	if !s.exams.remove(id) {
		respondWithError(w, http.StatusNotFound, "exam not found")
		return
	}
	s.metrics.ActiveExams.Add(r.Context(), -1)
	w.WriteHeader(http.StatusNoContent)
}

type answerResponse struct {
	Attempt coach.Attempt `json:"attempt"`
	Exam    examView      `json:"exam"`
}

func (s *Server) answerExam(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readScoreRequest(w, r)
	if !ok {
		return
	}
	id, e, ok := s.lookupExam(w, r)
	if !ok {
		return
	}

	spoken := req.Transcript
	if spoken == "" && len(req.audio) > 0 {
		if !s.coach.CanRecognize() {
			s.respondWithErr(w, r, coach.ErrNoRecognizer)
			return
		}
		text, err := s.coach.Transcribe(r.Context(), req.audio)
		if err != nil {
			s.logger.WarnContext(r.Context(), "recognition failed, scoring as silence", slog.Any("error", err))
		}
		spoken = text
	}

	e.mu.Lock()
	next, att, err := s.coach.AnswerExam(r.Context(), e.session, spoken, e.tips)
	if err == nil {
		e.session = next
		e.touched = s.exams.now()
	}
	e.mu.Unlock()
	if err != nil {
		s.respondWithErr(w, r, err)
		return
	}

	if next.Done() && s.exams.remove(id) {
		s.metrics.ActiveExams.Add(r.Context(), -1)
	}
	respondWithJSON(w, http.StatusOK, answerResponse{Attempt: att, Exam: viewExam(next)})
}
