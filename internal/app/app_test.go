package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/sotaque/internal/config"
	"github.com/verte-zerg/sotaque/internal/speech"
)

func TestNewLoggerJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("user", "ana"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "ana", line["user"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := OpenStore(ctx, config.StoreConfig{
		Driver:        "sqlite",
		Path:          filepath.Join(t.TempDir(), "s.db"),
		WeakThreshold: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.RecordOutcomes(ctx, "ana", []string{"hello"}, []string{"hello"}))
	weak, err := st.WeakWords(ctx, "ana", 10)
	require.NoError(t, err)
	require.Len(t, weak, 1)
	assert.Equal(t, "hello", weak[0].Word)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewRecognizer(t *testing.T) {
	rec, err := NewRecognizer(config.SpeechConfig{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = NewRecognizer(config.SpeechConfig{Backend: "whisper", URL: "http://127.0.0.1:9"})
	require.NoError(t, err)
	assert.IsType(t, &speech.WhisperServer{}, rec)

	rec, err = NewRecognizer(config.SpeechConfig{Backend: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &speech.OpenAI{}, rec)

	_, err = NewRecognizer(config.SpeechConfig{Backend: "vosk"})
	assert.Error(t, err)
}

func TestNewCoachRejectsBadAlignment(t *testing.T) {
	cfg := config.Default()
	cfg.Scoring.Alignment = "dtw"
	_, err := NewCoach(cfg, nil, nil, slog.Default())
	assert.Error(t, err)
}

func TestLoadModulesFallsBackToBuiltin(t *testing.T) {
	modules, err := LoadModules(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.NotEmpty(t, modules)
}

func TestNewTTSWithoutSynthesis(t *testing.T) {
	cache, closeFn, err := NewTTS(context.Background(), config.TTSConfig{CacheDir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()
	assert.NotNil(t, cache)
}
