package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/config"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/observe"
	"github.com/verte-zerg/sotaque/internal/phrasebank"
	"github.com/verte-zerg/sotaque/internal/scoring"
	"github.com/verte-zerg/sotaque/internal/selector"
	"github.com/verte-zerg/sotaque/internal/speech"
	"github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/store"
	"github.com/verte-zerg/sotaque/internal/store/postgres"
	"github.com/verte-zerg/sotaque/internal/tts"
)

// Store is everything the commands and the HTTP API need from persistence.
type Store interface {
	coach.Store
	stats.Source
	WordError(ctx context.Context, username, word string) (model.WordErrorRecord, error)
	DeleteUser(ctx context.Context, username string) error
	Close() error
}

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	opts := []store.Option{store.WithWeakThreshold(cfg.WeakThreshold)}
	switch cfg.Driver {
	case "", "sqlite":
		st, err := store.Open(ctx, cfg.Path, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnLifetime,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewScorer builds the scorer described by cfg.
func NewScorer(cfg config.ScoringConfig) (*scoring.Scorer, error) {
	align, err := scoring.ParseAlignment(cfg.Alignment)
	if err != nil {
		return nil, err
	}
	return scoring.New(
		scoring.WithAlignment(align),
		scoring.WithNearMissThreshold(cfg.NearMiss),
	), nil
}

// SelectorLimits converts cfg to exam limits.
func SelectorLimits(cfg config.SelectorConfig) selector.Limits {
	return selector.Limits{
		ExamSize:    cfg.ExamSize,
		PrimaryTier: cfg.PrimaryTier,
		CrossTier:   cfg.CrossTier,
		WeakFetch:   cfg.WeakFetch,
	}
}

// NewRecognizer returns the configured recognizer, or nil when speech is
// disabled.
func NewRecognizer(cfg config.SpeechConfig) (speech.Recognizer, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "whisper":
		var opts []speech.WhisperOption
		if cfg.Model != "" {
			opts = append(opts, speech.WithWhisperModel(cfg.Model))
		}
		return speech.NewWhisperServer(cfg.URL, opts...)
	case "openai":
		var opts []speech.OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, speech.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, speech.WithOpenAIModel(cfg.Model))
		}
		return speech.NewOpenAI(cfg.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown speech backend %q", cfg.Backend)
	}
}

// NewTTS returns the audio cache, backed by Google synthesis when enabled.
// The returned close function releases the synthesis client.
func NewTTS(ctx context.Context, cfg config.TTSConfig) (*tts.Cache, func() error, error) {
	noop := func() error { return nil }
	var synth tts.Synthesizer
	closeFn := noop
	if cfg.Enabled {
		g, err := tts.NewGoogle(ctx, cfg.Voice)
		if err != nil {
			return nil, noop, err
		}
		synth = g
		closeFn = g.Close
	}
	cache, err := tts.NewCache(cfg.CacheDir, cfg.Overrides, synth)
	if err != nil {
		_ = closeFn()
		return nil, noop, err
	}
	return cache, closeFn, nil
}

// NewCoach builds a coach from cfg on top of st.
func NewCoach(cfg config.Config, st coach.Store, metrics *observe.Metrics, logger *slog.Logger) (*coach.Coach, error) {
	scorer, err := NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	rec, err := NewRecognizer(cfg.Speech)
	if err != nil {
		return nil, err
	}
	opts := []coach.Option{
		coach.WithScorer(scorer),
		coach.WithSelector(selector.New(SelectorLimits(cfg.Selector))),
		coach.WithLogger(logger),
	}
	if metrics != nil {
		opts = append(opts, coach.WithMetrics(metrics))
	}
	if rec != nil {
		opts = append(opts, coach.WithRecognizer(rec, cfg.Speech.Timeout))
	}
	return coach.New(st, opts...), nil
}

// LoadModules returns the phrase modules from dir, or the embedded sample
// modules when dir is empty or missing.
func LoadModules(dir string) ([]model.Module, error) {
	if dir == "" {
		return phrasebank.Default()
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return phrasebank.Default()
		}
		return nil, fmt.Errorf("failed to stat phrases dir: %w", err)
	}
	return phrasebank.LoadDir(dir)
}
