// Package config loads sotaque settings from a TOML file, the environment
// and an optional .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the full application configuration. Environment variables win
// over the file, the file wins over defaults.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Practice PracticeConfig `toml:"practice"`
	Store    StoreConfig    `toml:"store"`
	Scoring  ScoringConfig  `toml:"scoring"`
	Selector SelectorConfig `toml:"selector"`
	Speech   SpeechConfig   `toml:"speech"`
	TTS      TTSConfig      `toml:"tts"`
	Server   ServerConfig   `toml:"server"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"  env:"SOTAQUE_LOG_LEVEL"  env-default:"info"`
	Format string `toml:"format" env:"SOTAQUE_LOG_FORMAT" env-default:"text"`
}

// PracticeConfig holds interactive session defaults.
type PracticeConfig struct {
	User       string `toml:"user"        env:"SOTAQUE_USER"`
	Module     string `toml:"module"      env:"SOTAQUE_MODULE"      env-default:"casual"`
	PhrasesDir string `toml:"phrases-dir" env:"SOTAQUE_PHRASES_DIR"`
}

// StoreConfig selects and configures the progress database.
type StoreConfig struct {
	Driver        string        `toml:"driver"         env:"SOTAQUE_STORE_DRIVER"         env-default:"sqlite"`
	Path          string        `toml:"path"           env:"SOTAQUE_STORE_PATH"`
	DSN           string        `toml:"dsn"            env:"SOTAQUE_STORE_DSN"`
	MaxConns      int32         `toml:"max-conns"      env:"SOTAQUE_STORE_MAX_CONNS"      env-default:"10"`
	MinConns      int32         `toml:"min-conns"      env:"SOTAQUE_STORE_MIN_CONNS"      env-default:"1"`
	ConnLifetime  time.Duration `toml:"conn-lifetime"  env:"SOTAQUE_STORE_CONN_LIFETIME"  env-default:"1h"`
	WeakThreshold int           `toml:"weak-threshold" env:"SOTAQUE_STORE_WEAK_THRESHOLD" env-default:"2"`
}

// ScoringConfig tunes the word aligner.
type ScoringConfig struct {
	Alignment string  `toml:"alignment" env:"SOTAQUE_SCORING_ALIGNMENT" env-default:"positional"`
	NearMiss  float64 `toml:"near-miss" env:"SOTAQUE_SCORING_NEAR_MISS" env-default:"0.8"`
}

// SelectorConfig shapes mid-module exams.
type SelectorConfig struct {
	ExamSize    int `toml:"exam-size"    env:"SOTAQUE_EXAM_SIZE"    env-default:"20"`
	PrimaryTier int `toml:"primary-tier" env:"SOTAQUE_PRIMARY_TIER" env-default:"14"`
	CrossTier   int `toml:"cross-tier"   env:"SOTAQUE_CROSS_TIER"   env-default:"6"`
	WeakFetch   int `toml:"weak-fetch"   env:"SOTAQUE_WEAK_FETCH"   env-default:"30"`
}

// SpeechConfig selects the recognition backend: "none", "whisper" or
// "openai".
type SpeechConfig struct {
	Backend string        `toml:"backend"  env:"SOTAQUE_SPEECH_BACKEND" env-default:"none"`
	URL     string        `toml:"url"      env:"SOTAQUE_WHISPER_URL"    env-default:"http://127.0.0.1:8080"`
	Model   string        `toml:"model"    env:"SOTAQUE_SPEECH_MODEL"`
	APIKey  string        `toml:"api-key"  env:"OPENAI_API_KEY"`
	BaseURL string        `toml:"base-url" env:"OPENAI_BASE_URL"`
	Timeout time.Duration `toml:"timeout"  env:"SOTAQUE_SPEECH_TIMEOUT" env-default:"20s"`
}

// TTSConfig configures reference audio.
type TTSConfig struct {
	Enabled   bool   `toml:"enabled"   env:"SOTAQUE_TTS_ENABLED"   env-default:"false"`
	Lang      string `toml:"lang"      env:"SOTAQUE_TTS_LANG"      env-default:"en-US"`
	Voice     string `toml:"voice"     env:"SOTAQUE_TTS_VOICE"`
	CacheDir  string `toml:"cache-dir" env:"SOTAQUE_TTS_CACHE_DIR"`
	Overrides string `toml:"overrides" env:"SOTAQUE_TTS_OVERRIDES"`
	Workers   int    `toml:"workers"   env:"SOTAQUE_TTS_WORKERS"   env-default:"4"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `toml:"addr"             env:"SOTAQUE_SERVER_ADDR"             env-default:":8080"`
	ReadTimeout     time.Duration `toml:"read-timeout"     env:"SOTAQUE_SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `toml:"write-timeout"    env:"SOTAQUE_SERVER_WRITE_TIMEOUT"    env-default:"60s"`
	ShutdownTimeout time.Duration `toml:"shutdown-timeout" env:"SOTAQUE_SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	ExamTTL         time.Duration `toml:"exam-ttl"         env:"SOTAQUE_SERVER_EXAM_TTL"         env-default:"2h"`
	MaxUploadBytes  int64         `toml:"max-upload-bytes" env:"SOTAQUE_SERVER_MAX_UPLOAD"       env-default:"10485760"`
}

// Default returns the built-in configuration with XDG paths filled in.
func Default() Config {
	cfg := Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Practice: PracticeConfig{Module: "casual"},
		Store: StoreConfig{
			Driver:        "sqlite",
			MaxConns:      10,
			MinConns:      1,
			ConnLifetime:  time.Hour,
			WeakThreshold: 2,
		},
		Scoring:  ScoringConfig{Alignment: "positional", NearMiss: 0.8},
		Selector: SelectorConfig{ExamSize: 20, PrimaryTier: 14, CrossTier: 6, WeakFetch: 30},
		Speech: SpeechConfig{
			Backend: "none",
			URL:     "http://127.0.0.1:8080",
			Timeout: 20 * time.Second,
		},
		TTS: TTSConfig{Lang: "en-US", Workers: 4},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ExamTTL:         2 * time.Hour,
			MaxUploadBytes:  10 << 20,
		},
	}
	cfg.fillPaths()
	return cfg
}

func (c *Config) fillPaths() {
	if c.Store.Path == "" {
		c.Store.Path = DefaultDBPath()
	}
	if c.TTS.CacheDir == "" {
		c.TTS.CacheDir = DefaultTTSCacheDir()
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; existing variables are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to stat env file: %w", err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig reads the TOML config at path and applies environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, fmt.Errorf("config path is empty")
	}
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to stat config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read env: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enum fields.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json"))
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or postgres"))
	}
	if c.Store.WeakThreshold <= 0 {
		errs = append(errs, fmt.Errorf("store.weak-threshold must be > 0"))
	}
	switch c.Scoring.Alignment {
	case "positional", "levenshtein":
	default:
		errs = append(errs, fmt.Errorf("scoring.alignment must be positional or levenshtein"))
	}
	if c.Scoring.NearMiss < 0 || c.Scoring.NearMiss > 1 {
		errs = append(errs, fmt.Errorf("scoring.near-miss must be between 0 and 1"))
	}
	if c.Selector.ExamSize <= 0 {
		errs = append(errs, fmt.Errorf("selector.exam-size must be > 0"))
	}
	if c.Selector.PrimaryTier < 0 || c.Selector.CrossTier < 0 || c.Selector.WeakFetch < 0 {
		errs = append(errs, fmt.Errorf("selector tiers must be >= 0"))
	}
	switch c.Speech.Backend {
	case "none", "whisper":
	case "openai":
		if c.Speech.APIKey == "" {
			errs = append(errs, fmt.Errorf("speech.api-key is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("speech.backend must be none, whisper or openai"))
	}
	if c.TTS.Workers <= 0 {
		errs = append(errs, fmt.Errorf("tts.workers must be > 0"))
	}
	return errors.Join(errs...)
}

// Template renders cfg as a commented TOML file for `sotaque config`.
func Template(cfg Config) (string, error) {
	// Secrets belong in the environment.
	cfg.Speech.APIKey = ""
	var buf bytes.Buffer
	buf.WriteString("# sotaque configuration\n")
	buf.WriteString("# Environment variables (SOTAQUE_*, OPENAI_API_KEY) and CLI flags override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config template: %w", err)
	}
	return buf.String(), nil
}
