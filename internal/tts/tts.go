// Package tts produces reference pronunciations for phrases and caches them
// on disk.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when no audio exists and no synthesizer is set.
var ErrUnavailable = errors.New("tts unavailable")

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Cache serves audio from pre-recorded overrides, then from earlier
// synthesis results, then from the synthesizer.
type Cache struct {
	dir       string
	overrides string
	synth     Synthesizer
	group     singleflight.Group
}

// NewCache creates dir if needed. overrides may be empty, synth may be nil.
func NewCache(dir, overrides string, synth Synthesizer) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts cache dir: %w", err)
	}
	return &Cache{dir: dir, overrides: overrides, synth: synth}, nil
}

// Key identifies text in a language; it names cache and override files.
func Key(text, lang string) string {
	h := sha256.Sum256([]byte(lang + ":" + text))
	return hex.EncodeToString(h[:16])
}

// Path returns where cached audio for text is stored.
func (c *Cache) Path(text, lang string) string {
	return filepath.Join(c.dir, Key(text, lang)+".mp3")
}

// Audio returns MP3 data for text.
func (c *Cache) Audio(ctx context.Context, text, lang string) ([]byte, error) {
	key := Key(text, lang)
	if c.overrides != "" {
		if data, err := os.ReadFile(filepath.Join(c.overrides, key+".mp3")); err == nil {
			return data, nil
		}
	}
	path := c.Path(text, lang)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	// Concurrent requests for the same key share one synthesis.
	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		if c.synth == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnavailable, text)
		}
		data, err := c.synth.Synthesize(ctx, text, lang)
		if err != nil {
			return nil, fmt.Errorf("synthesize %q: %w", text, err)
		}
		if err := writeAtomic(path, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Prefetch fills the cache for texts with at most workers concurrent
// requests. It stops at the first failure.
func (c *Cache) Prefetch(ctx context.Context, texts []string, lang string, workers int) (int, error) {
	if workers <= 0 {
		workers = 4
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	fetched := 0
	for _, text := range texts {
		if _, err := os.Stat(c.Path(text, lang)); err == nil {
			continue
		}
		text := text
		g.Go(func() error {
			if _, err := c.Audio(ctx, text, lang); err != nil {
				return err
			}
			mu.Lock()
			fetched++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return fetched, err
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tts-*")
	if err != nil {
		return fmt.Errorf("create temp audio: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp audio: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace audio: %w", err)
	}
	return nil
}
