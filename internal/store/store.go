// Package store handles SQLite persistence of learner progress.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/verte-zerg/sotaque/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MinWeakErrors is the error count from which a word counts as weak.
const MinWeakErrors = 2

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientXP is returned when spending more XP than available.
	ErrInsufficientXP = errors.New("insufficient xp")
	// ErrNoUsername is returned for operations without a username.
	ErrNoUsername = errors.New("username is required")
)

// Option configures a Store.
type Option func(*options)

type options struct {
	weakThreshold int
	now           func() time.Time
}

// WithWeakThreshold overrides MinWeakErrors.
func WithWeakThreshold(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.weakThreshold = n
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Apply resolves opts against the defaults. Other backends share it.
func Apply(opts ...Option) (weakThreshold int, now func() time.Time) {
	o := options{weakThreshold: MinWeakErrors, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o.weakThreshold, o.now
}

// Store wraps SQLite access for learner data. It is safe for concurrent use.
type Store struct {
	db            *sql.DB
	weakThreshold int
	now           func() time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection serializes transactions.
	db.SetMaxOpenConns(1)

	weak, now := Apply(opts...)
	store := &Store{db: db, weakThreshold: weak, now: now}
	if err := store.migrate(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordOutcomes counts one exposure for every word in all, repeats included,
// and one error for each exposure of a word listed in wrong. Each word is
// updated with a single atomic upsert inside one transaction.
func (s *Store) RecordOutcomes(ctx context.Context, username string, wrong, all []string) error {
	if username == "" {
		return ErrNoUsername
	}
	if len(all) == 0 {
		return nil
	}
	wrongSet := make(map[string]struct{}, len(wrong))
	for _, w := range wrong {
		wrongSet[w] = struct{}{}
	}
	now := s.stamp()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO word_errors (username, word, error_count, total_seen, last_seen)
			 VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT(username, word) DO UPDATE SET
				error_count = word_errors.error_count + excluded.error_count,
				total_seen = word_errors.total_seen + 1,
				last_seen = excluded.last_seen`)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for _, w := range all {
			if w == "" {
				continue
			}
			isWrong := 0
			if _, ok := wrongSet[w]; ok {
				isWrong = 1
			}
			if _, err := stmt.ExecContext(ctx, username, w, isWrong, now); err != nil {
				return fmt.Errorf("record %q: %w", w, err)
			}
		}
		return nil
	})
}

// WeakWords returns the user's most missed words with at least the weak
// threshold of errors, most errors first.
func (s *Store) WeakWords(ctx context.Context, username string, limit int) ([]model.WeakWord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, error_count, total_seen
		 FROM word_errors
		 WHERE username = ? AND error_count >= ?
		 ORDER BY error_count DESC, word ASC
		 LIMIT ?`, username, s.weakThreshold, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.WeakWord
	for rows.Next() {
		var w model.WeakWord
		if err := rows.Scan(&w.Word, &w.ErrorCount, &w.TotalSeen); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// WordError returns the aggregate for one word.
func (s *Store) WordError(ctx context.Context, username, word string) (model.WordErrorRecord, error) {
	rec := model.WordErrorRecord{Username: username, Word: word}
	var lastSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT error_count, total_seen, last_seen FROM word_errors WHERE username = ? AND word = ?`,
		username, word).Scan(&rec.ErrorCount, &rec.TotalSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return rec, err
	}
	return rec, nil
}
