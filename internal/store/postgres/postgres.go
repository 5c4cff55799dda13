// Package postgres stores learner progress in PostgreSQL. It mirrors the
// method set of the SQLite store so the two are interchangeable.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Config holds pool settings.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store is a PostgreSQL-backed progress store.
type Store struct {
	pool          *pgxpool.Pool
	weakThreshold int
	now           func() time.Time
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, cfg Config, opts ...store.Option) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	weak, now := store.Apply(opts...)
	return &Store{pool: pool, weakThreshold: weak, now: now}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = s.pool.Exec(ctx, sql, args...)
	return err
}

func (s *Store) queryInt(ctx context.Context, q squirrel.Sqlizer) (int, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var v int
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&v)
	return v, err
}

// RecordOutcomes counts exposures and errors with one upsert per word, all
// inside a single transaction.
func (s *Store) RecordOutcomes(ctx context.Context, username string, wrong, all []string) (err error) {
	if username == "" {
		return store.ErrNoUsername
	}
	if len(all) == 0 {
		return nil
	}
	wrongSet := make(map[string]struct{}, len(wrong))
	for _, w := range wrong {
		wrongSet[w] = struct{}{}
	}
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
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
		sql, args, berr := psql.Insert("word_errors").
			Columns("username", "word", "error_count", "total_seen", "last_seen").
			Values(username, w, isWrong, 1, now).
			Suffix(`ON CONFLICT (username, word) DO UPDATE SET
				error_count = word_errors.error_count + EXCLUDED.error_count,
				total_seen = word_errors.total_seen + 1,
				last_seen = EXCLUDED.last_seen`).
			ToSql()
		if berr != nil {
			return fmt.Errorf("build query: %w", berr)
		}
		if _, err = tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("record %q: %w", w, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WeakWords returns words at or above the weak threshold, most errors first.
func (s *Store) WeakWords(ctx context.Context, username string, limit int) ([]model.WeakWord, error) {
	if limit <= 0 {
		return nil, nil
	}
	sql, args, err := psql.Select("word", "error_count", "total_seen").
		From("word_errors").
		Where(squirrel.Eq{"username": username}).
		Where(squirrel.GtOrEq{"error_count": s.weakThreshold}).
		OrderBy("error_count DESC", "word ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WeakWord, error) {
		var w model.WeakWord
		err := row.Scan(&w.Word, &w.ErrorCount, &w.TotalSeen)
		return w, err
	})
}

// WordError returns the aggregate for one word.
func (s *Store) WordError(ctx context.Context, username, word string) (model.WordErrorRecord, error) {
	rec := model.WordErrorRecord{Username: username, Word: word}
	sql, args, err := psql.Select("error_count", "total_seen", "last_seen").
		From("word_errors").
		Where(squirrel.Eq{"username": username, "word": word}).
		ToSql()
	if err != nil {
		return rec, fmt.Errorf("build query: %w", err)
	}
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&rec.ErrorCount, &rec.TotalSeen, &rec.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, store.ErrNotFound
	}
	return rec, err
}

// SaveLessonScore keeps the best score ever reached on a lesson.
func (s *Store) SaveLessonScore(ctx context.Context, username, module string, lesson, score int) error {
	if username == "" {
		return store.ErrNoUsername
	}
	return s.exec(ctx, psql.Insert("lesson_scores").
		Columns("username", "module", "lesson_index", "best_score", "updated_at").
		Values(username, module, lesson, max(0, min(100, score)), s.now().UTC()).
		Suffix(`ON CONFLICT (username, module, lesson_index) DO UPDATE SET
			best_score = GREATEST(lesson_scores.best_score, EXCLUDED.best_score),
			updated_at = EXCLUDED.updated_at`))
}

// LessonScore returns the best score of a lesson, 0 when never attempted.
func (s *Store) LessonScore(ctx context.Context, username, module string, lesson int) (int, error) {
	v, err := s.queryInt(ctx, psql.Select("best_score").From("lesson_scores").
		Where(squirrel.Eq{"username": username, "module": module, "lesson_index": lesson}))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// LessonScores lists best scores. An empty module lists every module.
func (s *Store) LessonScores(ctx context.Context, username, module string) ([]model.LessonScore, error) {
	q := psql.Select("module", "lesson_index", "best_score").
		From("lesson_scores").
		Where(squirrel.Eq{"username": username}).
		OrderBy("module ASC", "lesson_index ASC")
	if module != "" {
		q = q.Where(squirrel.Eq{"module": module})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LessonScore, error) {
		var ls model.LessonScore
		err := row.Scan(&ls.Module, &ls.Lesson, &ls.BestScore)
		return ls, err
	})
}

// SaveModuleProgress stores the furthest lesson reached in a module.
func (s *Store) SaveModuleProgress(ctx context.Context, username, module string, index int) error {
	if username == "" {
		return store.ErrNoUsername
	}
	return s.exec(ctx, psql.Insert("module_progress").
		Columns("username", "module", "lesson_index", "updated_at").
		Values(username, module, max(0, index), s.now().UTC()).
		Suffix(`ON CONFLICT (username, module) DO UPDATE SET
			lesson_index = GREATEST(module_progress.lesson_index, EXCLUDED.lesson_index),
			updated_at = EXCLUDED.updated_at`))
}

// ModuleProgress returns the furthest lesson reached, 0 when never started.
func (s *Store) ModuleProgress(ctx context.Context, username, module string) (int, error) {
	v, err := s.queryInt(ctx, psql.Select("lesson_index").From("module_progress").
		Where(squirrel.Eq{"username": username, "module": module}))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// AllModuleProgress maps module names to the furthest lesson reached.
func (s *Store) AllModuleProgress(ctx context.Context, username string) (map[string]int, error) {
	sql, args, err := psql.Select("module", "lesson_index").From("module_progress").
		Where(squirrel.Eq{"username": username}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := map[string]int{}
	for rows.Next() {
		var module string
		var idx int
		if err := rows.Scan(&module, &idx); err != nil {
			return nil, err
		}
		result[module] = idx
	}
	return result, rows.Err()
}

// MarkExamCompleted flags the module's exam as done.
func (s *Store) MarkExamCompleted(ctx context.Context, username, module string, score int) error {
	if username == "" {
		return store.ErrNoUsername
	}
	return s.exec(ctx, psql.Insert("exam_results").
		Columns("username", "module", "score", "completed_at").
		Values(username, module, max(0, min(100, score)), s.now().UTC()).
		Suffix(`ON CONFLICT (username, module) DO UPDATE SET
			score = EXCLUDED.score,
			completed_at = EXCLUDED.completed_at`))
}

// ExamCompleted reports whether the module's exam was completed.
func (s *Store) ExamCompleted(ctx context.Context, username, module string) (bool, error) {
	n, err := s.queryInt(ctx, psql.Select("COUNT(*)").From("exam_results").
		Where(squirrel.Eq{"username": username, "module": module}))
	return n > 0, err
}

// AddXP adds delta points and returns the new total.
func (s *Store) AddXP(ctx context.Context, username string, delta int) (int, error) {
	if username == "" {
		return 0, store.ErrNoUsername
	}
	return s.queryInt(ctx, psql.Insert("user_xp").
		Columns("username", "xp", "updated_at").
		Values(username, max(0, delta), s.now().UTC()).
		Suffix(`ON CONFLICT (username) DO UPDATE SET
			xp = user_xp.xp + EXCLUDED.xp,
			updated_at = EXCLUDED.updated_at
			RETURNING xp`))
}

// SpendXP removes amount points if the user has enough.
func (s *Store) SpendXP(ctx context.Context, username string, amount int) (int, error) {
	if amount <= 0 {
		return s.XP(ctx, username)
	}
	v, err := s.queryInt(ctx, psql.Update("user_xp").
		Set("xp", squirrel.Expr("xp - ?", amount)).
		Set("updated_at", s.now().UTC()).
		Where(squirrel.Eq{"username": username}).
		Where(squirrel.GtOrEq{"xp": amount}).
		Suffix("RETURNING xp"))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrInsufficientXP
	}
	return v, err
}

// XP returns the user's XP total.
func (s *Store) XP(ctx context.Context, username string) (int, error) {
	v, err := s.queryInt(ctx, psql.Select("xp").From("user_xp").
		Where(squirrel.Eq{"username": username}))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// DeleteUser removes every row owned by username.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	if username == "" {
		return store.ErrNoUsername
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, table := range []string{"word_errors", "lesson_scores", "module_progress", "exam_results", "user_xp"} {
			sql, args, err := psql.Delete(table).Where(squirrel.Eq{"username": username}).ToSql()
			if err != nil {
				return fmt.Errorf("build query: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		return nil
	})
}
