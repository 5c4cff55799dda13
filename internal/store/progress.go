package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/verte-zerg/sotaque/internal/model"
)

func clampScore(score int) int {
	return max(0, min(100, score))
}

// SaveLessonScore keeps the best score ever reached on a lesson.
func (s *Store) SaveLessonScore(ctx context.Context, username, module string, lesson, score int) error {
	if username == "" {
		return ErrNoUsername
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_scores (username, module, lesson_index, best_score, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(username, module, lesson_index) DO UPDATE SET
			best_score = MAX(excluded.best_score, lesson_scores.best_score),
			updated_at = excluded.updated_at`,
		username, module, lesson, clampScore(score), s.stamp())
	return err
}

// LessonScore returns the best score of a lesson, 0 when never attempted.
func (s *Store) LessonScore(ctx context.Context, username, module string, lesson int) (int, error) {
	var best int
	err := s.db.QueryRowContext(ctx,
		`SELECT best_score FROM lesson_scores WHERE username = ? AND module = ? AND lesson_index = ?`,
		username, module, lesson).Scan(&best)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return best, err
}

// LessonScores lists best scores ordered by module and lesson. An empty
// module lists every module.
func (s *Store) LessonScores(ctx context.Context, username, module string) ([]model.LessonScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, lesson_index, best_score
		 FROM lesson_scores
		 WHERE username = ? AND (? = '' OR module = ?)
		 ORDER BY module ASC, lesson_index ASC`, username, module, module)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.LessonScore
	for rows.Next() {
		var ls model.LessonScore
		if err := rows.Scan(&ls.Module, &ls.Lesson, &ls.BestScore); err != nil {
			return nil, err
		}
		result = append(result, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveModuleProgress stores the furthest lesson reached in a module.
func (s *Store) SaveModuleProgress(ctx context.Context, username, module string, index int) error {
	if username == "" {
		return ErrNoUsername
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO module_progress (username, module, lesson_index, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username, module) DO UPDATE SET
			lesson_index = MAX(excluded.lesson_index, module_progress.lesson_index),
			updated_at = excluded.updated_at`,
		username, module, max(0, index), s.stamp())
	return err
}

// ModuleProgress returns the furthest lesson reached, 0 when never started.
func (s *Store) ModuleProgress(ctx context.Context, username, module string) (int, error) {
	var idx int
	err := s.db.QueryRowContext(ctx,
		`SELECT lesson_index FROM module_progress WHERE username = ? AND module = ?`,
		username, module).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return idx, err
}

// AllModuleProgress maps module names to the furthest lesson reached.
func (s *Store) AllModuleProgress(ctx context.Context, username string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, lesson_index FROM module_progress WHERE username = ?`, username)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	result := map[string]int{}
	for rows.Next() {
		var module string
		var idx int
		if err := rows.Scan(&module, &idx); err != nil {
			return nil, err
		}
		result[module] = idx
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkExamCompleted flags the module's mid-module exam as done.
func (s *Store) MarkExamCompleted(ctx context.Context, username, module string, score int) error {
	if username == "" {
		return ErrNoUsername
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_results (username, module, score, completed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username, module) DO UPDATE SET
			score = excluded.score,
			completed_at = excluded.completed_at`,
		username, module, clampScore(score), s.stamp())
	return err
}

// ExamCompleted reports whether the module's exam was completed.
func (s *Store) ExamCompleted(ctx context.Context, username, module string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_results WHERE username = ? AND module = ?`,
		username, module).Scan(&n)
	return n > 0, err
}

// AddXP adds delta points and returns the new total.
func (s *Store) AddXP(ctx context.Context, username string, delta int) (int, error) {
	if username == "" {
		return 0, ErrNoUsername
	}
	var total int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_xp (username, xp, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
			xp = user_xp.xp + excluded.xp,
			updated_at = excluded.updated_at
		 RETURNING xp`,
		username, max(0, delta), s.stamp()).Scan(&total)
	return total, err
}

// SpendXP removes amount points if the user has enough.
func (s *Store) SpendXP(ctx context.Context, username string, amount int) (int, error) {
	if amount <= 0 {
		return s.XP(ctx, username)
	}
	var total int
	err := s.db.QueryRowContext(ctx,
		`UPDATE user_xp SET xp = xp - ?, updated_at = ?
		 WHERE username = ? AND xp >= ?
		 RETURNING xp`,
		amount, s.stamp(), username, amount).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientXP
	}
	return total, err
}

// XP returns the user's XP total.
func (s *Store) XP(ctx context.Context, username string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT xp FROM user_xp WHERE username = ?`, username).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

// DeleteUser removes every row owned by username.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	if username == "" {
		return ErrNoUsername
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range userTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE username = ?`, username); err != nil {
				return err
			}
		}
		return nil
	})
}

var userTables = []string{"word_errors", "lesson_scores", "module_progress", "exam_results", "user_xp"}
