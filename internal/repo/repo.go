package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dailyrise/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs on tx when one is given, otherwise on the pool.
func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	s := ns.String
	return &s
}

// EnsureUser inserts the user if missing and reports whether it was created.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, u domain.User) (bool, error) {
	if u.ID == "" {
		return false, errors.New("user id required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO users(id,display_name,created_at) VALUES (?,?,?)`,
		u.ID, nullable(u.DisplayName), formatTime(u.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	var u domain.User
	var created string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,COALESCE(display_name,''),created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.CreatedAt, err = parseTime(created)
	return u, err
}

func (r Repo) InsertHabit(ctx context.Context, tx *sql.Tx, h domain.Habit) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO habits(id,user_id,name,created_at) VALUES (?,?,?,?)`,
		h.ID, h.UserID, h.Name, formatTime(h.CreatedAt))
	return err
}

func (r Repo) GetHabit(ctx context.Context, tx *sql.Tx, id string) (domain.Habit, error) {
	var h domain.Habit
	var created string
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,user_id,name,created_at FROM habits WHERE id=?`, id).
		Scan(&h.ID, &h.UserID, &h.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.CreatedAt, err = parseTime(created)
	return h, err
}

func (r Repo) ListHabits(ctx context.Context, userID string) ([]domain.Habit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,name,created_at FROM habits WHERE user_id=? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Habit
	for rows.Next() {
		var h domain.Habit
		var created string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &created); err != nil {
			return nil, err
		}
		if h.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) InsertHabitLog(ctx context.Context, tx *sql.Tx, l domain.HabitLog) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO habit_logs(id,habit_id,user_id,log_date,status,notes,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.HabitID, l.UserID, l.LogDate, l.Status, nullable(l.Notes), formatTime(l.CreatedAt))
	return err
}

func (r Repo) ListHabitLogs(ctx context.Context, habitID string) ([]domain.HabitLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,habit_id,user_id,log_date,status,COALESCE(notes,''),created_at FROM habit_logs WHERE habit_id=? ORDER BY log_date DESC, created_at DESC`, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HabitLog
	for rows.Next() {
		var l domain.HabitLog
		var created string
		if err := rows.Scan(&l.ID, &l.HabitID, &l.UserID, &l.LogDate, &l.Status, &l.Notes, &created); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
