package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dailyrise/internal/domain"
)

const challengeColumns = `c.id,c.challenger_id,c.challenged_user_id,c.habit_id,COALESCE(h.name,''),c.community_id,c.status,c.scheduled_at,c.winner_id,c.created_at,c.updated_at`

const challengeFrom = ` FROM challenges c LEFT JOIN habits h ON h.id=c.habit_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var c domain.Challenge
	var community, winner sql.NullString
	var status, scheduled, created, updated string
	if err := row.Scan(&c.ID, &c.ChallengerID, &c.ChallengedUserID, &c.HabitID, &c.HabitName, &community, &status, &scheduled, &winner, &created, &updated); err != nil {
		return c, err
	}
	c.Status = domain.ChallengeStatus(status)
	c.CommunityID = stringPtr(community)
	c.WinnerID = stringPtr(winner)
	var err error
	if c.ScheduledAt, err = parseTime(scheduled); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) InsertChallenge(ctx context.Context, tx *sql.Tx, c domain.Challenge) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO challenges(id,challenger_id,challenged_user_id,habit_id,community_id,status,scheduled_at,winner_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ChallengerID, c.ChallengedUserID, c.HabitID, nullableStringPtr(c.CommunityID), string(c.Status),
		formatTime(c.ScheduledAt), nullableStringPtr(c.WinnerID), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (r Repo) GetChallenge(ctx context.Context, tx *sql.Tx, id string) (domain.Challenge, error) {
	c, err := scanChallenge(r.q(tx).QueryRowContext(ctx, `SELECT `+challengeColumns+challengeFrom+` WHERE c.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// ListChallenges returns challenges matching f, newest first.
func (r Repo) ListChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ParticipantID != "" {
		clauses = append(clauses, "(c.challenger_id=? OR c.challenged_user_id=?)")
		args = append(args, f.ParticipantID, f.ParticipantID)
	}
	if f.ChallengerID != "" {
		clauses = append(clauses, "c.challenger_id=?")
		args = append(args, f.ChallengerID)
	}
	if f.ChallengedUserID != "" {
		clauses = append(clauses, "c.challenged_user_id=?")
		args = append(args, f.ChallengedUserID)
	}
	if len(f.StatusIn) > 0 {
		clauses = append(clauses, "c.status IN ("+placeholders(len(f.StatusIn))+")")
		for _, s := range f.StatusIn {
			args = append(args, string(s))
		}
	}
	if len(f.ExcludeStatus) > 0 {
		clauses = append(clauses, "c.status NOT IN ("+placeholders(len(f.ExcludeStatus))+")")
		for _, s := range f.ExcludeStatus {
			args = append(args, string(s))
		}
	}
	query := `SELECT ` + challengeColumns + challengeFrom + ` WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY c.created_at DESC, c.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountOpenBetween counts pending or accepted challenges between a and b in
// either direction.
func (r Repo) CountOpenBetween(ctx context.Context, tx *sql.Tx, a, b string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM challenges
WHERE status IN ('pending','accepted')
  AND ((challenger_id=? AND challenged_user_id=?) OR (challenger_id=? AND challenged_user_id=?))`, a, b, b, a).Scan(&n)
	return n, err
}

// TransitionChallenge moves a challenge from one status to another only if it
// is still in from. It reports whether a row changed.
func (r Repo) TransitionChallenge(ctx context.Context, tx *sql.Tx, id string, from, to domain.ChallengeStatus, now time.Time) (bool, error) {
	if to == domain.StatusCompleted {
		return false, fmt.Errorf("use CompleteChallenge to complete a challenge")
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE challenges SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), formatTime(now), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteChallenge sets the winner if and only if the challenge is accepted
// and has no winner yet. Exactly one concurrent caller sees true.
func (r Repo) CompleteChallenge(ctx context.Context, tx *sql.Tx, id, winnerID string, now time.Time) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE challenges SET status='completed', winner_id=?, updated_at=?
WHERE id=? AND status='accepted' AND winner_id IS NULL AND (challenger_id=? OR challenged_user_id=?)`,
		winnerID, formatTime(now), id, winnerID, winnerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
