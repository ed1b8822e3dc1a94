package repo

import (
	"context"
	"database/sql"

	"dailyrise/internal/domain"
)

// InsertPointAward appends an award. A second award for the same
// (challenge, user) pair is ignored and reported as false.
func (r Repo) InsertPointAward(ctx context.Context, tx *sql.Tx, a domain.PointAward) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO point_awards(id,user_id,community_id,amount,reason,challenge_id,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT DO NOTHING`,
		a.ID, a.UserID, nullableStringPtr(a.CommunityID), a.Amount, a.Reason, nullableStringPtr(a.ChallengeID), formatTime(a.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PointsTotal sums a user's awards, optionally within one community.
func (r Repo) PointsTotal(ctx context.Context, userID string, communityID *string) (int, error) {
	query := `SELECT COALESCE(SUM(amount),0) FROM point_awards WHERE user_id=?`
	args := []any{userID}
	if communityID != nil {
		query += ` AND community_id=?`
		args = append(args, *communityID)
	}
	var total int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

func (r Repo) ListPointAwards(ctx context.Context, userID string, limit int) ([]domain.PointAward, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,community_id,amount,reason,challenge_id,created_at FROM point_awards WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PointAward
	for rows.Next() {
		var a domain.PointAward
		var community, challenge sql.NullString
		var created string
		if err := rows.Scan(&a.ID, &a.UserID, &community, &a.Amount, &a.Reason, &challenge, &created); err != nil {
			return nil, err
		}
		a.CommunityID = stringPtr(community)
		a.ChallengeID = stringPtr(challenge)
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
