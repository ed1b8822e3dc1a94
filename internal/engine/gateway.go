package engine

import (
	"context"
	"fmt"
	"strings"

	"dailyrise/internal/domain"
	"dailyrise/internal/engine/auth"
)

// LocalGateway serves one user's alarm client straight from the engine,
// without going through HTTP.
type LocalGateway struct {
	Engine Engine
	UserID string
}

func (g LocalGateway) QueryChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	return g.Engine.ListChallenges(ctx, g.UserID, f)
}

func (g LocalGateway) InsertChallenge(ctx context.Context, opts ChallengeCreateOptions) (domain.Challenge, error) {
	opts.ChallengerID = g.UserID
	return g.Engine.CreateChallenge(ctx, opts)
}

// UpdateChallengeStatus acts as the bound user. A winner other than that
// user is refused.
func (g LocalGateway) UpdateChallengeStatus(ctx context.Context, id string, status domain.ChallengeStatus, winnerID string) (domain.Challenge, error) {
	if status == domain.StatusCompleted && strings.TrimSpace(winnerID) != "" && winnerID != g.UserID {
		return domain.Challenge{}, auth.ForbiddenError{UserID: g.UserID, Resource: fmt.Sprintf("completion of %s for %s", id, winnerID)}
	}
	return g.Engine.UpdateChallengeStatus(ctx, id, status, g.UserID)
}

func (g LocalGateway) InsertHabitCompletionLog(ctx context.Context, l domain.HabitLog) error {
	l.UserID = g.UserID
	_, err := g.Engine.LogHabitCompletion(ctx, l)
	return err
}

func (g LocalGateway) AwardPoints(ctx context.Context, a domain.PointAward) error {
	if a.UserID == "" {
		a.UserID = g.UserID
	}
	if a.UserID != g.UserID {
		return auth.ForbiddenError{UserID: g.UserID, Resource: "points of " + a.UserID}
	}
	_, _, err := g.Engine.AwardPoints(ctx, a)
	return err
}
