package server

import (
	"dailyrise/internal/domain"
)

// Request payloads

type CreateHabitRequest struct {
	Name string `json:"name" minLength:"1"`
}

type CreateChallengeRequest struct {
	ChallengedUserID string  `json:"challenged_user_id"`
	HabitID          string  `json:"habit_id"`
	CommunityID      *string `json:"community_id,omitempty"`
	TimeOfDay        string  `json:"time_of_day,omitempty" example:"07:00" doc:"HH:MM, today or tomorrow if already past"`
	Timezone         string  `json:"timezone,omitempty" example:"Europe/Paris"`
	ScheduledAt      *string `json:"scheduled_at,omitempty" format:"date-time"`
}

type SetChallengeStatusRequest struct {
	Status   string `json:"status" enum:"accepted,declined,completed"`
	WinnerID string `json:"winner_id,omitempty" doc:"must be the caller when set"`
}

type CreateHabitLogRequest struct {
	LogDate string `json:"log_date,omitempty" example:"2024-01-31"`
	Status  string `json:"status,omitempty" enum:"done,skipped"`
	Notes   string `json:"notes,omitempty"`
}

type AwardPointsRequest struct {
	ChallengeID string  `json:"challenge_id"`
	CommunityID *string `json:"community_id,omitempty"`
	Amount      int     `json:"amount" minimum:"1"`
	Reason      string  `json:"reason,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type WhoAmIResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type PointsResponse struct {
	UserID      string              `json:"user_id"`
	CommunityID *string             `json:"community_id,omitempty"`
	Total       int                 `json:"total"`
	Awards      []domain.PointAward `json:"awards"`
}

type AwardPointsResponse struct {
	Award    domain.PointAward `json:"award"`
	Inserted bool              `json:"inserted"`
}

type CreateAPIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret" doc:"shown once"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilChallenges(items []domain.Challenge) []domain.Challenge {
	if items == nil {
		return []domain.Challenge{}
	}
	return items
}
