package domain

import "time"

// ChallengeStatus is the lifecycle state of a challenge row.
type ChallengeStatus string

const (
	StatusPending   ChallengeStatus = "pending"
	StatusAccepted  ChallengeStatus = "accepted"
	StatusDeclined  ChallengeStatus = "declined"
	StatusCompleted ChallengeStatus = "completed"
)

// Valid reports whether s is one of the four known statuses.
func (s ChallengeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCompleted:
		return true
	}
	return false
}

// Rank orders statuses along the lifecycle. Two rows for the same challenge
// with different ranks can be compared to tell which one is newer.
func (s ChallengeStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted, StatusDeclined:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

type Challenge struct {
	ID               string          `json:"id"`
	ChallengerID     string          `json:"challenger_id"`
	ChallengedUserID string          `json:"challenged_user_id"`
	HabitID          string          `json:"habit_id"`
	HabitName        string          `json:"habit_name,omitempty"`
	CommunityID      *string         `json:"community_id,omitempty"`
	Status           ChallengeStatus `json:"status" enum:"pending,accepted,declined,completed"`
	ScheduledAt      time.Time       `json:"scheduled_at" format:"date-time"`
	WinnerID         *string         `json:"winner_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time       `json:"updated_at" format:"date-time"`
}

// IsParticipant reports whether userID is the challenger or the challenged user.
func (c Challenge) IsParticipant(userID string) bool {
	return userID != "" && (c.ChallengerID == userID || c.ChallengedUserID == userID)
}

// Opponent returns the other participant.
func (c Challenge) Opponent(userID string) string {
	if c.ChallengerID == userID {
		return c.ChallengedUserID
	}
	return c.ChallengerID
}

// ChallengeFilter narrows challenge queries. Empty fields do not filter.
type ChallengeFilter struct {
	ParticipantID    string
	ChallengerID     string
	ChallengedUserID string
	StatusIn         []ChallengeStatus
	ExcludeStatus    []ChallengeStatus
	Limit            int
}

type Habit struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type HabitLog struct {
	ID        string    `json:"id"`
	HabitID   string    `json:"habit_id"`
	UserID    string    `json:"user_id"`
	LogDate   string    `json:"log_date" example:"2024-01-31"`
	Status    string    `json:"status" enum:"done,skipped"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// PointAward is one append-only ledger entry. Balances are sums of awards.
type PointAward struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CommunityID *string   `json:"community_id,omitempty"`
	Amount      int       `json:"amount"`
	Reason      string    `json:"reason"`
	ChallengeID *string   `json:"challenge_id,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// APIKey is stored hashed; the plaintext is shown once at creation.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}
