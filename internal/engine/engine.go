package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dailyrise/internal/challenge"
	"dailyrise/internal/config"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/events"
	"dailyrise/internal/logging"
	"dailyrise/internal/metrics"
	"dailyrise/internal/repo"
)

var (
	// ErrChallengeConflict means the pair already has a pending or accepted
	// challenge in either direction.
	ErrChallengeConflict = errors.New("an open challenge already exists between these users")
	// ErrValidation wraps malformed input.
	ErrValidation = errors.New("validation failed")
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Machine challenge.Machine
	Log     zerolog.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{},
		Config:  cfg,
		Machine: challenge.Machine{WinPoints: cfg.Points.ChallengeWin},
		Log:     logging.Component("engine"),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) ensureUser(ctx context.Context, tx *sql.Tx, userID string) error {
	created, err := e.Repo.EnsureUser(ctx, tx, domain.User{ID: userID, CreatedAt: e.now()})
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	if created {
		return e.events().Append(ctx, tx, events.UserSeen, "user", userID, userID, nil)
	}
	return nil
}

// EnsureUser registers userID on first sight.
func (e Engine) EnsureUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id required", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.ensureUser(ctx, tx, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateHabit(ctx context.Context, userID, name string) (domain.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Habit{}, fmt.Errorf("%w: habit name required", ErrValidation)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Habit{}, err
	}
	defer tx.Rollback()
	if err := e.ensureUser(ctx, tx, userID); err != nil {
		return domain.Habit{}, err
	}
	h := domain.Habit{ID: uuid.NewString(), UserID: userID, Name: name, CreatedAt: e.now().UTC()}
	if err := e.Repo.InsertHabit(ctx, tx, h); err != nil {
		return domain.Habit{}, fmt.Errorf("insert habit: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.HabitCreated, "habit", h.ID, userID, events.EventPayload{"name": h.Name}); err != nil {
		return domain.Habit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Habit{}, err
	}
	return h, nil
}

func (e Engine) ListHabits(ctx context.Context, userID string) ([]domain.Habit, error) {
	return e.Repo.ListHabits(ctx, userID)
}

// ChallengeCreateOptions are parameters for a new challenge. Either
// TimeOfDay ("HH:MM" in Location) or an absolute ScheduledAt is required.
type ChallengeCreateOptions struct {
	ChallengerID     string
	ChallengedUserID string
	HabitID          string
	CommunityID      *string
	TimeOfDay        string
	Location         *time.Location
	ScheduledAt      time.Time
}

func (e Engine) CreateChallenge(ctx context.Context, opts ChallengeCreateOptions) (domain.Challenge, error) {
	now := e.now()
	scheduled := opts.ScheduledAt
	if strings.TrimSpace(opts.TimeOfDay) != "" {
		at, err := challenge.ScheduleAt(opts.TimeOfDay, now, opts.Location)
		if err != nil {
			return domain.Challenge{}, err
		}
		scheduled = at
	}
	c := domain.Challenge{
		ID:               uuid.NewString(),
		ChallengerID:     strings.TrimSpace(opts.ChallengerID),
		ChallengedUserID: strings.TrimSpace(opts.ChallengedUserID),
		HabitID:          strings.TrimSpace(opts.HabitID),
		CommunityID:      opts.CommunityID,
		Status:           domain.StatusPending,
		ScheduledAt:      scheduled.UTC(),
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if err := challenge.Validate(c); err != nil {
		return domain.Challenge{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	habit, err := e.Repo.GetHabit(ctx, tx, c.HabitID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("habit %s: %w", c.HabitID, err)
	}
	if habit.UserID != c.ChallengerID {
		return domain.Challenge{}, auth.ForbiddenError{UserID: c.ChallengerID, Resource: "habit " + habit.ID}
	}
	c.HabitName = habit.Name
	if err := e.ensureUser(ctx, tx, c.ChallengerID); err != nil {
		return domain.Challenge{}, err
	}
	if err := e.ensureUser(ctx, tx, c.ChallengedUserID); err != nil {
		return domain.Challenge{}, err
	}
	open, err := e.Repo.CountOpenBetween(ctx, tx, c.ChallengerID, c.ChallengedUserID)
	if err != nil {
		return domain.Challenge{}, err
	}
	if open > 0 {
		metrics.ChallengeConflicts.Inc()
		return domain.Challenge{}, ErrChallengeConflict
	}
	if err := e.Repo.InsertChallenge(ctx, tx, c); err != nil {
		return domain.Challenge{}, fmt.Errorf("insert challenge: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ChallengeCreated, "challenge", c.ID, c.ChallengerID, events.EventPayload{
		"challenged_user_id": c.ChallengedUserID,
		"habit_id":           c.HabitID,
		"scheduled_at":       c.ScheduledAt.Format(time.RFC3339),
	}); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	e.Log.Info().Str("challenge_id", c.ID).Str("challenger", c.ChallengerID).Str("challenged", c.ChallengedUserID).
		Time("scheduled_at", c.ScheduledAt).Msg("challenge created")
	return c, nil
}

// GetChallenge returns a challenge visible to actorID.
func (e Engine) GetChallenge(ctx context.Context, actorID, id string) (domain.Challenge, error) {
	c, err := e.Repo.GetChallenge(ctx, nil, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !c.IsParticipant(actorID) {
		return domain.Challenge{}, auth.ForbiddenError{UserID: actorID, Resource: "challenge " + id}
	}
	return c, nil
}

// ListChallenges lists challenges where actorID takes part.
func (e Engine) ListChallenges(ctx context.Context, actorID string, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	if f.ParticipantID == "" && f.ChallengerID != actorID && f.ChallengedUserID != actorID {
		f.ParticipantID = actorID
	}
	if f.ParticipantID != "" && f.ParticipantID != actorID {
		return nil, auth.ForbiddenError{UserID: actorID, Resource: "challenges of " + f.ParticipantID}
	}
	return e.Repo.ListChallenges(ctx, f)
}

func (e Engine) AcceptChallenge(ctx context.Context, id, actorID string) (domain.Challenge, error) {
	return e.respond(ctx, id, actorID, domain.StatusAccepted)
}

func (e Engine) DeclineChallenge(ctx context.Context, id, actorID string) (domain.Challenge, error) {
	return e.respond(ctx, id, actorID, domain.StatusDeclined)
}

func (e Engine) respond(ctx context.Context, id, actorID string, target domain.ChallengeStatus) (c domain.Challenge, err error) {
	defer func() { metrics.ObserveTransition(string(target), err) }()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetChallenge(ctx, tx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	res, err := e.Machine.Apply(current, target, actorID, e.now())
	if err != nil {
		return domain.Challenge{}, err
	}
	now := e.now().UTC()
	changed, err := e.Repo.TransitionChallenge(ctx, tx, id, current.Status, target, now)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !changed {
		return domain.Challenge{}, &challenge.TransitionError{ChallengeID: id, From: current.Status, Action: challenge.Action(target)}
	}
	evt := events.ChallengeAccepted
	if target == domain.StatusDeclined {
		evt = events.ChallengeDeclined
	}
	if err := e.events().Append(ctx, tx, evt, "challenge", id, actorID, events.EventPayload{"from": string(current.Status)}); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	c = res.Challenge
	c.UpdatedAt = now
	return c, nil
}

// CompleteChallenge makes actorID the winner. The conditional update is the
// arbiter: when two participants race, the loser gets ErrInvalidTransition.
func (e Engine) CompleteChallenge(ctx context.Context, id, actorID string) (c domain.Challenge, err error) {
	defer func() { metrics.ObserveTransition(string(domain.StatusCompleted), err) }()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Challenge{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	won, err := e.Repo.CompleteChallenge(ctx, tx, id, actorID, now)
	if err != nil {
		return domain.Challenge{}, err
	}
	current, err := e.Repo.GetChallenge(ctx, tx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if !won {
		// explain the refusal with the machine's own rules
		if _, err := e.Machine.Complete(current, actorID, now); err != nil {
			return domain.Challenge{}, err
		}
		return domain.Challenge{}, &challenge.TransitionError{ChallengeID: id, From: current.Status, Action: challenge.ActionComplete}
	}
	if err := e.events().Append(ctx, tx, events.ChallengeCompleted, "challenge", id, actorID, events.EventPayload{
		"winner_id": actorID,
		"habit_id":  current.HabitID,
	}); err != nil {
		return domain.Challenge{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Challenge{}, err
	}
	e.Log.Info().Str("challenge_id", id).Str("winner", actorID).Msg("challenge completed")
	return current, nil
}

// UpdateChallengeStatus dispatches on the requested status.
func (e Engine) UpdateChallengeStatus(ctx context.Context, id string, status domain.ChallengeStatus, actorID string) (domain.Challenge, error) {
	switch status {
	case domain.StatusAccepted:
		return e.AcceptChallenge(ctx, id, actorID)
	case domain.StatusDeclined:
		return e.DeclineChallenge(ctx, id, actorID)
	case domain.StatusCompleted:
		return e.CompleteChallenge(ctx, id, actorID)
	}
	return domain.Challenge{}, fmt.Errorf("%w: status %q cannot be requested", ErrValidation, status)
}

// LogHabitCompletion records a done log. The user must own the habit or have
// won a challenge on it.
func (e Engine) LogHabitCompletion(ctx context.Context, l domain.HabitLog) (domain.HabitLog, error) {
	if l.HabitID == "" || l.UserID == "" {
		return domain.HabitLog{}, fmt.Errorf("%w: habit_id and user_id required", ErrValidation)
	}
	now := e.now()
	if l.LogDate == "" {
		l.LogDate = now.Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, l.LogDate); err != nil {
		return domain.HabitLog{}, fmt.Errorf("%w: log_date must be YYYY-MM-DD", ErrValidation)
	}
	switch l.Status {
	case "":
		l.Status = "done"
	case "done", "skipped":
	default:
		return domain.HabitLog{}, fmt.Errorf("%w: status must be done or skipped", ErrValidation)
	}
	l.ID = uuid.NewString()
	l.CreatedAt = now.UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.HabitLog{}, err
	}
	defer tx.Rollback()
	habit, err := e.Repo.GetHabit(ctx, tx, l.HabitID)
	if err != nil {
		return domain.HabitLog{}, fmt.Errorf("habit %s: %w", l.HabitID, err)
	}
	if habit.UserID != l.UserID {
		won, err := e.hasWonOnHabit(ctx, tx, l.UserID, l.HabitID)
		if err != nil {
			return domain.HabitLog{}, err
		}
		if !won {
			return domain.HabitLog{}, auth.ForbiddenError{UserID: l.UserID, Resource: "habit " + l.HabitID}
		}
	}
	if err := e.Repo.InsertHabitLog(ctx, tx, l); err != nil {
		return domain.HabitLog{}, fmt.Errorf("insert habit log: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.HabitLogged, "habit", l.HabitID, l.UserID, events.EventPayload{
		"log_date": l.LogDate,
		"status":   l.Status,
	}); err != nil {
		return domain.HabitLog{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.HabitLog{}, err
	}
	return l, nil
}

func (e Engine) hasWonOnHabit(ctx context.Context, tx *sql.Tx, userID, habitID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM challenges WHERE habit_id=? AND winner_id=?`, habitID, userID).Scan(&n)
	return n > 0, err
}

// AwardPoints credits a challenge win. The challenge must be completed with
// the user as winner; a repeated award is a no-op and reported as false.
func (e Engine) AwardPoints(ctx context.Context, a domain.PointAward) (domain.PointAward, bool, error) {
	if a.UserID == "" || a.ChallengeID == nil || *a.ChallengeID == "" {
		return domain.PointAward{}, false, fmt.Errorf("%w: user_id and challenge_id required", ErrValidation)
	}
	if a.Amount <= 0 {
		return domain.PointAward{}, false, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if limit := e.Machine.WinPoints; limit > 0 && a.Amount > limit {
		return domain.PointAward{}, false, fmt.Errorf("%w: amount exceeds %d", ErrValidation, limit)
	}
	if a.Reason == "" {
		a.Reason = "challenge_win"
	}
	a.ID = uuid.NewString()
	a.CreatedAt = e.now().UTC()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PointAward{}, false, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetChallenge(ctx, tx, *a.ChallengeID)
	if err != nil {
		return domain.PointAward{}, false, err
	}
	if c.Status != domain.StatusCompleted || c.WinnerID == nil || *c.WinnerID != a.UserID {
		return domain.PointAward{}, false, auth.ForbiddenError{UserID: a.UserID, Resource: "points for challenge " + c.ID}
	}
	if a.CommunityID == nil {
		a.CommunityID = c.CommunityID
	}
	inserted, err := e.Repo.InsertPointAward(ctx, tx, a)
	if err != nil {
		return domain.PointAward{}, false, fmt.Errorf("insert award: %w", err)
	}
	if !inserted {
		return a, false, nil
	}
	if err := e.events().Append(ctx, tx, events.PointsAwarded, "user", a.UserID, a.UserID, events.EventPayload{
		"amount":       a.Amount,
		"challenge_id": *a.ChallengeID,
	}); err != nil {
		return domain.PointAward{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PointAward{}, false, err
	}
	metrics.PointsAwarded.Add(float64(a.Amount))
	return a, true, nil
}

func (e Engine) PointsTotal(ctx context.Context, userID string, communityID *string) (int, error) {
	return e.Repo.PointsTotal(ctx, userID, communityID)
}

// CreateAPIKey stores a new key for userID and returns it with the plaintext,
// which is not recoverable afterwards.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "dr_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.now().UTC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.ensureUser(ctx, tx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, userID, events.EventPayload{"name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// UserForAPIKey resolves a plaintext API key to its user.
func (e Engine) UserForAPIKey(ctx context.Context, plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", fmt.Errorf("%w: api key required", ErrValidation)
	}
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return "", err
	}
	return key.UserID, nil
}
