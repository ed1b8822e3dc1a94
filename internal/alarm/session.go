package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dailyrise/internal/challenge"
	"dailyrise/internal/domain"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	// OutcomeExpired means the countdown ran out; it is handled like a skip.
	OutcomeExpired Outcome = "expired"
	// OutcomeLost means the peer completed first while the alarm rang.
	OutcomeLost Outcome = "lost"
)

type State string

const (
	StateIdle     State = "idle"
	StateRinging  State = "ringing"
	StateResolved State = "resolved"
)

var ErrSessionState = errors.New("alarm session in wrong state")

// Session is one ringing alarm: idle -> ringing -> resolved.
type Session struct {
	Challenge domain.Challenge

	state     State
	countdown time.Duration
	remaining time.Duration
	startedAt time.Time
	outcome   Outcome
}

func NewSession(c domain.Challenge, countdown time.Duration) *Session {
	return &Session{Challenge: c, state: StateIdle, countdown: countdown, remaining: countdown}
}

func (s *Session) Start(now time.Time) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrSessionState, s.state)
	}
	s.state = StateRinging
	s.startedAt = now
	s.remaining = s.countdown
	return nil
}

// Tick advances the countdown. When it reaches zero the session resolves
// as expired and Tick reports true.
func (s *Session) Tick(elapsed time.Duration) (time.Duration, bool) {
	if s.state != StateRinging {
		return s.remaining, false
	}
	s.remaining -= elapsed
	if s.remaining <= 0 {
		s.remaining = 0
		s.state = StateResolved
		s.outcome = OutcomeExpired
		return 0, true
	}
	return s.remaining, false
}

// Resolve ends a ringing session. It succeeds exactly once.
func (s *Session) Resolve(o Outcome) error {
	if s.state != StateRinging {
		return fmt.Errorf("%w: resolve from %s", ErrSessionState, s.state)
	}
	s.state = StateResolved
	s.outcome = o
	return nil
}

func (s *Session) State() State             { return s.state }
func (s *Session) Outcome() Outcome         { return s.outcome }
func (s *Session) Remaining() time.Duration { return s.remaining }
func (s *Session) StartedAt() time.Time     { return s.startedAt }
func (s *Session) Ringing() bool            { return s.state == StateRinging }

// CompletionNote is written on habit logs created by an alarm win.
const CompletionNote = "Completed via Alarm"

// Completer records a win after the alarm has been silenced locally.
type Completer struct {
	Gateway Gateway
	Ledger  Ledger
	Machine challenge.Machine
	UserID  string
	Now     func() time.Time
	Log     zerolog.Logger
}

func (c Completer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Finish claims the challenge for the user and then applies the effects.
// A rejected claim returns challenge.ErrInvalidTransition. Once the claim
// holds, every effect is attempted even if an earlier one failed, since
// nobody else can apply them later; the failures come back joined under
// ErrPersistenceUnavailable. Nothing is retried.
func (c Completer) Finish(ctx context.Context, ch domain.Challenge) (domain.Challenge, error) {
	now := c.now()
	res, err := c.Machine.Complete(ch, c.UserID, now)
	if err != nil {
		return domain.Challenge{}, err
	}
	updated, err := c.Gateway.UpdateChallengeStatus(ctx, ch.ID, domain.StatusCompleted, c.UserID)
	if err != nil {
		return domain.Challenge{}, unavailable("complete challenge", err)
	}
	if updated.ID == "" {
		updated = res.Challenge
	}
	var failed []error
	for _, eff := range res.Effects {
		switch eff.Kind {
		case challenge.EffectLogCompletion:
			err := c.Gateway.InsertHabitCompletionLog(ctx, domain.HabitLog{
				HabitID: eff.HabitID,
				UserID:  eff.UserID,
				LogDate: eff.Date,
				Status:  "done",
				Notes:   CompletionNote,
			})
			if err != nil {
				failed = append(failed, fmt.Errorf("log habit completion: %w", err))
			}
		case challenge.EffectAwardPoints:
			challengeID := eff.ChallengeID
			err := c.Ledger.AwardPoints(ctx, domain.PointAward{
				UserID:      eff.UserID,
				CommunityID: eff.CommunityID,
				Amount:      eff.Amount,
				Reason:      "challenge_win",
				ChallengeID: &challengeID,
			})
			if err != nil {
				failed = append(failed, fmt.Errorf("award points: %w", err))
			}
		}
	}
	if len(failed) > 0 {
		c.Log.Warn().Errs("errors", failed).Str("challenge_id", ch.ID).Msg("challenge won but effects failed")
		return updated, fmt.Errorf("%w: %w", ErrPersistenceUnavailable, errors.Join(failed...))
	}
	c.Log.Info().Str("challenge_id", ch.ID).Msg("challenge won")
	return updated, nil
}
