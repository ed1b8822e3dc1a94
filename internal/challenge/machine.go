// Package challenge holds the transition rules for a challenge row. It does no
// I/O: callers receive the next state together with the effects they must
// perform (log a completion, award points).
package challenge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dailyrise/internal/domain"
)

// DefaultWinPoints is credited to the first participant who completes.
const DefaultWinPoints = 10

var (
	// ErrInvalidTransition means the requested edge does not exist from the
	// current state. For completions it usually means the peer won already.
	ErrInvalidTransition = errors.New("invalid challenge transition")
	// ErrNotParticipant means the actor may not perform the action.
	ErrNotParticipant = errors.New("actor is not allowed to act on this challenge")
	// ErrInvalidChallenge is returned by Validate.
	ErrInvalidChallenge = errors.New("invalid challenge")
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionComplete Action = "complete"
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	ChallengeID string
	From        domain.ChallengeStatus
	Action      Action
	Reason      string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid challenge transition: cannot %s challenge %s in status %s", e.Action, e.ChallengeID, e.From)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type EffectKind string

const (
	EffectLogCompletion EffectKind = "log_completion"
	EffectAwardPoints   EffectKind = "award_points"
)

// Effect is a side effect the caller owes after a successful transition.
type Effect struct {
	Kind        EffectKind
	UserID      string
	HabitID     string
	ChallengeID string
	CommunityID *string
	Amount      int
	// Date is the local calendar day of the completion, YYYY-MM-DD.
	Date string
}

// Result is the outcome of an accepted transition.
type Result struct {
	Challenge domain.Challenge
	Effects   []Effect
}

// Machine applies transitions. The zero value awards DefaultWinPoints.
type Machine struct {
	WinPoints int
}

func (m Machine) winPoints() int {
	if m.WinPoints > 0 {
		return m.WinPoints
	}
	return DefaultWinPoints
}

// Accept moves a pending challenge to accepted. ScheduledAt is left untouched.
func (m Machine) Accept(c domain.Challenge, actorID string) (Result, error) {
	if actorID != c.ChallengedUserID {
		return Result{}, fmt.Errorf("%w: only the challenged user can accept", ErrNotParticipant)
	}
	if c.Status != domain.StatusPending {
		return Result{}, &TransitionError{ChallengeID: c.ID, From: c.Status, Action: ActionAccept}
	}
	c.Status = domain.StatusAccepted
	return Result{Challenge: c}, nil
}

// Decline moves a pending challenge to the terminal declined state.
func (m Machine) Decline(c domain.Challenge, actorID string) (Result, error) {
	if actorID != c.ChallengedUserID {
		return Result{}, fmt.Errorf("%w: only the challenged user can decline", ErrNotParticipant)
	}
	if c.Status != domain.StatusPending {
		return Result{}, &TransitionError{ChallengeID: c.ID, From: c.Status, Action: ActionDecline}
	}
	c.Status = domain.StatusDeclined
	return Result{Challenge: c}, nil
}

// Complete records actorID as the winner of an accepted challenge. It fails
// with ErrInvalidTransition when the challenge is not accepted or a winner is
// already set, which makes duplicate acknowledgements harmless.
func (m Machine) Complete(c domain.Challenge, actorID string, now time.Time) (Result, error) {
	if !c.IsParticipant(actorID) {
		return Result{}, fmt.Errorf("%w: only participants can complete", ErrNotParticipant)
	}
	if c.Status != domain.StatusAccepted {
		return Result{}, &TransitionError{ChallengeID: c.ID, From: c.Status, Action: ActionComplete}
	}
	if c.WinnerID != nil {
		return Result{}, &TransitionError{ChallengeID: c.ID, From: c.Status, Action: ActionComplete, Reason: "winner already set"}
	}
	winner := actorID
	c.Status = domain.StatusCompleted
	c.WinnerID = &winner
	return Result{
		Challenge: c,
		Effects: []Effect{
			{
				Kind:        EffectLogCompletion,
				UserID:      actorID,
				HabitID:     c.HabitID,
				ChallengeID: c.ID,
				Date:        now.Format(time.DateOnly),
			},
			{
				Kind:        EffectAwardPoints,
				UserID:      actorID,
				ChallengeID: c.ID,
				CommunityID: c.CommunityID,
				Amount:      m.winPoints(),
			},
		},
	}, nil
}

// Apply dispatches on the target status. It is what a generic
// "update status" endpoint calls.
func (m Machine) Apply(c domain.Challenge, target domain.ChallengeStatus, actorID string, now time.Time) (Result, error) {
	switch target {
	case domain.StatusAccepted:
		return m.Accept(c, actorID)
	case domain.StatusDeclined:
		return m.Decline(c, actorID)
	case domain.StatusCompleted:
		return m.Complete(c, actorID, now)
	}
	return Result{}, &TransitionError{ChallengeID: c.ID, From: c.Status, Action: Action("set " + string(target))}
}

// Validate checks a new challenge before insert.
func Validate(c domain.Challenge) error {
	if strings.TrimSpace(c.ChallengerID) == "" || strings.TrimSpace(c.ChallengedUserID) == "" {
		return fmt.Errorf("%w: challenger and challenged user are required", ErrInvalidChallenge)
	}
	if c.ChallengerID == c.ChallengedUserID {
		return fmt.Errorf("%w: cannot challenge yourself", ErrInvalidChallenge)
	}
	if strings.TrimSpace(c.HabitID) == "" {
		return fmt.Errorf("%w: habit is required", ErrInvalidChallenge)
	}
	if c.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidChallenge)
	}
	return nil
}
