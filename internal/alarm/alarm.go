// Package alarm runs the client side of a challenge: it polls the user's
// challenges, rings when an accepted one reaches its scheduled instant and
// records the win when the user acknowledges first.
//
// Everything is owned by a PollingSession. Its single loop goroutine holds
// all mutable state; network calls run off-loop and report back on channels.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dailyrise/internal/challenge"
	"dailyrise/internal/config"
	"dailyrise/internal/domain"
)

var (
	// ErrPersistenceUnavailable wraps any gateway failure other than a
	// rejected transition.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrStaleRead is returned by Poller.Apply for a snapshot older than one
	// already applied.
	ErrStaleRead = errors.New("stale read")
	// ErrNoActiveAlarm is returned when acknowledging with nothing ringing.
	ErrNoActiveAlarm = errors.New("no alarm is ringing")
	// ErrNotRunning is returned by commands sent to a stopped session.
	ErrNotRunning = errors.New("polling session is not running")
)

// Gateway is the persistence surface the alarm needs.
type Gateway interface {
	QueryChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error)
	// UpdateChallengeStatus performs a conditional transition. A rejected
	// transition must come back as challenge.ErrInvalidTransition.
	UpdateChallengeStatus(ctx context.Context, id string, status domain.ChallengeStatus, winnerID string) (domain.Challenge, error)
	InsertHabitCompletionLog(ctx context.Context, l domain.HabitLog) error
}

// Ledger credits points.
type Ledger interface {
	AwardPoints(ctx context.Context, a domain.PointAward) error
}

// Notifier receives user-facing events. Calls come from one goroutine at a
// time and never after PollingSession.Stop returns.
type Notifier interface {
	IncomingChallenge(c domain.Challenge)
	AlarmStarted(c domain.Challenge)
	AlarmBeep(c domain.Challenge, remaining time.Duration)
	AlarmStopped(c domain.Challenge, outcome Outcome)
	AlarmMissed(c domain.Challenge)
	ChallengeWon(c domain.Challenge)
	Error(err error)
}

// NopNotifier ignores everything. Embed it to implement part of Notifier.
type NopNotifier struct{}

func (NopNotifier) IncomingChallenge(domain.Challenge) {}
func (NopNotifier) AlarmStarted(domain.Challenge) {}
func (NopNotifier) AlarmBeep(domain.Challenge, time.Duration) {}
func (NopNotifier) AlarmStopped(domain.Challenge, Outcome) {}
func (NopNotifier) AlarmMissed(domain.Challenge) {}
func (NopNotifier) ChallengeWon(domain.Challenge) {}
func (NopNotifier) Error(error) {}

// Timings are the loop intervals and windows.
type Timings struct {
	PollInterval  time.Duration
	CheckInterval time.Duration
	GraceWindow   time.Duration
	Countdown     time.Duration
	BeepInterval  time.Duration
	SkipCooldown  time.Duration
}

func DefaultTimings() Timings {
	return TimingsFromConfig(config.Default().Alarm)
}

func TimingsFromConfig(c config.AlarmConfig) Timings {
	return Timings{
		PollInterval:  c.PollInterval,
		CheckInterval: c.CheckInterval,
		GraceWindow:   c.GraceWindow,
		Countdown:     c.Countdown,
		BeepInterval:  c.BeepInterval,
		SkipCooldown:  c.SkipCooldown,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.CheckInterval <= 0 {
		t.CheckInterval = d.CheckInterval
	}
	if t.GraceWindow <= 0 {
		t.GraceWindow = d.GraceWindow
	}
	if t.Countdown <= 0 {
		t.Countdown = d.Countdown
	}
	if t.BeepInterval <= 0 {
		t.BeepInterval = d.BeepInterval
	}
	if t.SkipCooldown < 0 {
		t.SkipCooldown = 0
	}
	return t
}

// unavailable wraps err as ErrPersistenceUnavailable unless it already is
// one or is a rejected transition.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, challenge.ErrInvalidTransition) || errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistenceUnavailable, op, err)
}

// IsSilent reports whether err should be dropped without telling the user.
// A rejected completion means the peer won first.
func IsSilent(err error) bool {
	return errors.Is(err, challenge.ErrInvalidTransition) || errors.Is(err, context.Canceled)
}
