package alarm

import (
	"sort"
	"time"

	"dailyrise/internal/domain"
)

// Decision is the outcome of one scheduler evaluation.
type Decision struct {
	// Fire is the challenge to ring for now, if any.
	Fire *domain.Challenge
	// Missed lists challenges whose window closed before they could fire.
	// Each id is reported once.
	Missed []domain.Challenge
	// Deferred is set when a challenge was due but another alarm is ringing.
	Deferred bool
}

// Scheduler decides when accepted challenges ring. It is not safe for
// concurrent use; the PollingSession loop owns it.
type Scheduler struct {
	grace    time.Duration
	cooldown time.Duration

	// done holds acknowledged or completed challenges; they never come back.
	done  map[string]struct{}
	fired map[string]struct{}
	// skipped holds skipped or expired challenges with the instant they may
	// ring again. The zero time means never.
	skipped map[string]time.Time
	missed  map[string]struct{}
}

// NewScheduler returns a scheduler that fires a challenge while
// -grace < scheduled_at-now <= 0. A skipped challenge is ignored for
// cooldown; with a zero cooldown it is never offered again. Once its window
// closes, a challenge that never rang or was skipped is reported missed.
func NewScheduler(grace, cooldown time.Duration) *Scheduler {
	return &Scheduler{
		grace:    grace,
		cooldown: cooldown,
		done:     map[string]struct{}{},
		fired:    map[string]struct{}{},
		skipped:  map[string]time.Time{},
		missed:   map[string]struct{}{},
	}
}

// Evaluate picks at most one due challenge, earliest scheduled first.
func (s *Scheduler) Evaluate(now time.Time, accepted []domain.Challenge, ringing bool) Decision {
	candidates := make([]domain.Challenge, 0, len(accepted))
	for _, c := range accepted {
		if c.Status == domain.StatusAccepted {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
	})

	var d Decision
	for _, c := range candidates {
		if _, ok := s.done[c.ID]; ok {
			continue
		}
		if _, ok := s.missed[c.ID]; ok {
			continue
		}
		delta := c.ScheduledAt.Sub(now)
		if delta > 0 {
			continue
		}
		_, wasFired := s.fired[c.ID]
		until, wasSkipped := s.skipped[c.ID]
		if delta <= -s.grace {
			// a fired, unskipped challenge is still ringing
			if !wasFired || wasSkipped {
				s.missed[c.ID] = struct{}{}
				delete(s.skipped, c.ID)
				d.Missed = append(d.Missed, c)
			}
			continue
		}
		switch {
		case wasSkipped:
			if until.IsZero() || now.Before(until) {
				continue
			}
		case wasFired:
			continue
		}
		if ringing {
			d.Deferred = true
			continue
		}
		if d.Fire == nil {
			fire := c
			d.Fire = &fire
			delete(s.skipped, c.ID)
			s.fired[c.ID] = struct{}{}
		}
	}
	return d
}

// Skip records that the user dismissed a fired challenge, or that its
// countdown ran out.
func (s *Scheduler) Skip(id string, now time.Time) {
	if _, ok := s.done[id]; ok {
		return
	}
	var until time.Time
	if s.cooldown > 0 {
		until = now.Add(s.cooldown)
	}
	s.skipped[id] = until
}

// MarkDone retires a challenge for good, for example once it is completed.
func (s *Scheduler) MarkDone(id string) {
	s.done[id] = struct{}{}
	delete(s.skipped, id)
}

// Processed reports whether id will not ring again in its current window:
// it is done, reported missed, or fired and not skipped.
func (s *Scheduler) Processed(id string) bool {
	if _, ok := s.done[id]; ok {
		return true
	}
	if _, ok := s.missed[id]; ok {
		return true
	}
	if _, ok := s.fired[id]; !ok {
		return false
	}
	until, skipped := s.skipped[id]
	return !skipped || until.IsZero()
}
