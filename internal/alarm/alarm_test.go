package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dailyrise/internal/challenge"
	"dailyrise/internal/domain"
)

var t0 = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func accepted(id string, at time.Time) domain.Challenge {
	return domain.Challenge{
		ID:               id,
		ChallengerID:     "alice",
		ChallengedUserID: "bob",
		HabitID:          "h-" + id,
		Status:           domain.StatusAccepted,
		ScheduledAt:      at,
		CreatedAt:        at.Add(-2 * time.Hour),
	}
}

// fakeGateway is an in-memory store with the same conditional completion
// rule as the real one.
type fakeGateway struct {
	mu         sync.Mutex
	rows       map[string]domain.Challenge
	logs       []domain.HabitLog
	awards     []domain.PointAward
	queryErr   error
	updateErr  error
	logErr     error
	queryCalls int
	// hold makes queries block until their context ends
	hold bool
}

func newFakeGateway(rows ...domain.Challenge) *fakeGateway {
	g := &fakeGateway{rows: map[string]domain.Challenge{}}
	for _, r := range rows {
		g.rows[r.ID] = r
	}
	return g
}

func (g *fakeGateway) QueryChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	g.mu.Lock()
	g.queryCalls++
	if g.hold {
		g.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	var out []domain.Challenge
	for _, r := range g.rows {
		if f.ParticipantID != "" && !r.IsParticipant(f.ParticipantID) {
			continue
		}
		if r.Status == domain.StatusDeclined {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *fakeGateway) UpdateChallengeStatus(ctx context.Context, id string, status domain.ChallengeStatus, winnerID string) (domain.Challenge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return domain.Challenge{}, g.updateErr
	}
	r, ok := g.rows[id]
	if !ok {
		return domain.Challenge{}, errors.New("not found")
	}
	res, err := challenge.Machine{}.Apply(r, status, actorFor(r, status, winnerID), t0)
	if err != nil {
		return domain.Challenge{}, err
	}
	g.rows[id] = res.Challenge
	return res.Challenge, nil
}

func actorFor(r domain.Challenge, status domain.ChallengeStatus, winnerID string) string {
	if status == domain.StatusCompleted {
		return winnerID
	}
	return r.ChallengedUserID
}

func (g *fakeGateway) InsertHabitCompletionLog(ctx context.Context, l domain.HabitLog) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.logErr != nil {
		return g.logErr
	}
	g.logs = append(g.logs, l)
	return nil
}

func (g *fakeGateway) AwardPoints(ctx context.Context, a domain.PointAward) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.awards = append(g.awards, a)
	return nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

func (g *fakeGateway) set(c domain.Challenge) {
	g.mu.Lock()
	g.rows[c.ID] = c
	g.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	incoming []string
	started  []string
	stopped  []Outcome
	missed   []string
	won      []string
	errs     []error
	beeps    int
	calls    int
}

func (r *recorder) note(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	f()
}

func (r *recorder) IncomingChallenge(c domain.Challenge) {
	r.note(func() { r.incoming = append(r.incoming, c.ID) })
}
func (r *recorder) AlarmStarted(c domain.Challenge) {
	r.note(func() { r.started = append(r.started, c.ID) })
}
func (r *recorder) AlarmBeep(c domain.Challenge, remaining time.Duration) {
	r.note(func() { r.beeps++ })
}
func (r *recorder) AlarmStopped(c domain.Challenge, o Outcome) {
	r.note(func() { r.stopped = append(r.stopped, o) })
}
func (r *recorder) AlarmMissed(c domain.Challenge) {
	r.note(func() { r.missed = append(r.missed, c.ID) })
}
func (r *recorder) ChallengeWon(c domain.Challenge) {
	r.note(func() { r.won = append(r.won, c.ID) })
}
func (r *recorder) Error(err error) {
	r.note(func() { r.errs = append(r.errs, err) })
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestSession(t *testing.T, user string, gw *fakeGateway, rec *recorder, timings Timings) *PollingSession {
	t.Helper()
	now := t0
	return NewPollingSession(Options{
		UserID:   user,
		Gateway:  gw,
		Ledger:   gw,
		Notifier: rec,
		Timings:  timings,
		Now:      func() time.Time { return now },
	})
}

// poll runs one fetch and apply synchronously, like the loop would.
func poll(t *testing.T, p *PollingSession) {
	t.Helper()
	snap, err := p.poller.Fetch(context.Background())
	p.applyFetch(fetchResult{snap: snap, err: err})
}
