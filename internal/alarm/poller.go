package alarm

import (
	"context"
	"sort"
	"sync"
	"time"

	"dailyrise/internal/domain"
	"dailyrise/internal/metrics"
)

// Snapshot is one fetch of the user's challenges. Seq grows with every
// Fetch call, in call order, so a slow response can be recognized as stale.
type Snapshot struct {
	Seq        uint64
	FetchedAt  time.Time
	Challenges []domain.Challenge
}

// PollResult is what a snapshot means for the user.
type PollResult struct {
	// Incoming is the newest pending challenge addressed to the user, set
	// only the first time it is seen.
	Incoming  *domain.Challenge
	Accepted  []domain.Challenge
	Completed []domain.Challenge
}

// Poller turns gateway reads into PollResults. It is safe for concurrent use.
type Poller struct {
	gw     Gateway
	userID string
	now    func() time.Time

	mu       sync.Mutex
	nextSeq  uint64
	applied  uint64
	local    map[string]domain.Challenge
	lastSeen string
}

func NewPoller(gw Gateway, userID string) *Poller {
	return &Poller{gw: gw, userID: userID, now: time.Now, local: map[string]domain.Challenge{}}
}

// Fetch reads every non-declined challenge the user takes part in.
func (p *Poller) Fetch(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	p.nextSeq++
	seq := p.nextSeq
	p.mu.Unlock()

	start := time.Now()
	rows, err := p.gw.QueryChallenges(ctx, domain.ChallengeFilter{
		ParticipantID: p.userID,
		ExcludeStatus: []domain.ChallengeStatus{domain.StatusDeclined},
	})
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollErrors.Inc()
		return Snapshot{Seq: seq}, unavailable("query challenges", err)
	}
	return Snapshot{Seq: seq, FetchedAt: p.now(), Challenges: rows}, nil
}

// Apply folds a snapshot into the poller's view. Snapshots must be applied
// in Seq order; an older one returns ErrStaleRead and changes nothing.
func (p *Poller) Apply(s Snapshot) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Seq <= p.applied {
		return PollResult{}, ErrStaleRead
	}
	p.applied = s.Seq

	var res PollResult
	var newest *domain.Challenge
	for _, row := range s.Challenges {
		if known, ok := p.local[row.ID]; ok {
			if known.Status.Rank() > row.Status.Rank() {
				// the store has not caught up with what we wrote
				row = known
			} else {
				delete(p.local, row.ID)
			}
		}
		switch row.Status {
		case domain.StatusPending:
			if row.ChallengedUserID == p.userID {
				if newest == nil || row.CreatedAt.After(newest.CreatedAt) {
					c := row
					newest = &c
				}
			}
		case domain.StatusAccepted:
			res.Accepted = append(res.Accepted, row)
		case domain.StatusCompleted:
			res.Completed = append(res.Completed, row)
		}
	}
	sort.SliceStable(res.Accepted, func(i, j int) bool {
		return res.Accepted[i].ScheduledAt.Before(res.Accepted[j].ScheduledAt)
	})
	if newest != nil && newest.ID != p.lastSeen {
		p.lastSeen = newest.ID
		res.Incoming = newest
	}
	return res, nil
}

// MarkCompleted records a local win so a lagging read cannot resurrect the
// challenge as accepted.
func (p *Poller) MarkCompleted(c domain.Challenge) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Status != domain.StatusCompleted {
		return
	}
	p.local[c.ID] = c
}

// ResetWatermark forgets the last incoming challenge shown, so the newest
// pending one is offered again on the next poll.
func (p *Poller) ResetWatermark() {
	p.mu.Lock()
	p.lastSeen = ""
	p.mu.Unlock()
}
