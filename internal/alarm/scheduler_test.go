package alarm

import (
	"testing"
	"time"

	"dailyrise/internal/domain"
)

func TestSchedulerGraceWindow(t *testing.T) {
	cases := []struct {
		name   string
		offset time.Duration
		fire   bool
		missed bool
	}{
		{"not yet due", 2 * time.Second, false, false},
		{"exactly due", 0, true, false},
		{"five seconds late", -5 * time.Second, true, false},
		{"at grace boundary", -15 * time.Second, false, true},
		{"twenty seconds late", -20 * time.Second, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewScheduler(15*time.Second, 0)
			c := accepted("c-1", t0)
			d := s.Evaluate(t0.Add(-tc.offset), []domain.Challenge{c}, false)
			if (d.Fire != nil) != tc.fire {
				t.Fatalf("fire = %v, want %v", d.Fire != nil, tc.fire)
			}
			if (len(d.Missed) == 1) != tc.missed {
				t.Fatalf("missed = %v, want %v", d.Missed, tc.missed)
			}
		})
	}
}

func TestSchedulerFiresAtMostOnce(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	list := []domain.Challenge{accepted("c-1", t0)}
	if d := s.Evaluate(t0, list, false); d.Fire == nil {
		t.Fatalf("expected fire")
	}
	for i := 1; i < 20; i++ {
		if d := s.Evaluate(t0.Add(time.Duration(i)*time.Second), list, false); d.Fire != nil || len(d.Missed) != 0 {
			t.Fatalf("second %d: unexpected decision %+v", i, d)
		}
	}
	if !s.Processed("c-1") {
		t.Fatalf("fired challenge should be processed")
	}
}

func TestSchedulerMissedReportedOnce(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	list := []domain.Challenge{accepted("c-1", t0)}
	if d := s.Evaluate(t0.Add(20*time.Second), list, false); len(d.Missed) != 1 {
		t.Fatalf("expected one missed, got %+v", d)
	}
	if d := s.Evaluate(t0.Add(21*time.Second), list, false); len(d.Missed) != 0 {
		t.Fatalf("missed reported twice")
	}
}

func TestSchedulerEarliestFirstAndDeferred(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	later := accepted("b-later", t0.Add(2*time.Second))
	earlier := accepted("z-earlier", t0)
	now := t0.Add(3 * time.Second)

	d := s.Evaluate(now, []domain.Challenge{later, earlier}, false)
	if d.Fire == nil || d.Fire.ID != "z-earlier" {
		t.Fatalf("expected earliest to fire, got %+v", d.Fire)
	}
	d = s.Evaluate(now, []domain.Challenge{later, earlier}, true)
	if d.Fire != nil || !d.Deferred {
		t.Fatalf("expected deferral while ringing, got %+v", d)
	}
	d = s.Evaluate(now.Add(time.Second), []domain.Challenge{later, earlier}, false)
	if d.Fire == nil || d.Fire.ID != "b-later" {
		t.Fatalf("expected deferred challenge to fire next, got %+v", d.Fire)
	}
}

func TestSchedulerIgnoresNonAccepted(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	c := accepted("c-1", t0)
	c.Status = domain.StatusCompleted
	if d := s.Evaluate(t0, []domain.Challenge{c}, false); d.Fire != nil {
		t.Fatalf("completed challenge must not fire")
	}
}

func TestSchedulerSkipWithoutCooldownNeverReoffers(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	list := []domain.Challenge{accepted("c-1", t0)}
	s.Evaluate(t0, list, false)
	s.Skip("c-1", t0.Add(time.Second))
	missed := 0
	for i := 2; i < 30; i++ {
		d := s.Evaluate(t0.Add(time.Duration(i)*time.Second), list, false)
		if d.Fire != nil {
			t.Fatalf("skipped challenge rang again at +%ds", i)
		}
		if len(d.Missed) != 0 && i < 15 {
			t.Fatalf("reported missed inside the grace window at +%ds", i)
		}
		missed += len(d.Missed)
	}
	if missed != 1 {
		t.Fatalf("expected one missed report after the window, got %d", missed)
	}
}

func TestSchedulerSkippedThenLatePollIsMissed(t *testing.T) {
	for _, cooldown := range []time.Duration{0, 5 * time.Second} {
		s := NewScheduler(15*time.Second, cooldown)
		list := []domain.Challenge{accepted("c-1", t0)}
		if d := s.Evaluate(t0, list, false); d.Fire == nil {
			t.Fatalf("cooldown %s: expected fire", cooldown)
		}
		s.Skip("c-1", t0.Add(time.Second))
		d := s.Evaluate(t0.Add(20*time.Second), list, false)
		if d.Fire != nil || len(d.Missed) != 1 || d.Missed[0].ID != "c-1" {
			t.Fatalf("cooldown %s: expected one missed and no fire, got %+v", cooldown, d)
		}
		if d := s.Evaluate(t0.Add(21*time.Second), list, false); len(d.Missed) != 0 {
			t.Fatalf("cooldown %s: missed reported twice", cooldown)
		}
	}
}

func TestSchedulerAcknowledgedIsNeverMissed(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	list := []domain.Challenge{accepted("c-1", t0)}
	s.Evaluate(t0, list, false)
	s.MarkDone("c-1")
	if d := s.Evaluate(t0.Add(20*time.Second), list, false); d.Fire != nil || len(d.Missed) != 0 {
		t.Fatalf("acknowledged challenge resurfaced: %+v", d)
	}
}

func TestSchedulerRingingPastGraceIsNotMissed(t *testing.T) {
	s := NewScheduler(15*time.Second, 0)
	list := []domain.Challenge{accepted("c-1", t0)}
	s.Evaluate(t0, list, false)
	if d := s.Evaluate(t0.Add(30*time.Second), list, true); len(d.Missed) != 0 || d.Fire != nil {
		t.Fatalf("still-ringing challenge reported: %+v", d)
	}
}

func TestSchedulerSkipCooldownReoffersWithinGrace(t *testing.T) {
	s := NewScheduler(15*time.Second, 5*time.Second)
	list := []domain.Challenge{accepted("c-1", t0)}
	s.Evaluate(t0, list, false)
	s.Skip("c-1", t0.Add(time.Second))
	if d := s.Evaluate(t0.Add(3*time.Second), list, false); d.Fire != nil {
		t.Fatalf("re-offered during cooldown")
	}
	if d := s.Evaluate(t0.Add(6*time.Second), list, false); d.Fire == nil {
		t.Fatalf("expected re-offer after cooldown inside grace")
	}
	s.Skip("c-1", t0.Add(7*time.Second))
	// cooldown ends past the grace window: it cannot ring again, so it is missed
	if d := s.Evaluate(t0.Add(20*time.Second), list, false); d.Fire != nil || len(d.Missed) != 1 {
		t.Fatalf("unexpected decision past grace: %+v", d)
	}
}
