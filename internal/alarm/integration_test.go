package alarm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dailyrise/internal/alarm"
	"dailyrise/internal/config"
	"dailyrise/internal/db"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/migrate"
)

func TestBothPeersAcknowledgeOneWins(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2024, 3, 10, 6, 59, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	ctx := context.Background()

	habit, err := eng.CreateHabit(ctx, "alice", "Wake up at 7")
	if err != nil {
		t.Fatal(err)
	}
	c, err := eng.CreateChallenge(ctx, engine.ChallengeCreateOptions{
		ChallengerID:     "alice",
		ChallengedUserID: "bob",
		HabitID:          habit.ID,
		TimeOfDay:        "07:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c, err = eng.AcceptChallenge(ctx, c.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	results := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			gw := engine.LocalGateway{Engine: eng, UserID: user}
			comp := alarm.Completer{Gateway: gw, Ledger: gw, UserID: user, Now: eng.Now}
			_, err := comp.Finish(ctx, c)
			mu.Lock()
			results[user] = err
			mu.Unlock()
		}(user)
	}
	wg.Wait()

	var winner string
	for user, err := range results {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatalf("two winners: %s and %s", winner, user)
			}
			winner = user
		case !alarm.IsSilent(err):
			t.Fatalf("loser %s got a loud error: %v", user, err)
		}
	}
	if winner == "" {
		t.Fatalf("nobody won: %v", results)
	}

	stored, err := eng.GetChallenge(ctx, winner, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusCompleted || *stored.WinnerID != winner {
		t.Fatalf("unexpected stored challenge: %+v", stored)
	}
	total, err := eng.PointsTotal(ctx, winner, nil)
	if err != nil || total != 10 {
		t.Fatalf("expected 10 points for %s, got %d (%v)", winner, total, err)
	}
	for user := range results {
		if user == winner {
			continue
		}
		if total, _ := eng.PointsTotal(ctx, user, nil); total != 0 {
			t.Fatalf("loser %s has %d points", user, total)
		}
	}
}
