package dailyrisesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dailyrise/internal/alarm"
	"dailyrise/internal/challenge"
	"dailyrise/internal/config"
	"dailyrise/internal/db"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/migrate"
	"dailyrise/internal/server"
)

var (
	_ alarm.Gateway = (*Client)(nil)
	_ alarm.Ledger  = (*Client)(nil)
)

func TestConflictMapsToInvalidTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"invalid_transition","message":"cannot complete"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.UpdateChallengeStatus(context.Background(), "c-1", domain.StatusCompleted, "bob")
	if !errors.Is(err, challenge.ErrInvalidTransition) || !alarm.IsSilent(err) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if errors.Is(err, alarm.ErrPersistenceUnavailable) {
		t.Fatalf("conflict must not look like an outage")
	}
}

func TestConcurrentFirstRequestsShareOneClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.QueryChallenges(context.Background(), domain.ChallengeFilter{ChallengedUserID: "bob"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("query: %v", err)
	}
	if hits.Load() != 8 {
		t.Fatalf("expected 8 requests, got %d", hits.Load())
	}
	if c.HTTPClient != nil || c.httpc == nil || c.httpc.Timeout != c.Timeout {
		t.Fatalf("expected one internal client with the configured timeout")
	}
}

func TestServerErrorsAndOpenBreakerAreUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BreakerFailures = 2
	c.BreakerTimeout = time.Minute
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.QueryChallenges(ctx, domain.ChallengeFilter{}); !errors.Is(err, alarm.ErrPersistenceUnavailable) {
			t.Fatalf("call %d: expected unavailable, got %v", i, err)
		}
	}
	_, err := c.QueryChallenges(ctx, domain.ChallengeFilter{})
	if !errors.Is(err, alarm.ErrPersistenceUnavailable) {
		t.Fatalf("open breaker: expected unavailable, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("open breaker still hit the server: %d", hits.Load())
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"forbidden","message":"no"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BreakerFailures = 1
	for i := 0; i < 3; i++ {
		_, err := c.GetChallenge(context.Background(), "x")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 APIError, got %v", err)
		}
	}
	if hits.Load() != 3 {
		t.Fatalf("breaker opened on client errors")
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	c := New(addr)
	if _, err := c.ListHabits(context.Background()); !errors.Is(err, alarm.ErrPersistenceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestAlarmCompletionAgainstRealServer(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	e := engine.New(conn, config.Default())
	tokens := auth.Tokens{Secret: "sdk-test"}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{Tokens: tokens}})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	clientFor := func(user string) *Client {
		token, err := tokens.Issue(user, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		c := New(srv.URL)
		c.BearerToken = token
		return c
	}
	alice, bob := clientFor("alice"), clientFor("bob")
	ctx := context.Background()

	habit, err := alice.CreateHabit(ctx, "Wake up at 7")
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}
	ch, err := alice.InsertChallenge(ctx, ChallengeInput{ChallengedUserID: "bob", HabitID: habit.ID, TimeOfDay: "07:00"})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	pending, err := bob.QueryChallenges(ctx, domain.ChallengeFilter{ChallengedUserID: "bob", StatusIn: []domain.ChallengeStatus{domain.StatusPending}})
	if err != nil || len(pending) != 1 || pending[0].ID != ch.ID {
		t.Fatalf("bob should see one pending challenge: %v %v", pending, err)
	}
	if ch, err = bob.UpdateChallengeStatus(ctx, ch.ID, domain.StatusAccepted, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	comp := alarm.Completer{Gateway: bob, Ledger: bob, UserID: "bob"}
	if _, err := comp.Finish(ctx, ch); err != nil {
		t.Fatalf("bob finish: %v", err)
	}
	late := alarm.Completer{Gateway: alice, Ledger: alice, UserID: "alice"}
	if _, err := late.Finish(ctx, ch); !alarm.IsSilent(err) {
		t.Fatalf("alice should lose silently, got %v", err)
	}

	pts, err := bob.Points(ctx, "")
	if err != nil || pts.Total != 10 {
		t.Fatalf("expected 10 points for bob, got %+v %v", pts, err)
	}
	if pts, _ := alice.Points(ctx, ""); pts.Total != 0 {
		t.Fatalf("alice got points: %+v", pts)
	}
}
