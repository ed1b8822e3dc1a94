package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"dailyrise/internal/config"
	"dailyrise/internal/db"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	tokens auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC) }
	tokens := auth.Tokens{Secret: testSecret}
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{Tokens: tokens}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL, Engine: e, client: srv.Client(), tokens: tokens}
}

func (s *testServer) bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := s.tokens.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

// seedChallenge has alice create a habit and challenge bob at 14:00.
func seedChallenge(t *testing.T, s *testServer) domain.Challenge {
	t.Helper()
	alice := s.bearer(t, "alice")
	res, data := s.do(t, http.MethodPost, "/v1/habits", map[string]any{"name": "Wake up at 7"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create habit: %d %s", res.StatusCode, data)
	}
	habit := decode[domain.Habit](t, data)
	res, data = s.do(t, http.MethodPost, "/v1/challenges", map[string]any{
		"challenged_user_id": "bob",
		"habit_id":           habit.ID,
		"time_of_day":        "14:00",
	}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create challenge: %d %s", res.StatusCode, data)
	}
	return decode[domain.Challenge](t, data)
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	if res, data := s.do(t, http.MethodGet, "/v1/health", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
	res, data := s.do(t, http.MethodGet, "/v1/habits", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	if env := decode[errorEnvelope](t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope: %s", data)
	}
	res, _ = s.do(t, http.MethodGet, "/v1/habits", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token accepted: %d", res.StatusCode)
	}
}

func TestChallengeLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := seedChallenge(t, s)
	if want := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC); !c.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled_at = %v, want %v", c.ScheduledAt, want)
	}
	alice, bob := s.bearer(t, "alice"), s.bearer(t, "bob")

	// only the challenged user may accept
	res, _ := s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "accepted"}, alice)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("challenger accepted own challenge: %d", res.StatusCode)
	}
	res, data := s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "accepted"}, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, data)
	}
	accepted := decode[domain.Challenge](t, data)
	if !accepted.ScheduledAt.Equal(c.ScheduledAt) {
		t.Fatalf("accept moved the schedule")
	}

	res, data = s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "completed"}, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "completed"}, alice)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second completion: %d %s", res.StatusCode, data)
	}
	if env := decode[errorEnvelope](t, data); env.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", data)
	}

	award := map[string]any{"challenge_id": c.ID, "amount": 10}
	res, data = s.do(t, http.MethodPost, "/v1/points", award, alice)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("loser credited: %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodPost, "/v1/points", award, bob)
	if res.StatusCode != http.StatusOK || !decode[AwardPointsResponse](t, data).Inserted {
		t.Fatalf("award: %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodPost, "/v1/points", award, bob)
	if res.StatusCode != http.StatusOK || decode[AwardPointsResponse](t, data).Inserted {
		t.Fatalf("duplicate award should be a no-op: %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodGet, "/v1/points", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("points: %d %s", res.StatusCode, data)
	}
	if p := decode[PointsResponse](t, data); p.Total != 10 || len(p.Awards) != 1 {
		t.Fatalf("unexpected points: %+v", p)
	}

	res, data = s.do(t, http.MethodPost, "/v1/habits/"+c.HabitID+"/logs", map[string]any{"notes": "Completed via Alarm"}, bob)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("winner log on challenger habit: %d %s", res.StatusCode, data)
	}
}

func TestConcurrentCompletionHasOneWinner(t *testing.T) {
	s := newTestServer(t)
	c := seedChallenge(t, s)
	if res, data := s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "accepted"}, s.bearer(t, "bob")); res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, data)
	}
	headers := map[string]map[string]string{"alice": s.bearer(t, "alice"), "bob": s.bearer(t, "bob")}
	codes := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for user, h := range headers {
		wg.Add(1)
		go func(user string, h map[string]string) {
			defer wg.Done()
			res, _ := s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "completed"}, h)
			mu.Lock()
			codes[user] = res.StatusCode
			mu.Unlock()
		}(user, h)
	}
	wg.Wait()
	ok, conflict := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("expected one 200 and one 409, got %v", codes)
	}
}

func TestOpenChallengeBetweenPairConflicts(t *testing.T) {
	s := newTestServer(t)
	c := seedChallenge(t, s)
	res, data := s.do(t, http.MethodPost, "/v1/habits", map[string]any{"name": "Run"}, s.bearer(t, "bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create habit: %d %s", res.StatusCode, data)
	}
	habit := decode[domain.Habit](t, data)
	res, data = s.do(t, http.MethodPost, "/v1/challenges", map[string]any{
		"challenged_user_id": "alice",
		"habit_id":           habit.ID,
		"time_of_day":        "06:30",
	}, s.bearer(t, "bob"))
	if res.StatusCode != http.StatusConflict || decode[errorEnvelope](t, data).Error.Code != "challenge_conflict" {
		t.Fatalf("reverse challenge should conflict: %d %s", res.StatusCode, data)
	}

	s.do(t, http.MethodPatch, "/v1/challenges/"+c.ID+"/status", map[string]any{"status": "declined"}, s.bearer(t, "bob"))
	res, data = s.do(t, http.MethodPost, "/v1/challenges", map[string]any{
		"challenged_user_id": "alice",
		"habit_id":           habit.ID,
		"time_of_day":        "06:30",
	}, s.bearer(t, "bob"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("declined challenge should free the pair: %d %s", res.StatusCode, data)
	}
}

func TestOutsiderCannotSeeChallenge(t *testing.T) {
	s := newTestServer(t)
	c := seedChallenge(t, s)
	res, data := s.do(t, http.MethodGet, "/v1/challenges/"+c.ID, nil, s.bearer(t, "carol"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodGet, "/v1/challenges?exclude_status=declined", nil, s.bearer(t, "carol"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.Challenge](t, data)) != 0 {
		t.Fatalf("carol sees challenges: %d %s", res.StatusCode, data)
	}
	res, data = s.do(t, http.MethodGet, "/v1/challenges?status=pending", nil, s.bearer(t, "bob"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.Challenge](t, data)) != 1 {
		t.Fatalf("bob should see the pending challenge: %d %s", res.StatusCode, data)
	}
	res, _ = s.do(t, http.MethodGet, "/v1/challenges?status=bogus", nil, s.bearer(t, "bob"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status accepted: %d", res.StatusCode)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	s := newTestServer(t)
	res, data := s.do(t, http.MethodPost, "/v1/api-keys", map[string]any{"name": "phone"}, s.bearer(t, "alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, data)
	}
	created := decode[CreateAPIKeyResponse](t, data)
	if !strings.HasPrefix(created.Secret, "dr_") {
		t.Fatalf("unexpected secret %q", created.Secret)
	}
	res, data = s.do(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": created.Secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", res.StatusCode, data)
	}
	if me := decode[WhoAmIResponse](t, data); me.UserID != "alice" || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, _ = s.do(t, http.MethodDelete, "/v1/api-keys/"+created.Key.ID, nil, s.bearer(t, "alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke: %d", res.StatusCode)
	}
	res, _ = s.do(t, http.MethodGet, "/v1/me", nil, map[string]string{"X-Api-Key": created.Secret})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key still works: %d", res.StatusCode)
	}
}

func TestEventsAndMetrics(t *testing.T) {
	s := newTestServer(t)
	seedChallenge(t, s)
	res, data := s.do(t, http.MethodGet, "/v1/events?limit=10", nil, s.bearer(t, "alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	page := decode[paginatedEvents](t, data)
	if len(page.Items) == 0 || page.Items[0].Type != "challenge.created" {
		t.Fatalf("expected newest event to be challenge.created: %+v", page.Items)
	}
	res, data = s.do(t, http.MethodGet, "/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "dailyrise_http_requests_total") {
		t.Fatalf("metrics endpoint: %d", res.StatusCode)
	}
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	var mu sync.Mutex
	var got []deliveryBody
	var headers []http.Header
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt deliveryBody
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
	}))
	defer hook.Close()

	s := newTestServer(t)
	ctx := context.Background()
	if _, err := s.Engine.CreateHabit(ctx, "alice", "before the dispatcher"); err != nil {
		t.Fatal(err)
	}
	d := NewWebhookDispatcher(s.Engine, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"challenge.created"},
		Secret: "shh",
	}})
	d.tick(ctx)

	seedChallenge(t, s)
	d.tick(ctx)
	d.tick(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Type != "challenge.created" {
		t.Fatalf("expected exactly one challenge.created delivery, got %+v", got)
	}
	if headers[0].Get("X-Dailyrise-Event") != "challenge.created" || headers[0].Get("X-Dailyrise-Secret") != "shh" {
		t.Fatalf("missing delivery headers: %v", headers[0])
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	var calls atomic.Int32
	var delivered atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		delivered.Add(1)
	}))
	defer hook.Close()

	s := newTestServer(t)
	ctx := context.Background()
	d := NewWebhookDispatcher(s.Engine, []config.WebhookConfig{{URL: hook.URL, Events: []string{"habit.created"}}})
	d.tick(ctx)
	if _, err := s.Engine.CreateHabit(ctx, "alice", "Stretch"); err != nil {
		t.Fatal(err)
	}
	d.tick(ctx)
	if delivered.Load() != 0 {
		t.Fatalf("first attempt should have failed")
	}
	d.tick(ctx)
	d.tick(ctx)
	if calls.Load() != 2 || delivered.Load() != 1 {
		t.Fatalf("expected one retry then nothing: calls=%d delivered=%d", calls.Load(), delivered.Load())
	}
}
