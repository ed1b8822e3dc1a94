// Package dailyrisesdk is the HTTP client for the DailyRise API. A Client
// bound to one user's credentials satisfies the alarm Gateway and Ledger, so
// a PollingSession can run against a remote server.
package dailyrisesdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"dailyrise/internal/alarm"
	"dailyrise/internal/challenge"
	"dailyrise/internal/domain"
	"dailyrise/internal/logging"
)

// Client is a DailyRise HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// HTTPClient and Timeout are read on the first request.
	HTTPClient *http.Client
	Timeout    time.Duration
	// BreakerFailures consecutive failures open the breaker for
	// BreakerTimeout. Client errors (4xx) do not count.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	once    sync.Once
	breaker *gobreaker.CircuitBreaker[struct{}]
	httpc   *http.Client
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Is maps the server's error codes onto the alarm error taxonomy.
func (e *APIError) Is(target error) bool {
	switch target {
	case challenge.ErrInvalidTransition:
		return e.Code == "invalid_transition"
	case alarm.ErrPersistenceUnavailable:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// ChallengeInput creates a challenge from the authenticated user.
type ChallengeInput struct {
	ChallengedUserID string  `json:"challenged_user_id"`
	HabitID          string  `json:"habit_id"`
	CommunityID      *string `json:"community_id,omitempty"`
	TimeOfDay        string  `json:"time_of_day,omitempty"`
	Timezone         string  `json:"timezone,omitempty"`
}

type Points struct {
	UserID      string              `json:"user_id"`
	CommunityID *string             `json:"community_id,omitempty"`
	Total       int                 `json:"total"`
	Awards      []domain.PointAward `json:"awards"`
}

type PaginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

type Me struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) CreateHabit(ctx context.Context, name string) (domain.Habit, error) {
	var resp domain.Habit
	err := c.do(ctx, http.MethodPost, "habits", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	var resp []domain.Habit
	err := c.do(ctx, http.MethodGet, "habits", nil, &resp)
	return resp, err
}

// QueryChallenges lists the caller's challenges. ParticipantID is implied by
// the credentials; ChallengerID or ChallengedUserID restrict to one side.
func (c *Client) QueryChallenges(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	q := url.Values{}
	if s := joinStatuses(f.StatusIn); s != "" {
		q.Set("status", s)
	}
	if s := joinStatuses(f.ExcludeStatus); s != "" {
		q.Set("exclude_status", s)
	}
	switch {
	case f.ChallengerID != "":
		q.Set("role", "challenger")
	case f.ChallengedUserID != "":
		q.Set("role", "challenged")
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	endpoint := "challenges"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []domain.Challenge
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetChallenge(ctx context.Context, id string) (domain.Challenge, error) {
	var resp domain.Challenge
	err := c.do(ctx, http.MethodGet, "challenges/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) InsertChallenge(ctx context.Context, in ChallengeInput) (domain.Challenge, error) {
	var resp domain.Challenge
	err := c.do(ctx, http.MethodPost, "challenges", in, &resp)
	return resp, err
}

// UpdateChallengeStatus moves a challenge. A rejected transition, including
// a lost completion race, matches challenge.ErrInvalidTransition.
func (c *Client) UpdateChallengeStatus(ctx context.Context, id string, status domain.ChallengeStatus, winnerID string) (domain.Challenge, error) {
	body := map[string]any{"status": status}
	if winnerID != "" {
		body["winner_id"] = winnerID
	}
	var resp domain.Challenge
	err := c.do(ctx, http.MethodPatch, "challenges/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

func (c *Client) InsertHabitCompletionLog(ctx context.Context, l domain.HabitLog) error {
	body := map[string]any{}
	for k, v := range map[string]string{"log_date": l.LogDate, "status": l.Status, "notes": l.Notes} {
		if v != "" {
			body[k] = v
		}
	}
	return c.do(ctx, http.MethodPost, "habits/"+url.PathEscape(l.HabitID)+"/logs", body, nil)
}

func (c *Client) AwardPoints(ctx context.Context, a domain.PointAward) error {
	if a.ChallengeID == nil {
		return errors.New("challenge id required")
	}
	body := map[string]any{
		"challenge_id": *a.ChallengeID,
		"amount":       a.Amount,
		"reason":       a.Reason,
	}
	if a.CommunityID != nil {
		body["community_id"] = *a.CommunityID
	}
	return c.do(ctx, http.MethodPost, "points", body, nil)
}

func (c *Client) Points(ctx context.Context, communityID string) (Points, error) {
	endpoint := "points"
	if communityID != "" {
		endpoint += "?community_id=" + url.QueryEscape(communityID)
	}
	var resp Points
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns the caller's events, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) cb() *gobreaker.CircuitBreaker[struct{}] {
	c.once.Do(func() {
		c.httpc = c.HTTPClient
		if c.httpc == nil {
			c.httpc = &http.Client{Timeout: c.Timeout}
		}
		failures := c.BreakerFailures
		if failures == 0 {
			failures = 5
		}
		timeout := c.BreakerTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		log := logging.Component("sdk")
		c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "dailyrise-api",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.StatusCode < 500
				}
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		})
	})
	return c.breaker
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	_, err := c.cb().Execute(func() (struct{}, error) {
		return struct{}{}, c.roundTrip(ctx, method, endpoint, body, out)
	})
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr), errors.Is(err, context.Canceled):
		return err
	default:
		// transport failures and an open breaker
		return fmt.Errorf("%w: %v", alarm.ErrPersistenceUnavailable, err)
	}
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body any, out any) error {
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}

func joinStatuses(in []domain.ChallengeStatus) string {
	parts := make([]string, 0, len(in))
	for _, s := range in {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, ",")
}
