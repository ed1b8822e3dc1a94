package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dailyrise/internal/challenge"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/engine/auth"
	"dailyrise/internal/logging"
	"dailyrise/internal/metrics"
	"dailyrise/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
	Log       *zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid challenge transition"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the DailyRise API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := logging.Component("server")
	if cfg.Log != nil {
		log = *cfg.Log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(observe(log))
	if cfg.RateLimit > 0 {
		router.Use(httprate.LimitByIP(cfg.RateLimit, time.Minute))
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine, log))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("DailyRise API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerMe(group)
	registerHabits(group, cfg.Engine)
	registerChallenges(group, cfg.Engine)
	registerPoints(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// observe records request metrics under the matched route pattern.
func observe(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTP(r.Method, route, ww.Status(), elapsed)
			log.Debug().Str("method", r.Method).Str("route", route).Int("status", ww.Status()).
				Dur("elapsed", elapsed).Msg("request")
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"resource": fe.Resource})
	}
	var te *challenge.TransitionError
	switch {
	case errors.As(err, &te):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"challenge_id": te.ChallengeID,
			"from":         te.From,
			"action":       te.Action,
		})
	case errors.Is(err, challenge.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrChallengeConflict):
		return newAPIError(http.StatusConflict, "challenge_conflict", err.Error(), nil)
	case errors.Is(err, challenge.ErrNotParticipant):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrValidation), errors.Is(err, challenge.ErrInvalidChallenge):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		logging.Error().Err(err).Msg("unhandled api error")
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{UserID: p.UserID, Source: p.Source}}, nil
	})
}

func registerHabits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-habit",
		Method:        http.MethodPost,
		Path:          "/habits",
		Summary:       "Create habit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateHabitRequest `json:"body"`
	}) (*struct {
		Body domain.Habit `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.CreateHabit(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Habit `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-habits",
		Method:      http.MethodGet,
		Path:        "/habits",
		Summary:     "List own habits",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Habit `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListHabits(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Habit{}
		}
		return &struct {
			Body []domain.Habit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-habit-log",
		Method:        http.MethodPost,
		Path:          "/habits/{id}/logs",
		Summary:       "Log a habit completion",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateHabitLogRequest `json:"body"`
	}) (*struct {
		Body domain.HabitLog `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LogHabitCompletion(ctx, domain.HabitLog{
			HabitID: input.ID,
			UserID:  userID,
			LogDate: input.Body.LogDate,
			Status:  input.Body.Status,
			Notes:   input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HabitLog `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-habit-logs",
		Method:      http.MethodGet,
		Path:        "/habits/{id}/logs",
		Summary:     "List habit logs",
		Description: "The habit owner sees every log; anyone else only their own.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.HabitLog `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		habit, err := e.Repo.GetHabit(ctx, nil, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		logs, err := e.Repo.ListHabitLogs(ctx, habit.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := []domain.HabitLog{}
		for _, l := range logs {
			if habit.UserID == userID || l.UserID == userID {
				out = append(out, l)
			}
		}
		return &struct {
			Body []domain.HabitLog `json:"body"`
		}{Body: out}, nil
	})
}

func registerChallenges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-challenge",
		Method:        http.MethodPost,
		Path:          "/challenges",
		Summary:       "Challenge another user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateChallengeRequest `json:"body"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ChallengeCreateOptions{
			ChallengerID:     userID,
			ChallengedUserID: input.Body.ChallengedUserID,
			HabitID:          input.Body.HabitID,
			CommunityID:      input.Body.CommunityID,
			TimeOfDay:        input.Body.TimeOfDay,
		}
		if tz := strings.TrimSpace(input.Body.Timezone); tz != "" {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown timezone", map[string]any{"timezone": tz})
			}
			opts.Location = loc
		}
		if input.Body.ScheduledAt != nil && opts.TimeOfDay == "" {
			at, err := time.Parse(time.RFC3339, *input.Body.ScheduledAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "scheduled_at must be RFC 3339", nil)
			}
			opts.ScheduledAt = at
		}
		if opts.TimeOfDay == "" && opts.ScheduledAt.IsZero() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "time_of_day or scheduled_at is required", nil)
		}
		c, err := e.CreateChallenge(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-challenges",
		Method:      http.MethodGet,
		Path:        "/challenges",
		Summary:     "List challenges the caller takes part in",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status        string `query:"status" doc:"comma separated statuses to include"`
		ExcludeStatus string `query:"exclude_status" doc:"comma separated statuses to leave out"`
		Role          string `query:"role" doc:"challenger or challenged to restrict to one side"`
		Limit         int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Challenge `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		include, err := parseStatuses(input.Status)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		exclude, err := parseStatuses(input.ExcludeStatus)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		f := domain.ChallengeFilter{StatusIn: include, ExcludeStatus: exclude, Limit: normalizeLimit(input.Limit)}
		switch input.Role {
		case "challenger":
			f.ChallengerID = userID
		case "challenged":
			f.ChallengedUserID = userID
		case "":
			f.ParticipantID = userID
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role must be challenger or challenged", nil)
		}
		items, err := e.ListChallenges(ctx, userID, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Challenge `json:"body"`
		}{Body: nonNilChallenges(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-challenge",
		Method:      http.MethodGet,
		Path:        "/challenges/{id}",
		Summary:     "Get challenge",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetChallenge(ctx, userID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-challenge-status",
		Method:      http.MethodPatch,
		Path:        "/challenges/{id}/status",
		Summary:     "Accept, decline or complete a challenge",
		Description: "Completion is first-writer-wins. A request that loses the race gets 409 invalid_transition.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body SetChallengeStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Challenge `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		status := domain.ChallengeStatus(input.Body.Status)
		if !status.Valid() || status == domain.StatusPending {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Body.Status})
		}
		if status == domain.StatusCompleted && input.Body.WinnerID != "" && input.Body.WinnerID != userID {
			return nil, handleError(auth.ForbiddenError{UserID: userID, Resource: "completion on behalf of " + input.Body.WinnerID})
		}
		c, err := e.UpdateChallengeStatus(ctx, input.ID, status, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Challenge `json:"body"`
		}{Body: c}, nil
	})
}

func registerPoints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "award-points",
		Method:      http.MethodPost,
		Path:        "/points",
		Summary:     "Credit a challenge win",
		Description: "Repeating an award for the same challenge is a no-op and returns inserted=false.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AwardPointsRequest `json:"body"`
	}) (*struct {
		Body AwardPointsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		challengeID := input.Body.ChallengeID
		a, inserted, err := e.AwardPoints(ctx, domain.PointAward{
			UserID:      userID,
			CommunityID: input.Body.CommunityID,
			Amount:      input.Body.Amount,
			Reason:      input.Body.Reason,
			ChallengeID: &challengeID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AwardPointsResponse `json:"body"`
		}{Body: AwardPointsResponse{Award: a, Inserted: inserted}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-points",
		Method:      http.MethodGet,
		Path:        "/points",
		Summary:     "Point balance and recent awards",
	}, func(ctx context.Context, input *struct {
		CommunityID string `query:"community_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body PointsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var community *string
		if input.CommunityID != "" {
			community = &input.CommunityID
		}
		total, err := e.PointsTotal(ctx, userID, community)
		if err != nil {
			return nil, handleError(err)
		}
		awards, err := e.Repo.ListPointAwards(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if awards == nil {
			awards = []domain.PointAward{}
		}
		return &struct {
			Body PointsResponse `json:"body"`
		}{Body: PointsResponse{UserID: userID, CommunityID: community, Total: total, Awards: awards}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List the caller's events",
		Description: "With after, events newer than that id oldest first; otherwise newest first with a cursor.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		After  int64  `query:"after"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		resp := paginatedEvents{Items: []domain.Event{}}
		if input.After > 0 {
			items, err := e.Repo.EventsAfter(ctx, limit, input.After)
			if err != nil {
				return nil, handleError(err)
			}
			for _, evt := range items {
				if evt.ActorID == userID && (input.Type == "" || evt.Type == input.Type) {
					resp.Items = append(resp.Items, evt)
				}
			}
			if len(items) == limit {
				resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
			}
			return &struct {
				Body paginatedEvents `json:"body"`
			}{Body: resp}, nil
		}
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, before, repo.EventFilter{Type: input.Type, ActorID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, userID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func parseStatuses(raw string) ([]domain.ChallengeStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []domain.ChallengeStatus
	for _, part := range strings.Split(raw, ",") {
		s := domain.ChallengeStatus(strings.TrimSpace(part))
		if s == "" {
			continue
		}
		if !s.Valid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		out = append(out, s)
	}
	return out, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
