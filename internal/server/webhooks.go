package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"dailyrise/internal/config"
	"dailyrise/internal/domain"
	"dailyrise/internal/engine"
	"dailyrise/internal/logging"
	"dailyrise/internal/metrics"
)

const (
	webhookPollEvery  = 2 * time.Second
	webhookTimeout    = 5 * time.Second
	webhookBatchLimit = 100
)

// WebhookDispatcher pushes new events to the configured hooks, so that
// consumers need not poll. A hook starts at the newest event when first
// seen and stops at the first failed delivery, retrying from there on the
// next tick. All state belongs to the Serve goroutine.
type WebhookDispatcher struct {
	Interval time.Duration

	engine  engine.Engine
	targets []*hookTarget
	log     zerolog.Logger
}

type hookTarget struct {
	url     string
	secret  string
	types   map[string]bool
	client  *http.Client
	cursor  int64
	started bool
}

// wants reports whether evtType passes the hook's event list. An empty list
// takes everything.
func (h *hookTarget) wants(evtType string) bool {
	return len(h.types) == 0 || h.types[evtType]
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig) *WebhookDispatcher {
	d := &WebhookDispatcher{
		Interval: webhookPollEvery,
		engine:   e,
		log:      logging.Component("webhooks"),
	}
	for _, h := range hooks {
		url := strings.TrimSpace(h.URL)
		if !h.IsEnabled() || url == "" {
			continue
		}
		timeout := webhookTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		t := &hookTarget{
			url:    url,
			secret: strings.TrimSpace(h.Secret),
			types:  map[string]bool{},
			client: &http.Client{Timeout: timeout},
		}
		for _, evt := range h.Events {
			if evt = strings.TrimSpace(evt); evt != "" {
				t.types[evt] = true
			}
		}
		d.targets = append(d.targets, t)
	}
	return d
}

func (d *WebhookDispatcher) String() string { return "webhooks" }

// Serve runs until ctx is done.
func (d *WebhookDispatcher) Serve(ctx context.Context) error {
	every := d.Interval
	if every <= 0 {
		every = webhookPollEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) tick(ctx context.Context) {
	for _, t := range d.targets {
		if !t.started {
			latest, err := d.engine.Repo.LatestEventID(ctx)
			if err != nil {
				d.log.Warn().Err(err).Str("url", t.url).Msg("cannot read event head; retrying")
				continue
			}
			t.cursor, t.started = latest, true
		}
		d.drain(ctx, t)
	}
}

func (d *WebhookDispatcher) drain(ctx context.Context, t *hookTarget) {
	batch, err := d.engine.Repo.EventsAfter(ctx, webhookBatchLimit, t.cursor)
	if err != nil {
		d.log.Warn().Err(err).Msg("fetch events failed")
		return
	}
	for _, evt := range batch {
		if t.wants(evt.Type) {
			if err := deliver(ctx, t, evt); err != nil {
				metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				d.log.Warn().Err(err).Str("url", t.url).Int64("event_id", evt.ID).Msg("delivery failed")
				return
			}
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		}
		t.cursor = evt.ID
	}
}

// deliveryBody is what a hook receives. Payload is the event's JSON
// payload, or {} when it has none.
type deliveryBody struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	Entity   string          `json:"entity_kind"`
	EntityID string          `json:"entity_id,omitempty"`
	Actor    string          `json:"actor_id"`
	At       string          `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
}

func deliver(ctx context.Context, t *hookTarget, evt domain.Event) error {
	body := deliveryBody{
		ID:       evt.ID,
		Type:     evt.Type,
		Entity:   evt.EntityKind,
		EntityID: evt.EntityID,
		Actor:    evt.ActorID,
		At:       evt.TS,
		Payload:  json.RawMessage("{}"),
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		body.Payload = json.RawMessage(evt.Payload)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dailyrise-Event", evt.Type)
	req.Header.Set("X-Dailyrise-Delivery", strconv.FormatInt(evt.ID, 10))
	if t.secret != "" {
		req.Header.Set("X-Dailyrise-Secret", t.secret)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("hook answered %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
