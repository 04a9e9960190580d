package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type webhookTarget struct {
	url    string
	filter *config.FilterProgram
	cursor int64
}

// WebhookDispatcher forwards ledger events to indexer URLs. Each target keeps
// its own cursor and stops at the first failed delivery so events arrive in
// order.
type WebhookDispatcher struct {
	engine   engine.Engine
	targets  []*webhookTarget
	client   *http.Client
	interval time.Duration
	log      *slog.Logger
}

// NewWebhookDispatcher compiles the configured filters. It returns nil when no
// webhooks are configured.
func NewWebhookDispatcher(e engine.Engine, hooks []config.Webhook, logger *slog.Logger) (*WebhookDispatcher, error) {
	if len(hooks) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &WebhookDispatcher{
		engine:   e,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		log:      logger.With("component", "webhooks"),
	}
	for i, h := range hooks {
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		var prog *config.FilterProgram
		if strings.TrimSpace(h.Filter) != "" {
			var err error
			if prog, err = config.CompileFilter(h.Filter); err != nil {
				return nil, fmt.Errorf("webhook %d filter: %w", i, err)
			}
		}
		d.targets = append(d.targets, &webhookTarget{url: h.URL, filter: prog, cursor: -1})
	}
	return d, nil
}

// Run delivers new events until ctx is done. Targets start at the latest
// event present when Run begins.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if d == nil || len(d.targets) == 0 {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) dispatchAll(ctx context.Context) {
	for _, t := range d.targets {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, t)
	}
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, t *webhookTarget) {
	if t.cursor < 0 {
		latest, err := d.engine.Repo.LatestEventID(ctx)
		if err != nil {
			d.log.Error("init webhook cursor", "url", t.url, "err", err)
			return
		}
		t.cursor = latest
	}
	events, err := d.engine.ListEvents(ctx, repo.EventFilters{AfterID: t.cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.log.Error("fetch events", "err", err)
		return
	}
	for _, evt := range events {
		ok, err := t.filter.Match(filterEnv(evt))
		if err != nil {
			d.log.Warn("webhook filter failed; skipping event", "url", t.url, "event", evt.ID, "err", err)
			t.cursor = evt.ID
			continue
		}
		if !ok {
			t.cursor = evt.ID
			continue
		}
		if err := d.post(ctx, t.url, evt); err != nil {
			d.log.Warn("webhook delivery failed", "url", t.url, "event", evt.ID, "err", err)
			return
		}
		t.cursor = evt.ID
	}
}

func filterEnv(evt domain.Event) config.FilterEnv {
	return config.FilterEnv{
		Type:    evt.Type,
		Entity:  evt.EntityKind,
		Caller:  evt.Caller,
		Payload: decodeJSONMap(evt.Payload),
	}
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, evt domain.Event) error {
	data, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bountyline-Event", evt.Type)
	req.Header.Set("X-Bountyline-Delivery", fmt.Sprintf("%d", evt.ID))
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
