// Package notify delivers sync status-changed events to an external
// notification sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"vaultd/syncd/internal/engine"
)

// Webhook posts status-changed events to a configured endpoint. Delivery is
// best effort; a failed post is logged and dropped.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) StatusChanged(ctx context.Context, scope engine.Scope, previousIssues, issues int) {
	payload, err := json.Marshal(map[string]any{
		"event":          "sync_status_changed",
		"scope":          scope.Key(),
		"previousIssues": previousIssues,
		"issues":         issues,
		"at":             time.Now().UTC(),
	})
	if err != nil {
		log.Printf("notify: marshal event: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("notify: build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("notify: post status change for %s: %v", scope, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify: status change webhook for %s returned %d", scope, resp.StatusCode)
	}
}

// Log is the fallback sink when no webhook is configured.
type Log struct{}

func (Log) StatusChanged(_ context.Context, scope engine.Scope, previousIssues, issues int) {
	log.Printf("notify: scope %s issue count changed %d -> %d", scope, previousIssues, issues)
}
