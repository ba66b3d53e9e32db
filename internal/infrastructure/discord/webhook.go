package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexus-verify/internal/domain"
)

const (
	colorPassed  = 0x2ecc71
	colorBlocked = 0xe74c3c
)

// WebhookSink posts audit entries to a channel webhook as a minimal embed.
type WebhookSink struct {
	url  string
	http *http.Client
}

func NewWebhookSink(webhookURL string, httpClient *http.Client) *WebhookSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookSink{url: webhookURL, http: httpClient}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields,omitempty"`
	Timestamp string       `json:"timestamp"`
}

func (s *WebhookSink) Emit(ctx context.Context, entry domain.AuditEntry) error {
	body, err := json.Marshal(map[string][]embed{"embeds": {toEmbed(entry)}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: status %d", resp.StatusCode)
	}
	return nil
}

func toEmbed(entry domain.AuditEntry) embed {
	title := string(entry.Outcome)
	if entry.Action != "" {
		title = entry.Action
	}
	color := colorBlocked
	if entry.Outcome == "" || entry.Outcome.Passed() {
		color = colorPassed
	}
	e := embed{Title: title, Color: color, Timestamp: entry.OccurredAt.UTC().Format(time.RFC3339)}
	add := func(name, value string) {
		if value != "" {
			e.Fields = append(e.Fields, embedField{Name: name, Value: value, Inline: true})
		}
	}
	if entry.Identity != "" {
		add("User", fmt.Sprintf("<@%s> (%s)", entry.Identity, entry.Identity))
	}
	add("Username", entry.Username)
	if entry.PriorIdentity != "" {
		add("Prior account", fmt.Sprintf("<@%s> (%s)", entry.PriorIdentity, entry.PriorIdentity))
	}
	add("Reason", entry.Reason)
	return e
}
