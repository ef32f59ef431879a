package alerting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"driftwatch/internal/model"
)

// SlackChannel posts a block-formatted message to an incoming webhook.
// Fire-and-forget: a failed or timed-out post is reported to the manager for
// logging and never retried.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

func (s *SlackChannel) Send(alert model.Alert) error {
	if s.webhookURL == "" {
		return errors.New("slack webhook not configured")
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: slackText{Type: "plain_text", Text: fmt.Sprintf("%s Alert: %s", alert.Severity, alert.Endpoint)},
		},
	}
	body := alert.Explanation
	if body == "" {
		body = fmt.Sprintf("%d anomalous signals between %s and %s",
			len(alert.Signals),
			alert.WindowStart.UTC().Format(time.RFC3339),
			alert.WindowEnd.UTC().Format(time.RFC3339))
	}
	blocks = append(blocks, slackBlock{Type: "section", Text: slackText{Type: "mrkdwn", Text: body}})
	if lines := bulletList("Insights", alert.Insights); lines != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: slackText{Type: "mrkdwn", Text: lines}})
	}
	if lines := bulletList("Recommendations", alert.Recommendations); lines != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: slackText{Type: "mrkdwn", Text: lines}})
	}

	payload, err := json.Marshal(map[string][]slackBlock{"blocks": blocks})
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

func bulletList(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) > 3 {
		items = items[:3]
	}
	out := "*" + title + ":*"
	for _, item := range items {
		out += "\n- " + item
	}
	return out
}
