package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts notifications to an incoming-webhook URL.
type Slack struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text"`
	Footer string `json:"footer,omitempty"`
}

// NewSlack creates a Slack sender. An empty webhook URL disables it.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the notification to the webhook.
func (s *Slack) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	msg := slackMessage{
		Text: n.Title,
		Attachments: []slackAttachment{{
			Color:  slackColor(n.Severity),
			Title:  n.PhaseID,
			Text:   n.Message,
			Footer: "phase-orch",
		}},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

func slackColor(sev Severity) string {
	switch sev {
	case SeveritySuccess:
		return "good"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "danger"
	default:
		return "#439FE0"
	}
}
