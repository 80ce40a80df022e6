// Package notifier holds the outbound chat and email senders.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/notification"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const defaultSlackRetries = 3

// SlackNotifier posts Block Kit messages to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	maxRetries uint64
	interval   time.Duration
	log        *zap.SugaredLogger
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: defaultSlackRetries,
		interval:   500 * time.Millisecond,
		log:        logger.For(logger.ComponentNotifier).Named("slack"),
	}
}

// WithRetry overrides the retry count and initial backoff interval.
func (n *SlackNotifier) WithRetry(maxRetries uint64, interval time.Duration) *SlackNotifier {
	n.maxRetries = maxRetries
	n.interval = interval
	return n
}

func (n *SlackNotifier) Configured() bool {
	return n.webhookURL != ""
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func buildSlackPayload(msg notification.Message) slackPayload {
	title := msg.Title
	if msg.Priority == notification.PriorityCritical {
		title = ":rotating_light: " + title
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
	}
	if msg.Body != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: msg.Body}})
	}
	if len(msg.Fields) > 0 {
		fields := make([]slackText, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*\n%s", f.Title, f.Value)})
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}
	if msg.URL != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("<%s|Open in dashboard>", msg.URL)}})
	}

	return slackPayload{Text: msg.Title, Blocks: blocks}
}

// Send posts msg, retrying transient failures. It returns false when the
// webhook is not configured or every attempt failed.
func (n *SlackNotifier) Send(ctx context.Context, msg notification.Message) bool {
	if !n.Configured() {
		n.log.Infof("Slack not configured, skipping: %s", msg.Title)
		return false
	}

	body, err := json.Marshal(buildSlackPayload(msg))
	if err != nil {
		n.log.Errorf("Failed to encode slack message: %v", err)
		return false
	}

	var rejected error
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			rejected = err
			return nil
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
		default:
			// Client errors will not succeed on retry.
			rejected = fmt.Errorf("slack webhook rejected message with %d", resp.StatusCode)
			return nil
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = n.interval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, n.maxRetries), ctx)

	if err := backoff.Retry(operation, retry); err != nil {
		n.log.Errorf("Failed to send slack message %q: %v", msg.Title, err)
		return false
	}
	if rejected != nil {
		n.log.Errorf("Failed to send slack message %q: %v", msg.Title, rejected)
		return false
	}

	n.log.Debugf("Slack message sent: %s", msg.Title)
	return true
}
