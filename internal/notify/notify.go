// Package notify delivers best-effort webhook notifications for run
// cycle milestones. Delivery failures are logged and never propagated
// to the caller's control flow.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Notifier posts messages to a Slack-compatible incoming webhook.
// A Notifier with an empty URL is valid and drops every message.
type Notifier struct {
	webhookURL string
	timeout    time.Duration
	logger     zerolog.Logger
}

// New creates a Notifier for the given webhook URL. An empty URL
// disables delivery.
func New(webhookURL string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		timeout:    10 * time.Second,
		logger:     logger.With().Str("component", "notify").Logger(),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Send posts a plain text message. Errors are logged, not returned.
func (n *Notifier) Send(ctx context.Context, text string) {
	if !n.Enabled() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to deliver notification")
		return
	}
	n.logger.Debug().Msg("Notification delivered")
}

// Sendf formats and posts a message.
func (n *Notifier) Sendf(ctx context.Context, format string, args ...any) {
	n.Send(ctx, fmt.Sprintf(format, args...))
}
