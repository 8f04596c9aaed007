// Package notify delivers pattern alerts to the operator.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"sentra/internal/domain"

	"github.com/slack-go/slack"
)

// LogNotifier writes alerts to the structured log. Default when no external
// channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, alert domain.PatternAlert) {
	n.Logger.Warn("security alert",
		"pattern", alert.PatternName,
		"count", alert.Count,
		"message", alert.Message,
	)
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Logger     *slog.Logger
}

func (n *SlackNotifier) Notify(ctx context.Context, alert domain.PatternAlert) {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: *%s*\n%s\nEntries involved: %d",
			alert.PatternName, alert.Message, alert.Count),
	}
	if err := slack.PostWebhookContext(ctx, n.WebhookURL, msg); err != nil {
		n.Logger.Error("slack alert delivery failed", "pattern", alert.PatternName, "err", err)
	}
}

// Multi fans an alert out to several notifiers.
type Multi []interface {
	Notify(ctx context.Context, alert domain.PatternAlert)
}

func (m Multi) Notify(ctx context.Context, alert domain.PatternAlert) {
	for _, n := range m {
		n.Notify(ctx, alert)
	}
}
