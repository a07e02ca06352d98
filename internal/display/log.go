package display

import (
	"context"
	"log/slog"

	"webpush-agent/pkg/push"
)

// LogProvider writes notifications to the log instead of a real surface.
// Used for local development and as the default provider.
type LogProvider struct {
	logger *slog.Logger
}

// NewLogProvider creates a log-only provider.
func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

// Name identifies the provider in logs.
func (*LogProvider) Name() string { return "log" }

// Send logs the notification.
func (p *LogProvider) Send(_ context.Context, title string, opts push.Options) error {
	p.logger.Info("NOTIFICATION",
		"title", title,
		"body", opts.Body,
		"tag", opts.Tag,
		"require_interaction", opts.RequireInteraction,
		"actions", len(opts.Actions))
	return nil
}
