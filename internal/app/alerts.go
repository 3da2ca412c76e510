package app

import (
	"log/slog"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/notify"
)

// buildAlerts wires the configured sinks behind a cooldown dispatcher. It
// returns nil when alerting is disabled.
func buildAlerts(cfg config.AlertConfig, logger *slog.Logger) *notify.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	sink := notify.NewCompositeSink(
		notify.NewSMTPSink(cfg.SMTP),
		notify.NewWebhookSink(cfg.Webhook, logger),
		notify.NewLogSink(logger),
	)
	return notify.NewDispatcher(sink, notify.Channels{
		Emails:   cfg.Emails,
		Webhooks: cfg.Webhooks,
	}, cfg.Cooldown)
}
