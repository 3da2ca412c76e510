// Package notify delivers sync failure and recovery alerts to operators.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Level string

const (
	LevelFailed    Level = "failed"
	LevelRecovered Level = "recovered"
)

type Channels struct {
	Emails   []string
	Webhooks []string
}

// Payload describes one provider sync outcome worth alerting on.
type Payload struct {
	Level        Level
	ProviderID   string
	ProviderName string
	SyncType     string
	RunID        string
	Error        string
	Channels     Channels
	Timestamp    time.Time
}

type Sink interface {
	Notify(ctx context.Context, payload Payload) error
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(ctx context.Context, payload Payload) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.WarnContext(ctx, "sync alert",
		slog.String("level", string(payload.Level)),
		slog.String("provider_id", payload.ProviderID),
		slog.String("provider", payload.ProviderName),
		slog.String("sync_type", payload.SyncType),
		slog.String("run_id", payload.RunID),
		slog.String("error", payload.Error),
		slog.Any("emails", payload.Channels.Emails),
		slog.Any("webhooks", payload.Channels.Webhooks),
		slog.Time("timestamp", payload.Timestamp.UTC()),
	)
	return nil
}

// Dispatcher applies a per-provider cooldown to failure alerts and sends a
// single recovery alert once a previously failing provider syncs again.
type Dispatcher struct {
	sink     Sink
	channels Channels
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state map[string]time.Time
}

func NewDispatcher(sink Sink, channels Channels, cooldown time.Duration) *Dispatcher {
	if sink == nil {
		sink = NewLogSink(nil)
	}
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Dispatcher{
		sink:     sink,
		channels: channels,
		cooldown: cooldown,
		now:      time.Now,
		state:    make(map[string]time.Time),
	}
}

// Failed reports a failed provider sync. Repeats inside the cooldown are
// dropped.
func (d *Dispatcher) Failed(ctx context.Context, payload Payload) error {
	if d == nil {
		return nil
	}
	now := d.now()
	d.mu.Lock()
	last, alerted := d.state[payload.ProviderID]
	if alerted && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		return nil
	}
	d.state[payload.ProviderID] = now
	d.mu.Unlock()

	payload.Level = LevelFailed
	payload.Channels = d.channels
	if payload.Timestamp.IsZero() {
		payload.Timestamp = now
	}
	return d.sink.Notify(ctx, payload)
}

// Recovered reports a successful sync; it only notifies when a failure
// alert was sent earlier.
func (d *Dispatcher) Recovered(ctx context.Context, payload Payload) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	_, alerted := d.state[payload.ProviderID]
	delete(d.state, payload.ProviderID)
	d.mu.Unlock()
	if !alerted {
		return nil
	}

	payload.Level = LevelRecovered
	payload.Channels = d.channels
	payload.Error = ""
	if payload.Timestamp.IsZero() {
		payload.Timestamp = d.now()
	}
	return d.sink.Notify(ctx, payload)
}
