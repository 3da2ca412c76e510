package notify

import (
	"context"
	"errors"
)

// CompositeSink fans out notifications to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink drops nil entries and returns nil when nothing is left.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if isNilSink(sink) {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 0 {
		return nil
	}
	return &CompositeSink{sinks: filtered}
}

func (c *CompositeSink) Notify(ctx context.Context, payload Payload) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, sink := range c.sinks {
		if err := sink.Notify(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isNilSink catches typed nil pointers returned by the sink constructors.
func isNilSink(s Sink) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *SMTPSink:
		return v == nil
	case *WebhookSink:
		return v == nil
	case *LogSink:
		return v == nil
	}
	return false
}
