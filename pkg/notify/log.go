package notify

import (
	"context"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// LogSink writes every event to the log. It is the only sink when neither
// Redis nor a webhook is configured.
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink
func (s *LogSink) Deliver(_ context.Context, evt Event) error {
	s.logger.WithFields(map[string]interface{}{
		"event_id":   evt.ID,
		"event":      evt.Type,
		"entity":     evt.Entity,
		"entity_id":  evt.EntityID,
		"before":     evt.Before,
		"after":      evt.After,
		"recipients": evt.Recipients,
	}).Info("notification")
	return nil
}
