// Package events publishes pipeline state transitions for observers
// outside the request path.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/igorsilveira/deckhand/pkg/config"
	"github.com/igorsilveira/deckhand/pkg/telemetry"
)

type Event struct {
	RunID  string    `json:"run_id"`
	Topic  string    `json:"topic,omitempty"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Kind   string    `json:"kind,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Sink receives events. Publish must not block the pipeline for long;
// a failed publish is logged by the caller and otherwise ignored.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

func New(cfg config.EventsConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogSink(logger), nil
	case "kafka":
		s, err := NewKafkaSink(cfg.Brokers, cfg.Topic, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("events: unknown driver %q", cfg.Driver)
	}
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: telemetry.Component(logger, "events")}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	attrs := []any{
		slog.String("run_id", ev.RunID),
		slog.String("from", ev.From),
		slog.String("to", ev.To),
	}
	if ev.Kind != "" {
		attrs = append(attrs, slog.String("kind", ev.Kind), slog.String("reason", ev.Reason))
	}
	s.logger.InfoContext(ctx, "pipeline transition", attrs...)
	telemetry.Metrics.EventsPublished.WithLabelValues("log", "ok").Inc()
	return nil
}

func (s *LogSink) Close() error { return nil }

type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForRun returns the events of one run in publish order.
func (r *Recorder) ForRun(runID string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}
