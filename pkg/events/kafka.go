package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/igorsilveira/deckhand/pkg/telemetry"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces events to a Kafka or Redpanda topic, keyed by run id
// so one run's transitions stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka driver needs at least one broker")
	}
	if topic == "" {
		topic = "deckhand.pipeline"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("events: creating kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic, logger: telemetry.Component(logger, "events")}, nil
}

// Publish hands the record to the client and returns without waiting for
// the broker; delivery failures are logged and counted.
func (s *KafkaSink) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encoding event: %w", err)
	}
	rec := &kgo.Record{Key: []byte(ev.RunID), Value: value}
	s.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			telemetry.Metrics.EventsPublished.WithLabelValues("kafka", "error").Inc()
			s.logger.Warn("event delivery failed",
				slog.String("run_id", string(r.Key)),
				telemetry.Err(err),
			)
			return
		}
		telemetry.Metrics.EventsPublished.WithLabelValues("kafka", "ok").Inc()
	})
	return nil
}

// Close flushes buffered records before closing the client.
func (s *KafkaSink) Close() error {
	err := s.client.Flush(context.Background())
	s.client.Close()
	return err
}

// Tail consumes events from the topic, starting at the end, calling fn
// for each until ctx is done.
func Tail(ctx context.Context, brokers []string, topic string, fromStart bool, fn func(Event)) error {
	if len(brokers) == 0 {
		return errors.New("events: tail needs at least one broker")
	}
	offset := kgo.NewOffset().AtEnd()
	if fromStart {
		offset = kgo.NewOffset().AtStart()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
	)
	if err != nil {
		return fmt.Errorf("events: creating kafka consumer: %w", err)
	}
	defer client.Close()

	logger := telemetry.FromContext(ctx)
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Warn("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				telemetry.Err(err),
			)
		})
		fetches.EachRecord(func(r *kgo.Record) {
			var ev Event
			if err := json.Unmarshal(r.Value, &ev); err != nil {
				logger.Warn("skipping undecodable event", telemetry.Err(err))
				return
			}
			fn(ev)
		})
	}
}
