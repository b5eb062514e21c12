// Package stream mirrors persisted user events to a Kafka/Redpanda topic for
// downstream consumers (analytics, model training). The mirror is strictly
// best-effort: the event store's KV persistence is the source of truth and a
// broker outage never fails a flush.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/retail-reco/internal/domain"
	obsctx "github.com/fairyhunter13/retail-reco/internal/observability"
)

// Producer implements domain.EventSink over a franz-go client.
type Producer struct {
	client *kgo.Client
	topic  string
}

// NewProducer connects to the brokers, ensures the topic exists and returns
// the sink.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("stream producer: no seed brokers")
	}
	tracer := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(tracer.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("stream producer: client: %w", err)
	}
	if err := ensureTopic(ctx, client, topic, 1, 1); err != nil {
		// The topic may be managed externally; produce attempts will tell.
		slog.Warn("event stream topic ensure failed",
			slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: topic}, nil
}

// Publish produces the batch fire-and-forget. Records are keyed by user id so
// a user's events stay ordered within a partition; a shared batch id header
// lets consumers regroup one flush.
func (p *Producer) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	batchID := uuid.New().String()
	lg := obsctx.LoggerFromContext(ctx)
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("stream publish: marshal %s: %w", ev.ID, err)
		}
		record := &kgo.Record{
			Topic: p.topic,
			Key:   []byte(ev.UserID),
			Value: raw,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(ev.ID)},
				{Key: "batch_id", Value: []byte(batchID)},
			},
		}
		p.client.Produce(ctx, record, func(r *kgo.Record, perr error) {
			if perr != nil {
				lg.Debug("event stream produce failed",
					slog.String("topic", r.Topic), slog.Any("error", perr))
			}
		})
	}
	return nil
}

// Close flushes outstanding records and releases the client.
func (p *Producer) Close() {
	if p.client != nil {
		_ = p.client.Flush(context.Background())
		p.client.Close()
	}
}
