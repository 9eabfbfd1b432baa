package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/resume-matcher/internal/domain"
)

// DeadLetterProducer publishes jobs that exhausted their retries to a Kafka
// topic for offline inspection. A nil producer disables dead-lettering.
type DeadLetterProducer struct {
	client *kgo.Client
	topic  string
}

// deadLetterRecord is the wire shape of one dead-lettered job.
type deadLetterRecord struct {
	JobID      string                 `json:"job_id"`
	Priority   string                 `json:"priority"`
	RetryCount int                    `json:"retry_count"`
	FailedStep string                 `json:"failed_step"`
	Error      string                 `json:"error"`
	Data       domain.ApplicationData `json:"data"`
	FailedAt   time.Time              `json:"failed_at"`
}

// NewDeadLetterProducer connects a producer to the given brokers and topic.
func NewDeadLetterProducer(brokers []string, topic string) (*DeadLetterProducer, error) {
	tracer := kotel.NewTracer()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.NewDeadLetterProducer: %w", err)
	}
	return &DeadLetterProducer{client: client, topic: topic}, nil
}

// Publish sends the job synchronously so the caller knows the record landed
// before dropping its in-memory state.
func (p *DeadLetterProducer) Publish(ctx domain.Context, job domain.Job) error {
	rec := deadLetterRecord{
		JobID:      job.ID,
		Priority:   job.Priority.String(),
		RetryCount: job.RetryCount,
		FailedStep: job.FailedStep,
		Error:      job.Error,
		Data:       job.Data,
		FailedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=deadletter.Publish: %w", err)
	}
	r := &kgo.Record{Topic: p.topic, Key: []byte(job.ID), Value: value}
	if err := p.client.ProduceSync(ctx, r).FirstErr(); err != nil {
		return fmt.Errorf("op=deadletter.Publish: %w: %v", domain.ErrUpstream, err)
	}
	slog.Info("job dead-lettered", slog.String("job_id", job.ID), slog.String("topic", p.topic))
	return nil
}

// Close flushes and releases the producer.
func (p *DeadLetterProducer) Close() {
	p.client.Close()
}
