package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/academyhq/academy/internal/domain"
)

// JSONPublisher publishes JSON bodies to a named queue
type JSONPublisher interface {
	PublishJSON(ctx context.Context, queue string, messageID string, data any) error
}

var _ JSONPublisher = (*Connection)(nil)

// Producer publishes progress events to the progress queue
type Producer struct {
	pub JSONPublisher
}

// NewProducer creates a new queue producer
func NewProducer(pub JSONPublisher) *Producer {
	return &Producer{pub: pub}
}

// PublishEvent publishes a single progress event
func (p *Producer) PublishEvent(ctx context.Context, ev domain.ProgressEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	if err := p.pub.PublishJSON(ctx, ProgressQueueName, ev.ID.String(), ev); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}

	slog.Debug("published progress event",
		"event_id", ev.ID,
		"type", ev.Type,
		"assignment_id", ev.AssignmentID,
	)
	return nil
}

// OutboxConfig configures an Outbox
type OutboxConfig struct {
	// Size is the number of events buffered before new ones are dropped
	Size int
	// PublishTimeout bounds each broker publish
	PublishTimeout time.Duration
}

// Outbox buffers tracker events and publishes them from a single goroutine,
// so a slow broker never blocks a progress mutation.
type Outbox struct {
	producer *Producer
	events   chan domain.ProgressEvent
	timeout  time.Duration
	dropped  atomic.Int64
}

// NewOutbox creates an outbox in front of producer
func NewOutbox(producer *Producer, cfg OutboxConfig) *Outbox {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Outbox{
		producer: producer,
		events:   make(chan domain.ProgressEvent, cfg.Size),
		timeout:  cfg.PublishTimeout,
	}
}

// Publish enqueues an event without blocking
func (o *Outbox) Publish(ev domain.ProgressEvent) {
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
		slog.Warn("progress outbox full, dropping event",
			"event_id", ev.ID,
			"type", ev.Type,
		)
	}
}

// Dropped returns the number of events discarded because the buffer was full
func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Run publishes buffered events until ctx is cancelled, then flushes
// whatever is still queued.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.flush(context.WithoutCancel(ctx))
			return nil
		case ev := <-o.events:
			o.send(ctx, ev)
		}
	}
}

func (o *Outbox) flush(ctx context.Context) {
	for {
		select {
		case ev := <-o.events:
			o.send(ctx, ev)
		default:
			return
		}
	}
}

func (o *Outbox) send(ctx context.Context, ev domain.ProgressEvent) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.producer.PublishEvent(ctx, ev); err != nil {
		slog.Warn("failed to publish progress event",
			"event_id", ev.ID,
			"type", ev.Type,
			"error", err,
		)
	}
}
