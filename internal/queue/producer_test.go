package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/progress"
)

var _ progress.Publisher = (*Outbox)(nil)

type published struct {
	queue string
	id    string
	data  any
}

// fakePublisher captures PublishJSON calls
type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	err   error
	block chan struct{}
	sent  chan struct{}
}

func (f *fakePublisher) PublishJSON(ctx context.Context, queue string, messageID string, data any) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, published{queue: queue, id: messageID, data: data})
	f.mu.Unlock()
	if f.sent != nil {
		f.sent <- struct{}{}
	}
	return f.err
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestProducer_PublishEvent(t *testing.T) {
	pub := &fakePublisher{}
	p := NewProducer(pub)

	ev := domain.ProgressEvent{Type: domain.EventHintRevealed, AssignmentID: "ch01-01"}
	if err := p.PublishEvent(context.Background(), ev); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	if pub.count() != 1 {
		t.Fatalf("published %d messages; want 1", pub.count())
	}
	msg := pub.msgs[0]
	if msg.queue != ProgressQueueName {
		t.Errorf("queue = %q; want %q", msg.queue, ProgressQueueName)
	}
	sent := msg.data.(domain.ProgressEvent)
	if sent.ID == uuid.Nil || sent.OccurredAt.IsZero() {
		t.Errorf("event defaults not filled: %+v", sent)
	}
	if msg.id != sent.ID.String() {
		t.Errorf("message id = %q; want %q", msg.id, sent.ID)
	}
}

func TestProducer_PublishEventError(t *testing.T) {
	wantErr := errors.New("channel closed")
	p := NewProducer(&fakePublisher{err: wantErr})

	err := p.PublishEvent(context.Background(), domain.NewProgressEvent(domain.EventStepMarked, "a", "e", "b"))
	if !errors.Is(err, wantErr) {
		t.Errorf("PublishEvent() error = %v; want %v", err, wantErr)
	}
}

func TestOutbox_RunPublishesAndFlushes(t *testing.T) {
	pub := &fakePublisher{}
	o := NewOutbox(NewProducer(pub), OutboxConfig{Size: 8})

	for i := 0; i < 3; i++ {
		o.Publish(domain.NewProgressEvent(domain.EventTimeAccrued, "ch01-01", "ex1", ""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pub.count() != 3 {
		t.Errorf("published %d events; want 3", pub.count())
	}
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	pub := &fakePublisher{}
	o := NewOutbox(NewProducer(pub), OutboxConfig{Size: 1})

	o.Publish(domain.NewProgressEvent(domain.EventStepMarked, "ch01-01", "ex1", "s1"))
	o.Publish(domain.NewProgressEvent(domain.EventStepMarked, "ch01-01", "ex1", "s2"))

	if o.Dropped() != 1 {
		t.Errorf("Dropped() = %d; want 1", o.Dropped())
	}
}

func TestOutbox_PublishDoesNotBlockOnBroker(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{}), sent: make(chan struct{}, 4)}
	o := NewOutbox(NewProducer(pub), OutboxConfig{Size: 4, PublishTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	start := time.Now()
	o.Publish(domain.NewProgressEvent(domain.EventStepMarked, "ch01-01", "ex1", "s1"))
	o.Publish(domain.NewProgressEvent(domain.EventStepMarked, "ch01-01", "ex1", "s2"))
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Publish() blocked on a stalled broker")
	}

	close(pub.block)
	for i := 0; i < 2; i++ {
		select {
		case <-pub.sent:
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never published", i)
		}
	}
	cancel()
	<-done
}

func TestOutbox_AsTrackerPublisher(t *testing.T) {
	pub := &fakePublisher{}
	o := NewOutbox(NewProducer(pub), OutboxConfig{})

	tracker := progress.NewTracker(newMemStore(), progress.TrackerConfig{LearnerID: "learner-1", Events: o})
	if _, err := tracker.StartAssignment(context.Background(), "ch01-01"); err != nil {
		t.Fatalf("StartAssignment() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o.Run(ctx)

	if pub.count() == 0 {
		t.Fatal("tracker event was not published")
	}
	ev := pub.msgs[0].data.(domain.ProgressEvent)
	if ev.Type != domain.EventAssignmentStarted || ev.LearnerID != "learner-1" {
		t.Errorf("published event = %+v", ev)
	}
}

// memStore is an in-memory progress.RecordStore
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memStore) Put(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = data
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *memStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}
