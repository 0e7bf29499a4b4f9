package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/academyhq/academy/internal/domain"
)

// fakeAcknowledger records how a delivery was settled
type fakeAcknowledger struct {
	mu       sync.Mutex
	acked    bool
	nacked   bool
	rejected bool
	requeue  bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = true
	f.requeue = requeue
	return nil
}

func delivery(t *testing.T, body []byte, redelivered bool) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	ack := &fakeAcknowledger{}
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		Redelivered:  redelivered,
		Body:         body,
	}, ack
}

func eventBody(t *testing.T) (domain.ProgressEvent, []byte) {
	t.Helper()
	ev := domain.NewProgressEvent(domain.EventStepMarked, "ch01-01", "ex1", "s1")
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return ev, body
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{})
	def := DefaultConsumerConfig()

	if c.workers != def.Workers {
		t.Errorf("workers = %d; want %d", c.workers, def.Workers)
	}
	if c.prefetch != def.Prefetch {
		t.Errorf("prefetch = %d; want %d", c.prefetch, def.Prefetch)
	}
	if c.timeout != def.HandlerTimeout {
		t.Errorf("timeout = %v; want %v", c.timeout, def.HandlerTimeout)
	}
}

func TestNewConsumer_PreservesCustomConfig(t *testing.T) {
	c := NewConsumer(nil, nil, ConsumerConfig{Workers: 10, Prefetch: 5, HandlerTimeout: time.Second})

	if c.workers != 10 || c.prefetch != 5 || c.timeout != time.Second {
		t.Errorf("consumer = workers %d, prefetch %d, timeout %v", c.workers, c.prefetch, c.timeout)
	}
}

func TestConsumer_ProcessMessage(t *testing.T) {
	handlerErr := errors.New("journal unavailable")

	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		handlerErr  error
		wantAck     bool
		wantNack    bool
		wantReject  bool
		wantRequeue bool
		wantHandled bool
	}{
		{name: "handled", wantAck: true, wantHandled: true},
		{name: "handler error requeues first delivery", handlerErr: handlerErr, wantNack: true, wantRequeue: true, wantHandled: true},
		{name: "handler error drops redelivery", redelivered: true, handlerErr: handlerErr, wantNack: true, wantHandled: true},
		{name: "malformed body rejected", body: []byte("{not json"), wantReject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent, body := eventBody(t)
			if tt.body != nil {
				body = tt.body
			}

			var got domain.ProgressEvent
			handled := false
			c := NewConsumer(nil, func(ctx context.Context, ev domain.ProgressEvent) error {
				if _, ok := ctx.Deadline(); !ok {
					t.Error("handler context has no deadline")
				}
				handled = true
				got = ev
				return tt.handlerErr
			}, ConsumerConfig{})

			msg, ack := delivery(t, body, tt.redelivered)
			c.processMessage(context.Background(), 0, msg)

			if handled != tt.wantHandled {
				t.Fatalf("handled = %v; want %v", handled, tt.wantHandled)
			}
			if tt.wantHandled && got.ID != sent.ID {
				t.Errorf("handler got event %s; want %s", got.ID, sent.ID)
			}
			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.rejected != tt.wantReject {
				t.Errorf("settled ack=%v nack=%v reject=%v; want ack=%v nack=%v reject=%v",
					ack.acked, ack.nacked, ack.rejected, tt.wantAck, tt.wantNack, tt.wantReject)
			}
			if ack.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v; want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestConsumer_Stop_NilCancelFunc(t *testing.T) {
	c := &Consumer{}
	c.Stop()
}
