package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gigworks/api_credits/pkg/logging"
)

type capturedMessage struct {
	topic   string
	value   []byte
	headers map[string]string
}

// fakeProducer records published messages
type fakeProducer struct {
	messages chan capturedMessage
	err      error
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{messages: make(chan capturedMessage, 8)}
}

func (f *fakeProducer) ProduceMessage(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.messages <- capturedMessage{topic: topic, value: value, headers: headers}
	return nil
}

func TestPublishDeliversEventAsync(t *testing.T) {
	producer := newFakeProducer()
	p := NewPublisher(producer, logging.NewLogger())

	p.Publish(RoutingKeyBoost, EventBoostApplied, BoostEvent{
		EventType:  EventBoostApplied,
		BoostType:  "GIG",
		TargetID:   "gig-1",
		TargetType: "gig",
		Timestamp:  time.Now(),
	})

	select {
	case msg := <-producer.messages:
		if msg.topic != RoutingKeyBoost {
			t.Fatalf("expected topic %s, got %s", RoutingKeyBoost, msg.topic)
		}
		if msg.headers["event_type"] != EventBoostApplied {
			t.Fatalf("unexpected event_type header: %s", msg.headers["event_type"])
		}
		var event BoostEvent
		if err := json.Unmarshal(msg.value, &event); err != nil {
			t.Fatalf("failed to decode event payload: %v", err)
		}
		if event.TargetID != "gig-1" || event.BoostType != "GIG" {
			t.Fatalf("unexpected payload: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}

func TestPublishWithoutProducerIsNoOp(t *testing.T) {
	p := NewPublisher(nil, logging.NewLogger())

	// Must neither panic nor block
	p.Publish(RoutingKeyCredit, EventCreditsAwarded, CreditEvent{EventType: EventCreditsAwarded})
}

func TestPublishSwallowsProducerErrors(t *testing.T) {
	producer := newFakeProducer()
	producer.err = context.DeadlineExceeded
	p := NewPublisher(producer, logging.NewLogger())

	p.Publish(RoutingKeyCredit, EventCreditsPurchased, CreditEvent{EventType: EventCreditsPurchased})

	// The goroutine logs and drops the error; give it a moment to run.
	time.Sleep(50 * time.Millisecond)
}
