package eventbus

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := New(4)
	r1 := bus.Subscribe()
	r2 := bus.Subscribe()

	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "hello"})

	for _, r := range []Receiver{r1, r2} {
		select {
		case ev := <-r.Events():
			if ev.Message != "hello" {
				t.Fatalf("got %q", ev.Message)
			}
		default:
			t.Fatal("expected event to be delivered")
		}
	}
}

func TestBus_SubscribeDoesNotReplayPastEvents(t *testing.T) {
	bus := New(4)
	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "before"})

	r := bus.Subscribe()
	select {
	case ev := <-r.Events():
		t.Fatalf("unexpected replayed event: %+v", ev)
	default:
	}
}

func TestBus_SlowSubscriberDropsOldestAndFlagsLagged(t *testing.T) {
	bus := New(2)
	r := bus.Subscribe()

	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "1"})
	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "2"})
	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "3"})

	if !r.Lagged() {
		t.Fatal("expected subscriber to be flagged lagged")
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", r.Dropped())
	}

	first := <-r.Events()
	second := <-r.Events()
	if first.Message != "2" || second.Message != "3" {
		t.Fatalf("expected oldest event dropped, got %q then %q", first.Message, second.Message)
	}
}

func TestBus_PublisherNeverBlocksOnUnreadSubscriber(t *testing.T) {
	bus := New(1)
	bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(models.AgentEvent{Type: models.EventProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done
}

func TestBus_CloseUnsubscribesAndClosesChannel(t *testing.T) {
	bus := New(4)
	r := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	r.Close()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close")
	}
	r.Close() // idempotent

	if _, ok := <-r.Events(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestBus_SequenceIsMonotonicPerPublisher(t *testing.T) {
	bus := New(8)
	r := bus.Subscribe()

	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "a"})
	bus.Publish(models.AgentEvent{Type: models.EventProgress, Message: "b"})

	first := <-r.Events()
	second := <-r.Events()
	if second.Sequence <= first.Sequence {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}
}
