package events

import (
	"testing"
	"time"
)

func TestSubscribe_ReceivesMatchingEvents(t *testing.T) {
	b := NewBus(nil)

	ch, cancel := b.Subscribe(TypePhrasesChanged)
	defer cancel()

	b.Publish(Event{Type: TypePhrasesChanged})
	b.Publish(Event{Type: TypeSyncCompleted}) // filtered out

	select {
	case evt := <-ch:
		if evt.Type != TypePhrasesChanged {
			t.Errorf("Type = %q, want %q", evt.Type, TypePhrasesChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Publish() did not stamp a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	select {
	case evt := <-ch:
		t.Errorf("received filtered event %q", evt.Type)
	default:
	}
}

func TestSubscribe_AllTypesWhenUnfiltered(t *testing.T) {
	b := NewBus(nil)

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: TypeSpeakRequested})
	b.Publish(Event{Type: TypeEmergencyActivated})

	for _, want := range []Type{TypeSpeakRequested, TypeEmergencyActivated} {
		select {
		case evt := <-ch:
			if evt.Type != want {
				t.Errorf("Type = %q, want %q", evt.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %q event", want)
		}
	}
}

func TestPublish_EachSubscriberSeesEventOnce(t *testing.T) {
	b := NewBus(nil)

	ch1, cancel1 := b.Subscribe(TypeSyncCompleted)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(TypeSyncCompleted)
	defer cancel2()

	b.Publish(Event{Type: TypeSyncCompleted})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d missed the event", i+1)
		}
		select {
		case <-ch:
			t.Errorf("subscriber %d received a duplicate", i+1)
		default:
		}
	}
}

func TestCancel_StopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBus(nil)

	ch, cancel := b.Subscribe(TypePhrasesChanged)
	cancel()

	b.Publish(Event{Type: TypePhrasesChanged})

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Second cancel is a no-op, not a panic.
	cancel()
}

func TestPublish_FullBufferDropsForThatSubscriberOnly(t *testing.T) {
	b := NewBus(nil)

	slow, cancelSlow := b.Subscribe(TypePhrasesChanged)
	defer cancelSlow()

	// Fill the slow subscriber's buffer without draining.
	for i := 0; i < 40; i++ {
		b.Publish(Event{Type: TypePhrasesChanged})
	}

	fresh, cancelFresh := b.Subscribe(TypePhrasesChanged)
	defer cancelFresh()

	b.Publish(Event{Type: TypePhrasesChanged})

	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber starved by a full one")
	}

	// Slow subscriber still holds its buffered 32.
	drained := 0
	for {
		select {
		case <-slow:
			drained++
			continue
		default:
		}
		break
	}
	if drained != 32 {
		t.Errorf("slow subscriber buffered %d events, want 32", drained)
	}
}
