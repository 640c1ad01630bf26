package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		prefix, name string
		want         bool
	}{
		{"", "message.group.normal", true},
		{"message", "message.group.normal", true},
		{"message.group", "message.group.normal", true},
		{"message.group.normal", "message.group.normal", true},
		{"message.gr", "message.group.normal", false},
		{"notice", "message.group.normal", false},
	}
	for _, tt := range tests {
		if got := Match(tt.prefix, tt.name); got != tt.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestEmitRunsMatchingHandlersInOrder(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	var got []string
	mb.RegisterHandler("message", func(_ context.Context, e Event) error {
		got = append(got, "message:"+e.Name)
		return nil
	})
	mb.RegisterHandler("notice", func(context.Context, Event) error {
		got = append(got, "notice")
		return nil
	})
	mb.RegisterHandler("message.group", func(context.Context, Event) error {
		got = append(got, "group")
		return nil
	})

	if err := mb.Emit(context.Background(), Event{Name: "message.group.normal"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if len(got) != 2 || got[0] != "message:message.group.normal" || got[1] != "group" {
		t.Fatalf("handlers = %v", got)
	}
}

func TestEmitJoinsHandlerErrors(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	wantErr := errors.New("boom")
	called := false
	mb.RegisterHandler("", func(context.Context, Event) error { return wantErr })
	mb.RegisterHandler("", func(context.Context, Event) error {
		called = true
		return nil
	})

	err := mb.Emit(context.Background(), Event{Name: "notice.group.increase"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if !called {
		t.Fatal("second handler was not called")
	}
}

func TestEmitAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if err := mb.Emit(context.Background(), Event{Name: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("error = %v, want %v", err, ErrClosed)
	}
	if ok := mb.PublishEvent(context.Background(), Event{Name: "x"}); ok {
		t.Fatal("expected publish to fail after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Name: "message.private.friend", AccountID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, ch := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-ch:
			if got.Name != event.Name {
				t.Fatalf("event name = %q, want %q", got.Name, event.Name)
			}
			if got.At.IsZero() {
				t.Fatal("event time not stamped")
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSubscribeFiltersByPrefix(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 4, "forum", "notice.group")
	defer unsubscribe()

	mb.PublishEvent(ctx, Event{Name: "message.group.normal"})
	mb.PublishEvent(ctx, Event{Name: "notice.friend.receive_open"})
	mb.PublishEvent(ctx, Event{Name: "forum.post.create"})

	select {
	case got := <-events:
		if got.Name != "forum.post.create" {
			t.Fatalf("event name = %q, want forum.post.create", got.Name)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected forum event")
	}
	select {
	case got := <-events:
		t.Fatalf("unexpected event %q", got.Name)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Name: "a"}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Name: "b"}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Name: "a"}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	ctx := context.Background()
	events, _ := mb.SubscribeEvents(ctx, 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}
