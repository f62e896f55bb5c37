package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskStartedEvent{
		ID:        "E01:video",
		Episode:   "1",
		Kind:      "video",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "E01:video" {
			t.Errorf("expected task ID 'E01:video', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies every subscriber receives the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskCompletedEvent{
		ID:        "E02:audio",
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "E02:audio" {
				t.Errorf("subscriber %d: expected 'E02:audio', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies a full subscriber does not stall the publisher.
func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskOutputEvent{
				ID:        "E01:video",
				Lines:     []string{"frame"},
				Timestamp: time.Now(),
			})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies Close closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}

	late := bus.SubscribeAll(1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

// TestPublishAfterClose verifies publishing after close is a no-op.
func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 10)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()
	bus.Publish(TopicTask, TaskStoppedEvent{ID: "E01:video", Timestamp: time.Now()})

	if _, ok := <-ch; ok {
		t.Error("received event after bus was closed")
	}
}

// TestTopicIsolation verifies task subscribers do not see graph events.
func TestTopicIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	graphCh := bus.Subscribe(TopicGraph, 10)

	bus.Publish(TopicTask, TaskPausedEvent{ID: "E01:video", Timestamp: time.Now()})
	bus.Publish(TopicGraph, GraphProgressEvent{Total: 10, Completed: 5, Running: 1, Paused: 1, Pending: 3, Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskPaused {
			t.Errorf("task channel: expected paused event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-graphCh:
		if received.EventType() != EventTypeGraphProgress {
			t.Errorf("graph channel: expected progress event, got %s", received.EventType())
		}
		if received.TaskID() != "" {
			t.Errorf("graph events have no task ID, got %q", received.TaskID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("graph channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-graphCh:
		t.Error("graph channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

// TestSubscribeAll verifies an all-topic subscriber sees both topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TopicTask, TaskResumedEvent{ID: "E01:video", Timestamp: time.Now()})
	bus.Publish(TopicGraph, GraphProgressEvent{Total: 3, Timestamp: time.Now()})

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			seen[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
	if !seen[EventTypeTaskResumed] || !seen[EventTypeGraphProgress] {
		t.Errorf("SubscribeAll missed an event: %v", seen)
	}
}

// TestUnsubscribe verifies an unsubscribed channel is closed and skipped.
func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	keep := bus.Subscribe(TopicTask, 10)
	drop := bus.Subscribe(TopicTask, 10)
	all := bus.SubscribeAll(10)

	bus.Unsubscribe(drop)
	bus.Unsubscribe(all)
	bus.Unsubscribe(drop)

	if _, ok := <-drop; ok {
		t.Error("unsubscribed channel should be closed")
	}
	if _, ok := <-all; ok {
		t.Error("unsubscribed all-topic channel should be closed")
	}

	bus.Publish(TopicTask, TaskFailedEvent{ID: "E01:merge", ExitCode: 1, Timestamp: time.Now()})

	select {
	case received := <-keep:
		if received.EventType() != EventTypeTaskFailed {
			t.Errorf("expected failed event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("remaining subscriber missed the event")
	}
}
