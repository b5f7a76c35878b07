package events

import (
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/task"
)

// TestSubscribeReceivesTopicEvents verifies topic routing.
func TestSubscribeReceivesTopicEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 8)
	runCh := bus.Subscribe(TopicRun, 8)

	bus.Publish(TopicTask, TaskTransitionedEvent{
		ID: "t1", From: task.StatusPending, To: task.StatusInProgress, Timestamp: time.Now(),
	})

	select {
	case ev := <-taskCh:
		if ev.TaskID() != "t1" || ev.EventType() != EventTypeTaskTransitioned {
			t.Errorf("unexpected event: %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber did not receive event")
	}

	select {
	case ev := <-runCh:
		t.Errorf("run subscriber received %v from task topic", ev)
	default:
	}
}

// TestSubscribeAllReceivesEveryTopic verifies the cross-topic firehose.
func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)
	bus.Publish(TopicRun, RunStartedEvent{RunID: "r1", ID: "t1", Timestamp: time.Now()})
	bus.Publish(TopicSync, SyncCompletedEvent{Imported: 2, Timestamp: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("all-topic subscriber received only %d of 2 events", i)
		}
	}
}

// TestPublishDropsWhenFull verifies publishing never blocks.
func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskTransitionedEvent{ID: "t1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	if len(ch) != 1 {
		t.Errorf("channel holds %d events, want 1 retained", len(ch))
	}
}

// TestCloseIdempotent verifies Close can be called twice and closes
// subscriber channels.
func TestCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 1)

	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("subscriber channel should be closed")
	}

	// Publishing and subscribing after close must not panic.
	bus.Publish(TopicTask, TaskTransitionedEvent{ID: "t1"})
	if _, open := <-bus.Subscribe(TopicTask, 1); open {
		t.Error("post-close subscription should be a closed channel")
	}
}
