package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/emberworks/ember/internal/bus"
	"github.com/emberworks/ember/internal/store"
)

func TestExecute_PanicResolvesErrBranch(t *testing.T) {
	l, _, b := newTestLoop(t, Config{})
	failed := b.Subscribe(bus.TopicTaskFailed)
	defer b.Unsubscribe(failed)

	id := "panic-unit"
	resp := l.execute(Task{
		ID:   id,
		Kind: KindLoadOverview,
		Run:  func(context.Context) Event { panic("boom") },
		Fail: func(err error) Event { return OverviewLoaded{Err: failureFrom(err), RequestID: id} },
	})

	loaded, ok := resp.(OverviewLoaded)
	if !ok {
		t.Fatalf("response = %#v, want OverviewLoaded", resp)
	}
	if loaded.Err == nil {
		t.Fatal("expected the Err branch after a panic")
	}
	if !strings.Contains(loaded.Err.Message, "task unit panicked") || !strings.Contains(loaded.Err.Message, "boom") {
		t.Errorf("failure message = %q, want the recovered panic", loaded.Err.Message)
	}
	if loaded.Err.Kind != store.KindStorage {
		t.Errorf("failure kind = %v, want %v", loaded.Err.Kind, store.KindStorage)
	}
	if loaded.RequestID != id {
		t.Errorf("request id = %q, want %q", loaded.RequestID, id)
	}

	select {
	case ev := <-failed.Ch():
		evt, isLifecycle := ev.Payload.(bus.TaskLifecycleEvent)
		if !isLifecycle {
			t.Fatalf("unexpected payload %#v", ev.Payload)
		}
		if !evt.Panicked {
			t.Error("lifecycle event must mark the panic")
		}
		if evt.RequestID != id || evt.Kind != KindLoadOverview {
			t.Errorf("lifecycle event = %#v", evt)
		}
	default:
		t.Error("expected a task.failed event")
	}
}

func TestExecute_SuccessPublishesCompleted(t *testing.T) {
	l, _, b := newTestLoop(t, Config{})
	completed := b.Subscribe(bus.TopicTaskCompleted)
	defer b.Unsubscribe(completed)

	id := "ok-unit"
	resp := l.execute(Task{
		ID:   id,
		Kind: KindListTags,
		Run: func(ctx context.Context) Event {
			tags, err := l.store.ListTags(ctx)
			if err != nil {
				return TagsListed{Err: failureFrom(err), RequestID: id}
			}
			return TagsListed{Tags: tags, RequestID: id}
		},
		Fail: func(err error) Event { return TagsListed{Err: failureFrom(err), RequestID: id} },
	})

	listed, ok := resp.(TagsListed)
	if !ok {
		t.Fatalf("response = %#v, want TagsListed", resp)
	}
	if listed.Err != nil {
		t.Fatalf("unexpected failure: %v", listed.Err)
	}

	select {
	case ev := <-completed.Ch():
		evt, isLifecycle := ev.Payload.(bus.TaskLifecycleEvent)
		if !isLifecycle {
			t.Fatalf("unexpected payload %#v", ev.Payload)
		}
		if evt.RequestID != id || evt.Kind != KindListTags || evt.Err != "" || evt.Panicked {
			t.Errorf("lifecycle event = %#v", evt)
		}
	default:
		t.Error("expected a task.completed event")
	}
}

func TestExecute_StoreFailurePublishesFailed(t *testing.T) {
	l, st, b := newTestLoop(t, Config{})
	failed := b.Subscribe(bus.TopicTaskFailed)
	defer b.Unsubscribe(failed)

	// Closing the store makes every query fail at the driver.
	if err := st.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	id := "fail-unit"
	resp := l.execute(Task{
		ID:   id,
		Kind: KindLoadOverview,
		Run: func(ctx context.Context) Event {
			rows, err := l.store.Overview(ctx)
			if err != nil {
				return OverviewLoaded{Err: failureFrom(err), RequestID: id}
			}
			return OverviewLoaded{Overview: rows, RequestID: id}
		},
		Fail: func(err error) Event { return OverviewLoaded{Err: failureFrom(err), RequestID: id} },
	})

	loaded, ok := resp.(OverviewLoaded)
	if !ok {
		t.Fatalf("response = %#v, want OverviewLoaded", resp)
	}
	if loaded.Err == nil {
		t.Fatal("expected the Err branch from a closed store")
	}
	if loaded.Err.Kind != store.KindStorage {
		t.Errorf("failure kind = %v, want %v", loaded.Err.Kind, store.KindStorage)
	}

	select {
	case ev := <-failed.Ch():
		evt := ev.Payload.(bus.TaskLifecycleEvent)
		if evt.Panicked {
			t.Error("a returned error is not a panic")
		}
		if evt.Err == "" {
			t.Error("lifecycle event must carry the failure message")
		}
	default:
		t.Error("expected a task.failed event")
	}
}

func TestFailureFrom_MarksQueuePressureTransient(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      store.Kind
		transient bool
	}{
		{"saturation", ErrQueueSaturated, store.KindStorage, true},
		{"shutdown", ErrShuttingDown, store.KindStorage, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := failureFrom(tc.err)
			if f.Kind != tc.kind {
				t.Errorf("kind = %v, want %v", f.Kind, tc.kind)
			}
			if f.Transient != tc.transient {
				t.Errorf("transient = %v, want %v", f.Transient, tc.transient)
			}
			if f.Message == "" {
				t.Error("message must not be empty")
			}
		})
	}
}
