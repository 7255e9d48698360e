package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPriorityOrdering(t *testing.T) {
	b := New()

	goal := New(TypeGoalPursuit, nil, PriorityGoalDriven, "goal")
	goal.CreatedAt = time.Unix(1, 0)
	user := New(TypeChat, nil, PriorityUserDirect, "chat")
	user.CreatedAt = time.Unix(2, 0)
	sched := New(TypeScheduled, nil, PriorityScheduled, "scheduler")
	sched.CreatedAt = time.Unix(3, 0)

	b.Put(goal)
	b.Put(user)
	b.Put(sched)

	ctx := context.Background()
	first, _ := b.Get(ctx)
	second, _ := b.Get(ctx)
	third, _ := b.Get(ctx)

	if first.SourceChannel != "chat" {
		t.Fatalf("expected user event first, got %s", first.SourceChannel)
	}
	if second.SourceChannel != "scheduler" {
		t.Fatalf("expected scheduled event second, got %s", second.SourceChannel)
	}
	if third.SourceChannel != "goal" {
		t.Fatalf("expected goal event third, got %s", third.SourceChannel)
	}
}

func TestSamePriorityFIFOByCreatedAt(t *testing.T) {
	b := New()

	e1 := New(TypeChat, nil, PriorityUserDirect, "chat")
	e1.CreatedAt = time.Unix(10, 0)
	e2 := New(TypeChat, nil, PriorityUserDirect, "chat")
	e2.CreatedAt = time.Unix(20, 0)

	b.Put(e2)
	b.Put(e1)

	ctx := context.Background()
	first, _ := b.Get(ctx)
	second, _ := b.Get(ctx)

	if first.ID != e1.ID {
		t.Fatalf("expected earlier-created event first")
	}
	if second.ID != e2.ID {
		t.Fatalf("expected later-created event second")
	}
}

func TestGetBlocksUntilPut(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *Event, 1)
	go func() {
		e, err := b.Get(ctx)
		if err == nil {
			done <- e
		}
	}()

	time.Sleep(50 * time.Millisecond)
	ev := New(TypeChat, nil, PriorityUserDirect, "chat")
	b.Put(ev)

	select {
	case got := <-done:
		if got.ID != ev.ID {
			t.Fatalf("got wrong event")
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after Put")
	}
}

func TestEmptyAndQsize(t *testing.T) {
	b := New()
	if !b.Empty() {
		t.Fatal("expected empty bus")
	}
	b.Put(New(TypeChat, nil, PriorityUserDirect, "chat"))
	if b.Empty() {
		t.Fatal("expected non-empty bus")
	}
	if b.Qsize() != 1 {
		t.Fatalf("expected qsize 1, got %d", b.Qsize())
	}
}
