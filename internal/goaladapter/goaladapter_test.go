package goaladapter

import (
	"context"
	"testing"
	"time"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/testutil"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

func setupTestAdapter(t *testing.T, cfg Config) (*Adapter, *asm.ASM) {
	t.Helper()
	embed := testutil.NewFakeEmbedder(32)
	store, err := vkg.Open(t.TempDir(), embed)
	if err != nil {
		t.Fatalf("vkg.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	llm := &testutil.FakeLLM{}
	a := asm.New(store, extract.NewAdapter(llm), llm, asm.Config{OwnerName: "Sophia"})
	return New(a, "Sophia", cfg), a
}

func TestDisabledReturnsNil(t *testing.T) {
	g, _ := setupTestAdapter(t, Config{Enabled: false})
	ctx := context.Background()
	event, err := g.NextGoalEvent(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Fatal("expected nil event when disabled")
	}
}

func TestNoGoalsReturnsNil(t *testing.T) {
	g, _ := setupTestAdapter(t, Config{Enabled: true, CooldownSeconds: 0})
	ctx := context.Background()
	event, err := g.NextGoalEvent(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Fatal("expected nil event with no goals present")
	}
}

func TestDeterministicSessionID(t *testing.T) {
	a := deterministicSessionID("finish the report")
	b := deterministicSessionID("finish the report")
	c := deterministicSessionID("something else")
	if a != b {
		t.Fatal("expected deterministic session id for same description")
	}
	if a == c {
		t.Fatal("expected different session ids for different descriptions")
	}
	if a[:5] != "goal_" || len(a) != 15 {
		t.Fatalf("expected 'goal_' + 10 hex chars, got %q", a)
	}
}

func TestEmitsGoalPursuitEventWhenGoalPresent(t *testing.T) {
	g, a := setupTestAdapter(t, Config{Enabled: true, CooldownSeconds: 0})
	ctx := context.Background()

	if _, err := a.CreateGoal(ctx, "Sophia", "Learn to juggle", asm.CreateGoalOptions{Priority: 3}); err != nil {
		t.Fatalf("CreateGoal failed: %v", err)
	}

	event, err := g.NextGoalEvent(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event == nil {
		t.Fatal("expected a goal pursuit event")
	}
	if event.EventType != "goal_pursuit" {
		t.Fatalf("expected goal_pursuit type, got %s", event.EventType)
	}
	if event.Priority != 50 {
		t.Fatalf("expected goal-driven priority 50, got %d", event.Priority)
	}
}

func TestResetConsecutive(t *testing.T) {
	g, _ := setupTestAdapter(t, Config{Enabled: true})
	g.consecutiveCount = 5
	g.ResetConsecutive()
	if g.consecutiveCount != 0 {
		t.Fatalf("expected counter reset to 0, got %d", g.consecutiveCount)
	}
}

func TestSleepRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleep(ctx, 5*time.Second); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
