package asm

import (
	"context"
	"testing"

	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/testutil"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

func setupTestASM(t *testing.T) *ASM {
	t.Helper()
	embed := testutil.NewFakeEmbedder(32)
	store, err := vkg.Open(t.TempDir(), embed)
	if err != nil {
		t.Fatalf("vkg.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	llm := &testutil.FakeLLM{}
	extractor := extract.NewAdapter(llm)
	return New(store, extractor, llm, Config{OwnerName: "Sophia"})
}

func TestForeverGoalGuard(t *testing.T) {
	a := setupTestASM(t)
	ctx := context.Background()

	desc, err := a.CreateGoal(ctx, "Sophia", "Keep learning forever", CreateGoalOptions{Priority: 3, IsForeverGoal: true})
	if err != nil {
		t.Fatalf("CreateGoal failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		ok, err := a.UpdateGoal(ctx, "Sophia", desc, GoalUpdate{Status: vkg.GoalCompleted})
		if err != nil {
			t.Fatalf("UpdateGoal failed: %v", err)
		}
		if !ok {
			t.Fatal("expected UpdateGoal to succeed")
		}
	}

	rec, err := a.store.QueryGoalByDescription(ctx, desc, 0.9)
	if err != nil {
		t.Fatalf("QueryGoalByDescription failed: %v", err)
	}
	if rec.Meta.GoalStatus != vkg.GoalOngoing {
		t.Fatalf("expected status ongoing, got %s", rec.Meta.GoalStatus)
	}
	if rec.Meta.BlockerReason == "" {
		t.Fatal("expected blocker_reason to be set")
	}
}

func TestDependencyGuard(t *testing.T) {
	a := setupTestASM(t)
	ctx := context.Background()

	descA, err := a.CreateGoal(ctx, "Sophia", "Finish task A", CreateGoalOptions{Priority: 2})
	if err != nil {
		t.Fatalf("CreateGoal A failed: %v", err)
	}
	descB, err := a.CreateGoal(ctx, "Sophia", "Finish task B", CreateGoalOptions{Priority: 2, DependsOn: []string{descA}})
	if err != nil {
		t.Fatalf("CreateGoal B failed: %v", err)
	}

	ok, err := a.UpdateGoal(ctx, "Sophia", descB, GoalUpdate{Status: vkg.GoalCompleted})
	if err != nil {
		t.Fatalf("UpdateGoal B failed: %v", err)
	}
	if !ok {
		t.Fatal("expected UpdateGoal to succeed (with guard coercion)")
	}

	recB, err := a.store.QueryGoalByDescription(ctx, descB, 0.9)
	if err != nil {
		t.Fatalf("QueryGoalByDescription B failed: %v", err)
	}
	if recB.Meta.GoalStatus != vkg.GoalBlocked {
		t.Fatalf("expected B blocked while A is pending, got %s", recB.Meta.GoalStatus)
	}

	if _, err := a.UpdateGoal(ctx, "Sophia", descA, GoalUpdate{Status: vkg.GoalCompleted}); err != nil {
		t.Fatalf("UpdateGoal A failed: %v", err)
	}

	ok, err = a.UpdateGoal(ctx, "Sophia", descB, GoalUpdate{Status: vkg.GoalCompleted})
	if err != nil {
		t.Fatalf("UpdateGoal B (retry) failed: %v", err)
	}
	if !ok {
		t.Fatal("expected UpdateGoal B retry to succeed")
	}
	recB2, err := a.store.QueryGoalByDescription(ctx, descB, 0.9)
	if err != nil {
		t.Fatalf("QueryGoalByDescription B retry failed: %v", err)
	}
	if recB2.Meta.GoalStatus != vkg.GoalCompleted {
		t.Fatalf("expected B completed after A finished, got %s", recB2.Meta.GoalStatus)
	}
}

func TestUpdateGoalMissingReturnsFalse(t *testing.T) {
	a := setupTestASM(t)
	ctx := context.Background()

	ok, err := a.UpdateGoal(ctx, "Sophia", "nonexistent goal", GoalUpdate{Status: vkg.GoalInProgress})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing goal")
	}
}

func TestJournalEntriesBoundedTo20(t *testing.T) {
	a := setupTestASM(t)
	ctx := context.Background()

	desc, err := a.CreateGoal(ctx, "Sophia", "Write a novel", CreateGoalOptions{Priority: 2})
	if err != nil {
		t.Fatalf("CreateGoal failed: %v", err)
	}

	rec, err := a.store.QueryGoalByDescription(ctx, desc, 0.9)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	meta := rec.Meta
	for i := 0; i < 25; i++ {
		meta.JournalEntries = append(meta.JournalEntries, vkg.JournalEntry{Note: "progress", Timestamp: int64(i)})
		if len(meta.JournalEntries) > vkg.MaxJournalEntries {
			meta.JournalEntries = meta.JournalEntries[len(meta.JournalEntries)-vkg.MaxJournalEntries:]
		}
	}
	if err := a.store.UpdateGoalMeta(ctx, rec.ID, meta); err != nil {
		t.Fatalf("UpdateGoalMeta failed: %v", err)
	}

	rec2, err := a.store.QueryGoalByDescription(ctx, desc, 0.9)
	if err != nil {
		t.Fatalf("lookup 2 failed: %v", err)
	}
	if len(rec2.Meta.JournalEntries) != vkg.MaxJournalEntries {
		t.Fatalf("expected %d journal entries, got %d", vkg.MaxJournalEntries, len(rec2.Meta.JournalEntries))
	}
}
