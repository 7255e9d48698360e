package streammonitor

import (
	"context"
	"testing"
	"time"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/episodic"
	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/testutil"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

func setupTestMonitor(t *testing.T) (*Monitor, *asm.ASM, *episodic.Store) {
	t.Helper()
	embed := testutil.NewFakeEmbedder(32)
	store, err := vkg.Open(t.TempDir(), embed)
	if err != nil {
		t.Fatalf("vkg.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	episodes, err := episodic.Open(t.TempDir())
	if err != nil {
		t.Fatalf("episodic.Open failed: %v", err)
	}
	t.Cleanup(func() { episodes.Close() })

	llm := &testutil.FakeLLM{}
	a := asm.New(store, extract.NewAdapter(llm), llm, asm.Config{OwnerName: "Sophia"})
	mon := New(a, episodes, "Sophia", "User", nil, Config{
		AutoRecallLimit:        10,
		IdleSeconds:            1,
		EpisodeRotateThreshold: 4,
	})
	return mon, a, episodes
}

func TestPostProcessCreatesEpisodeAndAppendsMessages(t *testing.T) {
	mon, _, episodes := setupTestMonitor(t)
	ctx := context.Background()

	mon.PostProcess(ctx, "sess-1", "hello there", "hi, how can I help?")

	st := mon.session("sess-1")
	if st.episodeID == "" {
		t.Fatal("expected episode to be created")
	}
	ep, err := episodes.GetEpisode(ctx, st.episodeID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if len(ep.Messages) != 2 {
		t.Fatalf("expected 2 messages in episode, got %d", len(ep.Messages))
	}
	if st.messageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", st.messageCount)
	}
}

func TestPostProcessEnqueuesLongMessagesOnly(t *testing.T) {
	mon, _, _ := setupTestMonitor(t)
	ctx := context.Background()

	mon.PostProcess(ctx, "sess-2", "hi", "ok")
	st := mon.session("sess-2")
	st.mu.Lock()
	n := len(st.extractionQueue)
	st.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no queued pairs for short messages, got %d", n)
	}

	mon.PostProcess(ctx, "sess-2", "this is a long enough message", "this is also a long enough reply")
	st2 := mon.session("sess-2")
	st2.mu.Lock()
	n2 := len(st2.extractionQueue)
	st2.mu.Unlock()
	if n2 != 1 {
		t.Fatalf("expected 1 queued pair, got %d", n2)
	}
}

func TestEpisodeRotationAtThreshold(t *testing.T) {
	mon, _, _ := setupTestMonitor(t)
	ctx := context.Background()

	mon.PostProcess(ctx, "sess-3", "one", "two")
	firstID := mon.session("sess-3").episodeID

	mon.PostProcess(ctx, "sess-3", "three", "four")
	st := mon.session("sess-3")
	if st.episodeID != "" {
		t.Fatal("expected episode to rotate (clear) at threshold")
	}
	if firstID == "" {
		t.Fatal("expected first episode id to be set")
	}
	if st.messageCount != 0 {
		t.Fatalf("expected message_count reset to 0, got %d", st.messageCount)
	}
}

func TestConsolidateDrainsQueue(t *testing.T) {
	mon, _, _ := setupTestMonitor(t)
	ctx := context.Background()

	mon.PostProcess(ctx, "sess-4", "this is a long enough message", "this is also a long enough reply")
	st := mon.session("sess-4")
	st.mu.Lock()
	n := len(st.extractionQueue)
	st.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 pending pair before consolidate, got %d", n)
	}

	mon.Consolidate(ctx, "sess-4")

	st.mu.Lock()
	n2 := len(st.extractionQueue)
	st.mu.Unlock()
	if n2 != 0 {
		t.Fatalf("expected queue drained after consolidate, got %d", n2)
	}
}

func TestFlushFinalizesEpisode(t *testing.T) {
	mon, _, episodes := setupTestMonitor(t)
	ctx := context.Background()

	mon.PostProcess(ctx, "sess-5", "hello", "hi")
	st := mon.session("sess-5")
	episodeID := st.episodeID

	mon.Flush(ctx, "sess-5")

	ep, err := episodes.GetEpisode(ctx, episodeID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if ep.EndTime == 0 {
		t.Fatal("expected episode to be finalized with an end_time")
	}
	if st.episodeID != "" {
		t.Fatal("expected session episode_id cleared after flush")
	}
}

func TestPreProcessNeverPanics(t *testing.T) {
	mon, _, _ := setupTestMonitor(t)
	ctx := context.Background()
	_ = mon.PreProcess(ctx, "what do you know about anything?", "sess-6")
	time.Sleep(time.Millisecond)
}
