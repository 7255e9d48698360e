package episodic

import (
	"context"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetEpisode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.CreateEpisode(ctx, "session-1", map[string]string{"channel": "chat"})
	if err != nil {
		t.Fatalf("CreateEpisode failed: %v", err)
	}

	ep, err := s.GetEpisode(ctx, id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if ep.SessionID != "session-1" {
		t.Fatalf("expected session-1, got %s", ep.SessionID)
	}
	if ep.EndTime != 0 {
		t.Fatal("expected end_time unset until finalized")
	}
	if len(ep.ShortID) != 5 {
		t.Fatalf("expected 5-char short id, got %q", ep.ShortID)
	}
}

func TestAddMessageAndFinalize(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateEpisode(ctx, "session-1", nil)
	s.AddMessageToEpisode(ctx, id, "User", "hello", 100)
	s.AddMessageToEpisode(ctx, id, "Sophia", "hi there", 101)

	ep, err := s.GetEpisode(ctx, id)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if len(ep.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ep.Messages))
	}

	s.FinalizeEpisode(ctx, id, []string{"greeting"}, "a short greeting exchange")
	ep2, _ := s.GetEpisode(ctx, id)
	if ep2.EndTime == 0 {
		t.Fatal("expected end_time to be set after finalize")
	}
	if ep2.Summary != "a short greeting exchange" {
		t.Fatalf("unexpected summary: %s", ep2.Summary)
	}
}

func TestAddMessageToMissingEpisodeDoesNotRaise(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	s.AddMessageToEpisode(ctx, "does-not-exist", "User", "hello", 0)
}

func TestQueryEpisodesBySessionOrdered(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	idA, _ := s.CreateEpisode(ctx, "sess", nil)
	s.AddMessageToEpisode(ctx, idA, "User", "first", 1)
	idB, _ := s.CreateEpisode(ctx, "sess", nil)
	s.AddMessageToEpisode(ctx, idB, "User", "second", 2)

	eps, err := s.QueryEpisodesBySession(ctx, "sess")
	if err != nil {
		t.Fatalf("QueryEpisodesBySession failed: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(eps))
	}
	if eps[0].ID != idA || eps[1].ID != idB {
		t.Fatal("expected episodes ordered oldest first")
	}
}

func TestSearchEpisodesByContent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateEpisode(ctx, "sess", nil)
	s.AddMessageToEpisode(ctx, id, "User", "tell me about the python programming language", 1)

	matches, err := s.SearchEpisodesByContent(ctx, "python", 10)
	if err != nil {
		t.Fatalf("SearchEpisodesByContent failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	none, err := s.SearchEpisodesByContent(ctx, "quantum entanglement", 10)
	if err != nil {
		t.Fatalf("SearchEpisodesByContent failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0 matches, got %d", len(none))
	}
}

func TestGetConversationContextTailTruncation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateEpisode(ctx, "sess", nil)
	for i := 0; i < 5; i++ {
		s.AddMessageToEpisode(ctx, id, "User", "msg", int64(i))
	}

	text, err := s.GetConversationContext(ctx, id, 2)
	if err != nil {
		t.Fatalf("GetConversationContext failed: %v", err)
	}
	if countLines(text) != 2 {
		t.Fatalf("expected 2 lines from tail, got %d: %q", countLines(text), text)
	}
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestGetRecentEpisodes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, _ := s.CreateEpisode(ctx, "sess", nil)
	s.AddMessageToEpisode(ctx, id, "User", "hi", 1)

	eps, err := s.GetRecentEpisodes(ctx, 24, 10)
	if err != nil {
		t.Fatalf("GetRecentEpisodes failed: %v", err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected 1 recent episode, got %d", len(eps))
	}
}

func TestGetTimelineSummaryGroupsByDate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	s.CreateEpisode(ctx, "sess", nil)

	days, err := s.GetTimelineSummary(ctx, 7)
	if err != nil {
		t.Fatalf("GetTimelineSummary failed: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("expected episodes grouped into 1 day, got %d", len(days))
	}
	if len(days[0].Episodes) != 1 {
		t.Fatalf("expected 1 episode in the day group, got %d", len(days[0].Episodes))
	}
}
