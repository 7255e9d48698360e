package vkg

import (
	"context"
	"testing"

	"github.com/jbpayton/sophia-ams/internal/testutil"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	embed := testutil.NewFakeEmbedder(32)
	s, err := Open(t.TempDir(), embed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("Alice", "likes", "coffee")
	b := PointID("Alice", "likes", "coffee")
	if a != b {
		t.Fatalf("PointID not deterministic: %q vs %q", a, b)
	}
	c := PointID("Alice", "likes", "tea")
	if a == c {
		t.Fatalf("PointID collided for different triples")
	}
}

func TestAddAndRetrieveTriple(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{{Subject: "Alice", Relationship: "likes", Object: "coffee"}}
	metas := []Meta{{Source: "conversation", Timestamp: 100}}

	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	id := PointID("Alice", "likes", "coffee")
	rec, err := s.getTriple(ctx, id)
	if err != nil {
		t.Fatalf("getTriple failed: %v", err)
	}
	if rec.T.Subject != "Alice" || rec.T.Object != "coffee" {
		t.Fatalf("unexpected triple: %+v", rec.T)
	}
	if rec.Meta.Source != "conversation" {
		t.Fatalf("metadata not round-tripped: %+v", rec.Meta)
	}
}

func TestAddTriplesIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{{Subject: "Bob", Relationship: "owns", Object: "bicycle"}}
	metas := []Meta{{Source: "a", Timestamp: 1}}

	for i := 0; i < 3; i++ {
		if err := s.AddTriples(ctx, triples, metas); err != nil {
			t.Fatalf("AddTriples iteration %d failed: %v", i, err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["triples"] != 1 {
		t.Fatalf("expected 1 triple after repeated identical adds, got %d", stats["triples"])
	}
}

func TestFindTriplesByTextSimilarity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{
		{Subject: "Alice", Relationship: "likes", Object: "coffee"},
		{Subject: "Bob", Relationship: "likes", Object: "tea"},
	}
	metas := []Meta{{Source: "a", Timestamp: 1}, {Source: "a", Timestamp: 2}}
	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	results, err := s.FindTriplesByTextSimilarity(ctx, contentText("Alice", "likes", "coffee"), -1.0, 5, true)
	if err != nil {
		t.Fatalf("FindTriplesByTextSimilarity failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	found := false
	for _, r := range results {
		if r.T.Subject == "Alice" && r.T.Object == "coffee" {
			found = true
			if r.Score < 0.99 {
				t.Fatalf("expected near-exact self match, got score %f", r.Score)
			}
		}
	}
	if !found {
		t.Fatal("expected Alice/coffee triple in results")
	}
}

func TestFindTriplesByVectorizedTopicsEmptyReturnsNil(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	results, err := s.FindTriplesByVectorizedTopics(ctx, []string{"", "  "}, 0.5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results for all-blank topics, got %v", results)
	}
}

func TestBuildGraphFromSubjectRelationship(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{
		{Subject: "Alice", Relationship: "likes", Object: "coffee"},
		{Subject: "Alice", Relationship: "dislikes", Object: "tea"},
	}
	metas := []Meta{{Timestamp: 1}, {Timestamp: 2}}
	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	results, err := s.BuildGraphFromSubjectRelationship(ctx, "Alice", "likes", -1.0, 10)
	if err != nil {
		t.Fatalf("BuildGraphFromSubjectRelationship failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	for _, r := range results {
		if r.T.Subject != "Alice" {
			t.Fatalf("unexpected subject in result: %+v", r.T)
		}
	}
}

func TestQueryByTimeRangeAndEpisode(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{
		{Subject: "A", Relationship: "r", Object: "1"},
		{Subject: "A", Relationship: "r", Object: "2"},
	}
	metas := []Meta{
		{Timestamp: 100, EpisodeID: "ep1"},
		{Timestamp: 200, EpisodeID: "ep2"},
	}
	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	byTime, err := s.QueryByTimeRange(ctx, 0, 150, 10)
	if err != nil {
		t.Fatalf("QueryByTimeRange failed: %v", err)
	}
	if len(byTime) != 1 || byTime[0].T.Object != "1" {
		t.Fatalf("unexpected time range results: %+v", byTime)
	}

	byEpisode, err := s.QueryByEpisode(ctx, "ep2", 10)
	if err != nil {
		t.Fatalf("QueryByEpisode failed: %v", err)
	}
	if len(byEpisode) != 1 || byEpisode[0].T.Object != "2" {
		t.Fatalf("unexpected episode results: %+v", byEpisode)
	}
}

func TestComputeEntitySimilarities(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	results, err := s.ComputeEntitySimilarities(ctx, []string{"Alice", "Bob", "Alice"}, -1.0)
	if err != nil {
		t.Fatalf("ComputeEntitySimilarities failed: %v", err)
	}
	// "Alice" vs "Alice" (identical text, indices 0 and 2) must be the
	// highest-similarity pair.
	if len(results) == 0 {
		t.Fatal("expected at least one pair")
	}
	top := results[0]
	if !((top.A == "Alice" && top.B == "Alice")) {
		t.Fatalf("expected identical-text pair to rank first, got %+v", top)
	}
}

func TestBuildGraphFromNounMultiHop(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{
		{Subject: "Alice", Relationship: "manages", Object: "Bob"},
		{Subject: "Bob", Relationship: "manages", Object: "Carol"},
	}
	metas := []Meta{{Timestamp: 1}, {Timestamp: 2}}
	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	results, err := s.BuildGraphFromNoun(ctx, "Alice", -1.0, 2, 0.8)
	if err != nil {
		t.Fatalf("BuildGraphFromNoun failed: %v", err)
	}

	var sawBob, sawCarol bool
	for _, r := range results {
		if r.T.Object == "Bob" {
			sawBob = true
		}
		if r.T.Object == "Carol" {
			sawCarol = true
		}
	}
	if !sawBob {
		t.Fatalf("expected first-hop edge to Bob, got %+v", results)
	}
	if !sawCarol {
		t.Fatalf("expected second-hop edge to Carol, got %+v", results)
	}
}

func TestClearRemovesAllTriples(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	triples := []Triple{{Subject: "A", Relationship: "r", Object: "B"}}
	metas := []Meta{{Timestamp: 1}}
	if err := s.AddTriples(ctx, triples, metas); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["triples"] != 0 {
		t.Fatalf("expected 0 triples after Clear, got %d", stats["triples"])
	}
}
