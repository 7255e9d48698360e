package asm

import (
	"context"
	"testing"

	"github.com/jbpayton/sophia-ams/internal/vkg"
)

func TestElasticCutoffGuaranteesMinimum(t *testing.T) {
	sorted := []vkg.ScoredTriple{
		{Score: 0.9},
		{Score: 0.2},
		{Score: 0.1},
	}
	out := elasticCutoff(sorted, 20, 0.5)
	guaranteeK := maxInt(3, minInt(20/2, 10))
	if len(out) < minInt(guaranteeK, len(sorted)) {
		t.Fatalf("expected at least %d results, got %d", minInt(guaranteeK, len(sorted)), len(out))
	}
}

func TestElasticCutoffAboveThresholdOnly(t *testing.T) {
	sorted := make([]vkg.ScoredTriple, 0, 10)
	for i := 0; i < 10; i++ {
		sorted = append(sorted, vkg.ScoredTriple{Score: 0.9})
	}
	out := elasticCutoff(sorted, 5, 0.5)
	if len(out) != 5 {
		t.Fatalf("expected limit-truncated result of 5, got %d", len(out))
	}
}

func TestIngestAndRecall(t *testing.T) {
	a := setupTestASM(t)
	ctx := context.Background()

	if err := a.store.AddTriples(ctx, []vkg.Triple{
		{Subject: "Joey", Relationship: "likes", Object: "Python"},
		{Subject: "Joey", Relationship: "lives in", Object: "USA"},
	}, []vkg.Meta{{Timestamp: 1}, {Timestamp: 2}}); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	result := a.QueryRelatedInformation(ctx, "What do you know about Joey?", RetrievalOptions{
		Limit: 10, MinConfidence: 0.1, IncludeSummaryTriples: true, HopDepth: 0, ReturnSummary: false, IncludeTriples: true,
	})

	if result.TripleCount == 0 {
		t.Fatal("expected at least one recalled triple")
	}
	var sawLikes, sawLivesIn bool
	for _, tr := range result.Triples {
		if tr.T.Relationship == "likes" {
			sawLikes = true
		}
		if tr.T.Relationship == "lives in" {
			sawLivesIn = true
		}
		if tr.Score <= 0 {
			t.Fatalf("expected positive confidence, got %f for %+v", tr.Score, tr.T)
		}
	}
	if !sawLikes || !sawLivesIn {
		t.Fatalf("expected both Joey triples recalled, got %+v", result.Triples)
	}
}
