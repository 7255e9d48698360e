package asm

import (
	"context"
	"sort"
	"strings"

	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// RetrievalOptions tunes query_related_information (spec §4.3.2).
type RetrievalOptions struct {
	EntityName            string
	Speaker                string
	Limit                  int
	MinConfidence          float64
	IncludeSummaryTriples bool
	HopDepth               int
	ReturnSummary          bool
	IncludeTriples         bool
}

// DefaultRetrievalOptions returns the spec's documented defaults.
func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		Limit:                  20,
		MinConfidence:          0.5,
		IncludeSummaryTriples: true,
		HopDepth:               1,
		ReturnSummary:          true,
		IncludeTriples:         true,
	}
}

// RetrievalResult is the blended-retrieval response.
type RetrievalResult struct {
	Summary     string
	TripleCount int
	Triples     []vkg.ScoredTriple
}

const maxPerSubject = 6

// QueryRelatedInformation runs the full blended retrieval algorithm
// (spec §4.3.2): full-text channel, topic channel, predicate boost, hop
// expansion, filters, elastic cut-off, optional summarization.
func (a *ASM) QueryRelatedInformation(ctx context.Context, text string, opts RetrievalOptions) RetrievalResult {
	log := logging.For("asm")

	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = 0.5
	}

	combined := make(map[string]vkg.ScoredTriple)
	subjectCounts := make(map[string]int)

	insert := func(st vkg.ScoredTriple) {
		if existing, ok := combined[st.ID]; ok {
			if st.Score <= existing.Score {
				return
			}
		} else {
			subj := strings.ToLower(st.T.Subject)
			if subjectCounts[subj] >= maxPerSubject {
				return
			}
			subjectCounts[subj]++
		}
		combined[st.ID] = st
	}

	// Channel 1: full-text similarity.
	textHits, err := a.store.FindTriplesByTextSimilarity(ctx, text, 0.3, maxInt(50, 5*opts.Limit), true)
	if err != nil {
		log.Warn().Err(err).Msg("query_related_information: text channel failed")
	}
	for _, h := range textHits {
		insert(h)
	}

	// Channel 2: topic similarity, with a ×1.05 channel boost.
	topics := extract.Tokenize(text, 5)
	if len(topics) > 0 {
		topicHits, err := a.store.FindTriplesByVectorizedTopics(ctx, topics, 0.3, maxInt(50, 5*opts.Limit))
		if err != nil {
			log.Warn().Err(err).Msg("query_related_information: topic channel failed")
		}
		for _, h := range topicHits {
			h.Score *= 1.05
			if existing, ok := combined[h.ID]; !ok || h.Score > existing.Score {
				insert(h)
			}
		}
	}

	// Predicate boost: predicate substring of query, ×1.15.
	lowerQuery := strings.ToLower(text)
	for id, st := range combined {
		if strings.Contains(lowerQuery, strings.ToLower(st.T.Relationship)) {
			st.Score *= 1.15
			combined[id] = st
		}
	}

	// Hop expansion.
	if opts.HopDepth >= 1 {
		seeds := topSeeds(combined, 0.65, 3)
		for _, seed := range seeds {
			hopHits, err := a.store.BuildGraphFromSubjectRelationship(ctx, seed.T.Object, seed.T.Relationship, 0.8, 10)
			if err != nil {
				log.Warn().Err(err).Str("seed_object", seed.T.Object).Msg("query_related_information: hop expansion failed for seed")
				continue
			}
			for _, h := range hopHits {
				h.Score = seed.Score * 0.6
				h.Meta.IsHop = true
				if existing, ok := combined[h.ID]; !ok || h.Score > existing.Score {
					insert(h)
				}
			}
		}
	}

	// Filters.
	var filtered []vkg.ScoredTriple
	for _, st := range combined {
		if !opts.IncludeSummaryTriples && st.Meta.IsFromSummary {
			continue
		}
		if opts.EntityName != "" && st.T.Subject != "" && st.T.Object != "" {
			if !strings.EqualFold(st.T.Subject, opts.EntityName) && !strings.EqualFold(st.T.Object, opts.EntityName) {
				continue
			}
		}
		if opts.Speaker != "" && st.Meta.Speaker != "" && !strings.EqualFold(st.Meta.Speaker, opts.Speaker) {
			continue
		}
		filtered = append(filtered, st)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })

	final := elasticCutoff(filtered, opts.Limit, opts.MinConfidence)

	result := RetrievalResult{TripleCount: len(final)}
	if opts.IncludeTriples {
		result.Triples = final
	}

	if opts.ReturnSummary {
		result.Summary = a.Summarize(ctx, text, final)
	}
	return result
}

// elasticCutoff implements spec §4.3.2 step 8 / §8 property 8.
func elasticCutoff(sorted []vkg.ScoredTriple, limit int, minConfidence float64) []vkg.ScoredTriple {
	guaranteeK := maxInt(3, minInt(limit/2, 10))

	var above, below []vkg.ScoredTriple
	for _, st := range sorted {
		if st.Score >= minConfidence {
			above = append(above, st)
		} else {
			below = append(below, st)
		}
	}

	var out []vkg.ScoredTriple
	if len(above) >= guaranteeK {
		out = above
	} else {
		out = append(out, above...)
		need := guaranteeK - len(above)
		if need > len(below) {
			need = len(below)
		}
		out = append(out, below[:need]...)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topSeeds(combined map[string]vkg.ScoredTriple, threshold float64, max int) []vkg.ScoredTriple {
	var candidates []vkg.ScoredTriple
	for _, st := range combined {
		if st.Score >= threshold {
			candidates = append(candidates, st)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
