package asm

import (
	"context"
	"sort"
	"strings"

	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// proceduralWeight mirrors spec §4.3.3's fixed predicate/weight table.
var proceduralWeight = map[string]float64{
	"accomplished_by":  2.0,
	"is_method_for":    1.8,
	"alternatively_by": 1.5,
	"requires":         1.3,
	"requires_prior":   1.3,
	"enables":          1.2,
	"example_usage":    1.5,
	"has_step":         1.4,
	"followed_by":      1.2,
}

// ProcedureOptions tunes query_procedure.
type ProcedureOptions struct {
	IncludeAlternatives bool
	IncludeExamples     bool
	IncludeDependencies bool
	Limit               int
}

// ProcedureResult is the query_procedure response (spec §4.3.3).
type ProcedureResult struct {
	Goal         string
	Methods      []vkg.ScoredTriple
	Alternatives []vkg.ScoredTriple
	Dependencies []vkg.ScoredTriple
	Examples     []vkg.ScoredTriple
	Steps        []vkg.ScoredTriple
	TotalFound   int
}

// QueryProcedure retrieves procedural knowledge about goal (spec
// §4.3.3).
func (a *ASM) QueryProcedure(ctx context.Context, goal string, opts ProcedureOptions) ProcedureResult {
	log := logging.For("asm")

	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	combined := make(map[string]vkg.ScoredTriple)

	// Step 1+2: full-text similarity, filtered/weighted to procedural triples.
	textHits, err := a.store.FindTriplesByTextSimilarity(ctx, goal, 0.3, 3*opts.Limit, true)
	if err != nil {
		log.Warn().Err(err).Msg("query_procedure: text channel failed")
	}
	for _, h := range textHits {
		pred := strings.ToLower(h.T.Relationship)
		weight, isProcedural := proceduralWeight[pred]
		if !isProcedural && !hasTopic(h.Meta.Topics, "procedure") {
			continue
		}
		if weight == 0 {
			weight = 1.0
		}
		h.Score *= weight
		h.Meta.IsProcedural = true
		combined[h.ID] = h
	}

	// Step 3: topic search with fixed procedural topics + candidate topics.
	topics := append([]string{"procedure", "method", "how-to", "usage", "implementation"}, extract.Tokenize(goal, 3)...)
	topicHits, err := a.store.FindTriplesByVectorizedTopics(ctx, topics, 0.3, 3*opts.Limit)
	if err != nil {
		log.Warn().Err(err).Msg("query_procedure: topic channel failed")
	}
	for _, h := range topicHits {
		pred := strings.ToLower(h.T.Relationship)
		weight := proceduralWeight[pred]
		if weight == 0 {
			weight = 1.0
		}
		h.Score *= weight * 1.05
		h.Meta.IsProcedural = true
		if existing, ok := combined[h.ID]; !ok || h.Score > existing.Score {
			combined[h.ID] = h
		}
	}

	result := ProcedureResult{Goal: goal}
	for _, st := range combined {
		switch strings.ToLower(st.T.Relationship) {
		case "accomplished_by", "is_method_for":
			result.Methods = append(result.Methods, st)
		case "alternatively_by":
			result.Alternatives = append(result.Alternatives, st)
		case "requires", "requires_prior":
			result.Dependencies = append(result.Dependencies, st)
		case "example_usage":
			result.Examples = append(result.Examples, st)
		case "has_step", "followed_by":
			result.Steps = append(result.Steps, st)
		default:
			result.Methods = append(result.Methods, st)
		}
	}

	sortByScoreDesc(result.Methods)
	sortByScoreDesc(result.Alternatives)
	sortByScoreDesc(result.Dependencies)
	sortByScoreDesc(result.Examples)
	sortByScoreDesc(result.Steps)

	result.TotalFound = len(combined)

	// Step 5: dependency following for the top-3 methods.
	if opts.IncludeDependencies {
		top := result.Methods
		if len(top) > 3 {
			top = top[:3]
		}
		for _, method := range top {
			deps, err := a.store.BuildGraphFromSubjectRelationship(ctx, method.T.Object, "requires", 0.7, opts.Limit)
			if err != nil {
				log.Warn().Err(err).Msg("query_procedure: dependency following failed")
				continue
			}
			for _, d := range deps {
				d.Score *= 0.8
				result.Dependencies = append(result.Dependencies, d)
			}
		}
		sortByScoreDesc(result.Dependencies)
	}

	result.Methods = truncate(result.Methods, opts.Limit)
	result.Steps = truncate(result.Steps, opts.Limit)
	if opts.IncludeAlternatives {
		result.Alternatives = truncate(result.Alternatives, opts.Limit)
	} else {
		result.Alternatives = nil
	}
	if opts.IncludeExamples {
		result.Examples = truncate(result.Examples, opts.Limit)
	} else {
		result.Examples = nil
	}
	if opts.IncludeDependencies {
		result.Dependencies = truncate(result.Dependencies, opts.Limit)
	} else {
		result.Dependencies = nil
	}

	return result
}

func hasTopic(topics []string, target string) bool {
	for _, t := range topics {
		if strings.EqualFold(t, target) {
			return true
		}
	}
	return false
}

func sortByScoreDesc(ts []vkg.ScoredTriple) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Score > ts[j].Score })
}

func truncate(ts []vkg.ScoredTriple, limit int) []vkg.ScoredTriple {
	if len(ts) > limit {
		return ts[:limit]
	}
	return ts
}
