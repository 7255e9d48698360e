package asm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jbpayton/sophia-ams/internal/llmclient"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

const unavailableSummary = "Summary unavailable due to error."

// Summarize builds a prompt from the query and a deduplicated bullet list
// of facts, then asks the LLM for a natural-language summary (spec
// §4.3.5). Never raises — returns a sentinel string on any failure.
func (a *ASM) Summarize(ctx context.Context, query string, triples []vkg.ScoredTriple) string {
	if len(triples) == 0 {
		return "No relevant information found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nRelevant facts:\n", query)

	seen := make(map[string]bool)
	for _, st := range triples {
		line := fmt.Sprintf("Fact: %s %s %s (Confidence: %.2f)", st.T.Subject, st.T.Relationship, st.T.Object, st.Score)
		if seen[line] {
			continue
		}
		seen[line] = true
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nWrite a brief, natural-language summary of the relevant facts above in response to the query.")

	reply, err := a.llm.Chat(ctx, []llmclient.Message{{Role: "user", Content: b.String()}}, llmclient.ChatOptions{Temperature: 0.3, MaxTokens: a.cfg.SummaryMaxTokens})
	if err != nil {
		logging.For("asm").Warn().Err(err).Msg("summarize: LLM call failed")
		return unavailableSummary
	}
	return reply
}
