package extract

import (
	"strings"

	"github.com/tsawler/prose/v3"
)

// Tokenize lowercases and splits text into candidate topic tokens: words
// longer than 3 characters, minus a small stop-word set, order-preserving
// deduplicated (spec §4.3.2 candidate_topics). Built on prose's tokenizer
// rather than strings.Fields so punctuation is split off correctly.
func Tokenize(text string, maxTopics int) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, tok := range doc.Tokens() {
		word := strings.ToLower(strings.TrimSpace(tok.Text))
		if len(word) <= 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
		if maxTopics > 0 && len(out) >= maxTopics {
			break
		}
	}
	return out
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "about": true,
	"there": true, "their": true, "would": true, "could": true, "should": true,
	"does": true, "your": true, "been": true, "were": true, "they": true,
}
