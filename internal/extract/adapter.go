package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jbpayton/sophia-ams/internal/llmclient"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Mode selects which prompt template drives a single Extract call.
type Mode int

const (
	ModeFactual Mode = iota
	ModeConversation
	ModeQuery
)

// Triple is one extracted (subject, verb, object) fact plus provenance.
type Triple struct {
	Subject    string   `json:"subject"`
	Verb       string   `json:"verb"`
	Object     string   `json:"object"`
	SourceText string   `json:"source_text"`
	Speaker    string   `json:"speaker,omitempty"`
	Topics     []string `json:"topics"`

	AbstractionLevel int `json:"-"`
}

// Result is the adapter's response: a JSON-schema-stable list of triples,
// with Error set (never a raised error) on parse failure.
type Result struct {
	Triples []Triple `json:"triples"`
	Error   string   `json:"error,omitempty"`
}

// Adapter wraps an LLM chat client to turn free text into triples
// (spec §4.2).
type Adapter struct {
	llm llmclient.Client
}

func NewAdapter(llm llmclient.Client) *Adapter {
	return &Adapter{llm: llm}
}

var speakerPrefix = regexp.MustCompile(`^SPEAKER:([^|]+)\|`)

// stripSpeakerPrefix parses and removes a leading "SPEAKER:name|" tag.
func stripSpeakerPrefix(text string) (body, speaker string) {
	if m := speakerPrefix.FindStringSubmatch(text); m != nil {
		return strings.TrimPrefix(text, m[0]), strings.TrimSpace(m[1])
	}
	return text, ""
}

const factualPrompt = `Extract factual (subject, verb, object) triples from the following document text.

Return ONLY a JSON object of the form:
{"triples": [{"subject": "...", "verb": "...", "object": "...", "topics": ["..."]}]}

Use short, literal verbs (e.g. "is", "has", "works_at", "located_in"). Only extract
facts clearly stated in the text — do not infer or guess. If nothing can be
extracted, return {"triples": []}.

TEXT:
%s

JSON:`

const conversationPrompt = `Extract factual (subject, verb, object) triples from this multi-speaker
conversation turn. When a pronoun like "I"/"me"/"my" refers to the speaker,
use "speaker" as the subject or object.

Return ONLY a JSON object of the form:
{"triples": [{"subject": "...", "verb": "...", "object": "...", "topics": ["..."]}]}

If nothing can be extracted, return {"triples": []}.

SPEAKER: %s
TEXT:
%s

JSON:`

const queryPrompt = `The following text is a question or request, not a statement of fact.
Extract any (subject, verb, object) triples that express what the speaker
is asking about or wants (question-intent extraction), e.g. "speaker wants_to_know
weather" or "speaker requests help_with taxes".

Return ONLY a JSON object of the form:
{"triples": [{"subject": "...", "verb": "...", "object": "...", "topics": ["..."]}]}

If nothing can be extracted, return {"triples": []}.

TEXT:
%s

JSON:`

// Extract runs the chosen prompt template and returns parsed triples.
// JSON parse failure never raises: it returns an empty triple list with
// Error set (spec §4.2 failure semantics).
func (a *Adapter) Extract(ctx context.Context, text string, mode Mode, sessionSpeaker string) Result {
	body, parsedSpeaker := stripSpeakerPrefix(text)
	speaker := sessionSpeaker
	if parsedSpeaker != "" {
		speaker = parsedSpeaker
	}

	var prompt string
	switch mode {
	case ModeConversation:
		prompt = fmt.Sprintf(conversationPrompt, speaker, body)
	case ModeQuery:
		prompt = fmt.Sprintf(queryPrompt, body)
	default:
		prompt = fmt.Sprintf(factualPrompt, body)
	}

	raw, err := a.llm.Chat(ctx, []llmclient.Message{{Role: "user", Content: prompt}}, llmclient.ChatOptions{Temperature: 0.1, MaxTokens: 1024})
	if err != nil {
		logging.For("extract").Warn().Err(err).Msg("extraction chat call failed")
		return Result{Triples: []Triple{}, Error: err.Error()}
	}

	result := parseTriplesJSON(raw)
	for i := range result.Triples {
		t := &result.Triples[i]
		if t.SourceText == "" {
			t.SourceText = body
		}
		if t.Speaker == "" {
			t.Speaker = speaker
		}
		if t.Topics == nil {
			t.Topics = []string{}
		}
	}

	detectProcedural(result.Triples)
	return result
}

func cleanJSONResponse(response string) string {
	response = llmclient.StripThink(response)
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

func parseTriplesJSON(raw string) Result {
	cleaned := cleanJSONResponse(raw)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return Result{Triples: []Triple{}, Error: "no JSON object found in response"}
	}

	var parsed Result
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return Result{Triples: []Triple{}, Error: err.Error()}
	}
	if parsed.Triples == nil {
		parsed.Triples = []Triple{}
	}
	return parsed
}

// proceduralWeights mirrors the predicate set recognised by query_procedure
// (spec §4.3.3).
var proceduralWeights = map[string]int{
	"accomplished_by":  1,
	"is_method_for":    1,
	"alternatively_by": 1,
	"requires":         2,
	"requires_prior":   2,
	"enables":          2,
	"example_usage":    1,
	"has_step":         3,
	"followed_by":      3,
}

// detectProcedural tags triples whose predicate is in the procedural set
// with a "procedure" topic and a heuristic abstraction level (spec §4.2).
func detectProcedural(triples []Triple) {
	for i := range triples {
		t := &triples[i]
		level, ok := proceduralWeights[strings.ToLower(t.Verb)]
		if !ok {
			continue
		}
		if !containsFold(t.Topics, "procedure") {
			t.Topics = append(t.Topics, "procedure")
		}
		t.AbstractionLevel = level
	}
}

func containsFold(items []string, target string) bool {
	for _, it := range items {
		if strings.EqualFold(it, target) {
			return true
		}
	}
	return false
}
