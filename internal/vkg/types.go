// Package vkg implements the Vector Knowledge Graph: a content-addressed
// store of (subject, predicate, object) triples, each carrying five
// independently-searchable named vector embeddings plus structured
// metadata (spec §3.1, §4.1).
package vkg

import "errors"

// ErrNotFound is returned when a lookup (goal, triple) matches nothing.
var ErrNotFound = errors.New("vkg: not found")

// Triple is the atomic (subject, predicate, object) edge.
type Triple struct {
	Subject      string
	Relationship string
	Object       string
}

// JournalEntry is a single progress note appended to a goal (spec §3.1).
type JournalEntry struct {
	Note      string `json:"note"`
	Timestamp int64  `json:"timestamp"`
}

// Meta is the structured metadata attached to a triple (spec §3.1).
// All fields are optional except where the zero value is ambiguous with
// "not set" — callers populate only what they know.
type Meta struct {
	Source        string   `json:"source,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
	SourceText    string   `json:"source_text,omitempty"`
	Speaker       string   `json:"speaker,omitempty"`
	Topics        []string `json:"topics,omitempty"`
	EpisodeID     string   `json:"episode_id,omitempty"`
	IsFromSummary bool     `json:"is_from_summary,omitempty"`

	// Confidence is populated only at retrieval time; never written by
	// add_triples.
	Confidence float64 `json:"confidence,omitempty"`

	AbstractionLevel int `json:"abstraction_level,omitempty"`

	// Goal fields — only populated on "has_goal" triples.
	GoalStatus             string         `json:"goal_status,omitempty"`
	Priority               int            `json:"priority,omitempty"`
	CreatedTimestamp       int64          `json:"created_timestamp,omitempty"`
	StatusUpdatedTimestamp int64          `json:"status_updated_timestamp,omitempty"`
	CompletionTimestamp    int64          `json:"completion_timestamp,omitempty"`
	TargetDate             int64          `json:"target_date,omitempty"`
	ParentGoalID           string         `json:"parent_goal_id,omitempty"`
	GoalType               string         `json:"goal_type,omitempty"`
	IsForeverGoal          bool           `json:"is_forever_goal,omitempty"`
	BlockerReason          string         `json:"blocker_reason,omitempty"`
	CompletionNotes        string         `json:"completion_notes,omitempty"`
	JournalEntries         []JournalEntry `json:"journal_entries,omitempty"`

	// Retrieval-only annotations, never persisted by add_triples.
	TopicSimilarityScore float64 `json:"topic_similarity_score,omitempty"`
	IsHop                bool    `json:"is_hop,omitempty"`
	IsProcedural         bool    `json:"is_procedural,omitempty"`
}

// Goal status values (spec §3.1).
const (
	GoalPending    = "pending"
	GoalInProgress = "in_progress"
	GoalCompleted  = "completed"
	GoalBlocked    = "blocked"
	GoalCancelled  = "cancelled"
	GoalOngoing    = "ongoing"
)

// Goal type values.
const (
	GoalTypeStandard     = "standard"
	GoalTypeInstrumental = "instrumental"
	GoalTypeDerived      = "derived"
)

// Goal/relation predicates.
const (
	PredicateHasGoal    = "has_goal"
	PredicateSubgoalOf  = "subgoal_of"
	PredicateDependsOn  = "depends_on"
	PredicateDerivedFrom = "derived_from"
)

// MaxJournalEntries bounds the journal_entries ring buffer (spec §3.1, §8.7).
const MaxJournalEntries = 20

// TripleRecord is a stored triple plus its metadata, as returned by scans
// and searches.
type TripleRecord struct {
	ID   string
	T    Triple
	Meta Meta
}

// ScoredTriple pairs a TripleRecord with a similarity score from a search.
type ScoredTriple struct {
	TripleRecord
	Score float64
}
