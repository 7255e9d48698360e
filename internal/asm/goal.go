package asm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// CreateGoalOptions are the optional fields of create_goal (spec
// §4.3.4).
type CreateGoalOptions struct {
	Priority      int
	IsForeverGoal bool
	ParentGoal    string
	GoalType      string
	DependsOn     []string
	TargetDate    int64
}

// CreateGoal writes the goal's main has_goal triple plus any
// subgoal_of/derived_from/depends_on edges (spec §4.3.4).
func (a *ASM) CreateGoal(ctx context.Context, owner, description string, opts CreateGoalOptions) (string, error) {
	priority := opts.Priority
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}

	status := vkg.GoalPending
	if opts.IsForeverGoal {
		status = vkg.GoalOngoing
	}

	now := time.Now().Unix()
	meta := vkg.Meta{
		Timestamp:        now,
		CreatedTimestamp: now,
		GoalStatus:       status,
		Priority:         priority,
		ParentGoalID:     opts.ParentGoal,
		GoalType:         opts.GoalType,
		IsForeverGoal:    opts.IsForeverGoal,
		TargetDate:       opts.TargetDate,
	}

	if err := a.store.AddTriples(ctx, []vkg.Triple{{Subject: owner, Relationship: vkg.PredicateHasGoal, Object: description}}, []vkg.Meta{meta}); err != nil {
		return "", fmt.Errorf("create_goal: %w", err)
	}

	var extraTriples []vkg.Triple
	var extraMetas []vkg.Meta
	if opts.ParentGoal != "" {
		extraTriples = append(extraTriples, vkg.Triple{Subject: description, Relationship: vkg.PredicateSubgoalOf, Object: opts.ParentGoal})
		extraMetas = append(extraMetas, vkg.Meta{Timestamp: now})
		if opts.GoalType == vkg.GoalTypeDerived {
			extraTriples = append(extraTriples, vkg.Triple{Subject: description, Relationship: vkg.PredicateDerivedFrom, Object: opts.ParentGoal})
			extraMetas = append(extraMetas, vkg.Meta{Timestamp: now})
		}
	}
	for _, dep := range opts.DependsOn {
		extraTriples = append(extraTriples, vkg.Triple{Subject: description, Relationship: vkg.PredicateDependsOn, Object: dep})
		extraMetas = append(extraMetas, vkg.Meta{Timestamp: now})
	}
	if len(extraTriples) > 0 {
		if err := a.store.AddTriples(ctx, extraTriples, extraMetas); err != nil {
			return "", fmt.Errorf("create_goal: relation triples: %w", err)
		}
	}

	return description, nil
}

// GoalUpdate is the set of fields update_goal may change.
type GoalUpdate struct {
	Status          string
	CompletionNotes string
	BlockerReason   string
}

// UpdateGoal applies guarded status transitions and writes back through
// VKG.update_goal_metadata (spec §4.3.4). Returns false if the goal
// doesn't exist.
func (a *ASM) UpdateGoal(ctx context.Context, owner, description string, update GoalUpdate) (bool, error) {
	rec, err := a.store.QueryGoalByDescription(ctx, description, 0.9)
	if err != nil {
		return false, nil
	}
	meta := rec.Meta

	newStatus := update.Status
	if newStatus == "" {
		newStatus = meta.GoalStatus
	}

	if meta.IsForeverGoal && newStatus == vkg.GoalCompleted {
		newStatus = vkg.GoalOngoing
		update.BlockerReason = "This is an instrumental/forever goal - it cannot be completed"
	}

	if newStatus == vkg.GoalCompleted {
		unmet, err := a.CheckUnmetDependencies(ctx, description)
		if err != nil {
			logging.For("asm").Warn().Err(err).Msg("update_goal: check_unmet_dependencies failed")
		}
		subgoals, err := a.activeSubgoals(ctx, description)
		if err != nil {
			logging.For("asm").Warn().Err(err).Msg("update_goal: subgoal scan failed")
		}
		if len(unmet) > 0 || len(subgoals) > 0 {
			newStatus = vkg.GoalBlocked
			update.BlockerReason = blockerMessage(unmet, subgoals)
		}
	}

	if newStatus == vkg.GoalPending {
		meta.JournalEntries = nil
		meta.CompletionNotes = ""
		meta.CompletionTimestamp = 0
	}

	meta.GoalStatus = newStatus
	meta.StatusUpdatedTimestamp = time.Now().Unix()
	if update.CompletionNotes != "" {
		meta.CompletionNotes = update.CompletionNotes
	}
	if update.BlockerReason != "" {
		meta.BlockerReason = update.BlockerReason
	}
	if newStatus == vkg.GoalCompleted {
		meta.CompletionTimestamp = time.Now().Unix()
	}

	if err := a.store.UpdateGoalMeta(ctx, rec.ID, meta); err != nil {
		return false, fmt.Errorf("update_goal: %w", err)
	}
	return true, nil
}

func blockerMessage(unmet []vkg.TripleRecord, subgoals []vkg.TripleRecord) string {
	var names []string
	for _, u := range unmet {
		names = append(names, u.T.Object)
	}
	for _, s := range subgoals {
		names = append(names, s.T.Subject)
	}
	if len(names) > 3 {
		names = names[:3]
	}
	return "Blocked on: " + strings.Join(names, ", ")
}

// CheckUnmetDependencies gathers depends_on edges for desc and returns
// the targets whose status is not completed/cancelled (spec §4.3.4).
func (a *ASM) CheckUnmetDependencies(ctx context.Context, desc string) ([]vkg.TripleRecord, error) {
	deps, err := a.store.BuildGraphFromSubjectRelationship(ctx, desc, vkg.PredicateDependsOn, 0.9, 50)
	if err != nil {
		return nil, err
	}

	var unmet []vkg.TripleRecord
	for _, d := range deps {
		target, err := a.store.QueryGoalByDescription(ctx, d.T.Object, 0.9)
		if err != nil {
			continue
		}
		if target.Meta.GoalStatus != vkg.GoalCompleted && target.Meta.GoalStatus != vkg.GoalCancelled {
			unmet = append(unmet, d.TripleRecord)
		}
	}
	return unmet, nil
}

func (a *ASM) activeSubgoals(ctx context.Context, desc string) ([]vkg.TripleRecord, error) {
	subs, err := a.store.QuerySubgoalsOf(ctx, desc)
	if err != nil {
		return nil, err
	}
	var active []vkg.TripleRecord
	for _, s := range subs {
		goal, err := a.store.QueryGoalByDescription(ctx, s.T.Subject, 0.9)
		if err != nil {
			continue
		}
		if goal.Meta.GoalStatus != vkg.GoalCompleted && goal.Meta.GoalStatus != vkg.GoalCancelled {
			active = append(active, s)
		}
	}
	return active, nil
}

// SuggestedGoal pairs a goal with a short reasoning string.
type SuggestedGoal struct {
	Description string
	Meta        vkg.Meta
	Reasoning   string
}

// SuggestNextGoal scores in_progress/pending goals and returns the
// highest-scoring candidate (spec §4.3.4).
func (a *ASM) SuggestNextGoal(ctx context.Context, owner string) (*SuggestedGoal, error) {
	goals, err := a.store.QueryGoalsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   vkg.TripleRecord
		score float64
	}
	var candidates []scored

	for _, g := range goals {
		if g.Meta.GoalStatus != vkg.GoalInProgress && g.Meta.GoalStatus != vkg.GoalPending {
			continue
		}
		unmet, _ := a.CheckUnmetDependencies(ctx, g.T.Object)
		if len(unmet) > 0 {
			continue
		}
		subgoals, _ := a.activeSubgoals(ctx, g.T.Object)

		score := float64(g.Meta.Priority) * 10
		if g.Meta.GoalStatus == vkg.GoalInProgress {
			score += 30
		}
		if g.Meta.GoalType == vkg.GoalTypeDerived {
			score += 20
		}
		if g.Meta.TargetDate > 0 {
			daysUntil := float64(g.Meta.TargetDate-time.Now().Unix()) / 86400
			if daysUntil < 7 {
				score += 15
			} else if daysUntil < 30 {
				score += 5
			}
		}
		if len(subgoals) > 0 {
			score -= 50
		}
		if g.Meta.ParentGoalID != "" {
			if parent, err := a.store.QueryGoalByDescription(ctx, g.Meta.ParentGoalID, 0.9); err == nil && parent.Meta.Priority >= 4 {
				score += 15
			}
		}

		candidates = append(candidates, scored{rec: g, score: score})
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	top := candidates[0]

	return &SuggestedGoal{
		Description: top.rec.T.Object,
		Meta:        top.rec.Meta,
		Reasoning:   fmt.Sprintf("priority=%d status=%s score=%.1f", top.rec.Meta.Priority, top.rec.Meta.GoalStatus, top.score),
	}, nil
}

// SubgoalStatus pairs a subgoal's description with its current status,
// for Goal Adapter prompt assembly (spec §4.8 step 7).
type SubgoalStatus struct {
	Description string
	Status      string
}

// QuerySubgoalStatuses returns the status of every subgoal of desc.
func (a *ASM) QuerySubgoalStatuses(ctx context.Context, desc string) ([]SubgoalStatus, error) {
	subs, err := a.store.QuerySubgoalsOf(ctx, desc)
	if err != nil {
		return nil, err
	}
	var out []SubgoalStatus
	for _, s := range subs {
		goal, err := a.store.QueryGoalByDescription(ctx, s.T.Subject, 0.9)
		if err != nil {
			continue
		}
		out = append(out, SubgoalStatus{Description: s.T.Subject, Status: goal.Meta.GoalStatus})
	}
	return out, nil
}

// GoalWithNote pairs a goal's description with its most recent journal
// note, for the Goal Adapter's workspace summary (spec §4.8).
type GoalWithNote struct {
	Description string
	LastNote    string
}

// QueryGoalsWithLastNote returns every non-terminal goal for owner with
// its latest journal entry, if any (spec §4.8 get_workspace_summary).
func (a *ASM) QueryGoalsWithLastNote(ctx context.Context, owner string) ([]GoalWithNote, error) {
	goals, err := a.store.QueryGoalsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	var out []GoalWithNote
	for _, g := range goals {
		if g.Meta.GoalStatus == vkg.GoalCompleted || g.Meta.GoalStatus == vkg.GoalCancelled {
			continue
		}
		note := ""
		if len(g.Meta.JournalEntries) > 0 {
			note = g.Meta.JournalEntries[len(g.Meta.JournalEntries)-1].Note
		}
		out = append(out, GoalWithNote{Description: g.T.Object, LastNote: note})
	}
	return out, nil
}

// GetActiveGoalsForPrompt returns a formatted bullet list of instrumental/
// forever goals and priority>=4 goals, for Stream Monitor injection
// (spec §4.3.4).
func (a *ASM) GetActiveGoalsForPrompt(ctx context.Context, owner string, limit int) (string, error) {
	goals, err := a.store.QueryGoalsByOwner(ctx, owner)
	if err != nil {
		return "", err
	}

	var active []vkg.TripleRecord
	for _, g := range goals {
		if g.Meta.IsForeverGoal || g.Meta.Priority >= 4 {
			active = append(active, g)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Meta.Priority != active[j].Meta.Priority {
			return active[i].Meta.Priority > active[j].Meta.Priority
		}
		return active[i].Meta.IsForeverGoal && !active[j].Meta.IsForeverGoal
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}

	if len(active) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, g := range active {
		stars := strings.Repeat("*", g.Meta.Priority)
		typeTag := g.Meta.GoalType
		if typeTag == "" {
			typeTag = vkg.GoalTypeStandard
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", stars, g.T.Object, typeTag)
	}
	return b.String(), nil
}
