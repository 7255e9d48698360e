// Package goaladapter implements the pull-only goal-pursuit event
// source (spec §4.8): it emits a GOAL_PURSUIT event only when the Event
// Processor asks for one, never on its own schedule.
package goaladapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Config configures pacing (spec §4.8).
type Config struct {
	Enabled             bool
	CooldownSeconds     int
	MaxConsecutiveGoals int
	RestSeconds         int
}

func (c Config) withDefaults() Config {
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 30
	}
	if c.MaxConsecutiveGoals <= 0 {
		c.MaxConsecutiveGoals = 10
	}
	if c.RestSeconds <= 0 {
		c.RestSeconds = 300
	}
	return c
}

// Adapter is the Goal Adapter.
type Adapter struct {
	cfg       Config
	asm       *asm.ASM
	agentName string

	mu               sync.Mutex
	lastGoalTime     time.Time
	consecutiveCount int32
}

// New constructs a Goal Adapter.
func New(a *asm.ASM, agentName string, cfg Config) *Adapter {
	return &Adapter{cfg: cfg.withDefaults(), asm: a, agentName: agentName}
}

// ResetConsecutive is called by the Event Processor whenever a user
// event is processed, so the goal cadence resumes fresh afterward.
func (g *Adapter) ResetConsecutive() {
	atomic.StoreInt32(&g.consecutiveCount, 0)
}

// NextGoalEvent implements spec §4.8's next_goal_event. It may sleep for
// cooldown/rest enforcement and returns nil if there is nothing to
// pursue or the adapter is disabled.
func (g *Adapter) NextGoalEvent(ctx context.Context) (*eventbus.Event, error) {
	if !g.cfg.Enabled {
		return nil, nil
	}

	g.mu.Lock()
	elapsed := time.Since(g.lastGoalTime)
	cooldown := time.Duration(g.cfg.CooldownSeconds) * time.Second
	g.mu.Unlock()
	if elapsed < cooldown {
		if err := sleep(ctx, cooldown-elapsed); err != nil {
			return nil, err
		}
	}

	if atomic.LoadInt32(&g.consecutiveCount) >= int32(g.cfg.MaxConsecutiveGoals) {
		atomic.StoreInt32(&g.consecutiveCount, 0)
		if err := sleep(ctx, time.Duration(g.cfg.RestSeconds)*time.Second); err != nil {
			return nil, err
		}
	}

	suggestion, err := g.asm.SuggestNextGoal(ctx, g.agentName)
	if err != nil {
		logging.For("goaladapter").Warn().Err(err).Msg("next_goal_event: suggest_next_goal failed")
		return nil, nil
	}
	if suggestion == nil {
		return nil, nil
	}

	sessionID := deterministicSessionID(suggestion.Description)
	prompt, err := g.buildPrompt(ctx, suggestion)
	if err != nil {
		logging.For("goaladapter").Warn().Err(err).Msg("next_goal_event: build_prompt failed")
	}

	event := eventbus.New(eventbus.TypeGoalPursuit, map[string]any{
		"session_id":      sessionID,
		"content":         prompt,
		"goal_description": suggestion.Description,
	}, eventbus.PriorityGoalDriven, "goal")
	event.Metadata = map[string]any{"goal_description": suggestion.Description}

	atomic.AddInt32(&g.consecutiveCount, 1)
	g.mu.Lock()
	g.lastGoalTime = time.Now()
	g.mu.Unlock()

	return event, nil
}

// deterministicSessionID computes "goal_" + sha256(description)[:10]
// (spec §4.8 step 6 / §6.6), a stable id so a goal's chain of thought
// survives restarts.
func deterministicSessionID(description string) string {
	sum := sha256.Sum256([]byte(description))
	return "goal_" + hex.EncodeToString(sum[:])[:10]
}

func (g *Adapter) buildPrompt(ctx context.Context, suggestion *asm.SuggestedGoal) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Your current goal: %s\n\n", suggestion.Description)

	entries := suggestion.Meta.JournalEntries
	if len(entries) > 5 {
		entries = entries[len(entries)-5:]
	}
	if len(entries) > 0 {
		b.WriteString("Recent progress notes:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e.Note)
		}
		b.WriteString("\n")
	}

	subgoals, err := g.asm.QuerySubgoalStatuses(ctx, suggestion.Description)
	if err == nil && len(subgoals) > 0 {
		b.WriteString("Sub-goals:\n")
		for _, sg := range subgoals {
			fmt.Fprintf(&b, "- %s [%s]\n", sg.Description, sg.Status)
		}
		b.WriteString("\n")
	}

	activeGoals, err := g.asm.GetActiveGoalsForPrompt(ctx, g.agentName, 0)
	if err == nil && activeGoals != "" {
		b.WriteString("Your other active goals:\n")
		b.WriteString(activeGoals)
	}

	return b.String(), err
}

// GetWorkspaceSummary formats each active goal with its most recent
// journal note, for Stream Monitor injection (spec §4.5/§4.8).
func (g *Adapter) GetWorkspaceSummary(ctx context.Context) (string, error) {
	goals, err := g.asm.QueryGoalsWithLastNote(ctx, g.agentName)
	if err != nil {
		return "", err
	}
	if len(goals) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, gw := range goals {
		note := gw.LastNote
		if note == "" {
			note = "(no progress notes yet)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", gw.Description, note)
	}
	return b.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
