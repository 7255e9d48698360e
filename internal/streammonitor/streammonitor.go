// Package streammonitor is the per-turn middleware sitting in front of
// the agent pipeline: pre_process assembles recall context before a
// turn, post_process files the turn away and schedules extraction
// (spec §4.5).
package streammonitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/episodic"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// WorkspaceSummarizer supplies the optional "active workspaces" section
// of pre_process; satisfied by the Goal Adapter.
type WorkspaceSummarizer interface {
	GetWorkspaceSummary(ctx context.Context) (string, error)
}

// Config mirrors config.StreamMonitorConfig without importing it, so
// this package stays independent of the config layer's YAML tags.
type Config struct {
	AutoRecallLimit        int
	IdleSeconds             int
	EpisodeRotateThreshold int
}

func (c Config) withDefaults() Config {
	if c.AutoRecallLimit <= 0 {
		c.AutoRecallLimit = 10
	}
	if c.IdleSeconds <= 0 {
		c.IdleSeconds = 120
	}
	if c.EpisodeRotateThreshold <= 0 {
		c.EpisodeRotateThreshold = 50
	}
	return c
}

type pendingPair struct {
	userText, assistantText string
}

type sessionState struct {
	mu              sync.Mutex
	episodeID       string
	messageCount    int
	extractionQueue []pendingPair
	lastActivity    time.Time
	timer           *time.Timer
}

// Monitor is the Stream Monitor (spec §4.5).
type Monitor struct {
	cfg        Config
	asm        *asm.ASM
	episodes   *episodic.Store
	agentName  string
	userName   string
	workspace  WorkspaceSummarizer

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New constructs a Monitor. workspace may be nil if no Goal Adapter is
// wired yet.
func New(a *asm.ASM, episodes *episodic.Store, agentName, userName string, workspace WorkspaceSummarizer, cfg Config) *Monitor {
	return &Monitor{
		cfg:       cfg.withDefaults(),
		asm:       a,
		episodes:  episodes,
		agentName: agentName,
		userName:  userName,
		workspace: workspace,
		sessions:  make(map[string]*sessionState),
	}
}

func (m *Monitor) session(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{lastActivity: time.Now()}
		m.sessions[sessionID] = st
	}
	return st
}

// PreProcess assembles the recall context injected ahead of a turn
// (spec §4.5). Every sub-step is fail-safe: errors are logged and the
// step is skipped rather than propagated.
func (m *Monitor) PreProcess(ctx context.Context, text, sessionID string) string {
	log := logging.For("streammonitor")
	var parts []string

	if recall := m.recallSection(ctx, text); recall != "" {
		parts = append(parts, recall)
	}

	if goals, err := m.asm.GetActiveGoalsForPrompt(ctx, m.agentName, 0); err != nil {
		log.Warn().Err(err).Msg("pre_process: get_active_goals_for_prompt failed")
	} else if goals != "" {
		parts = append(parts, "=== YOUR ACTIVE GOALS ===\n"+goals+"=== END ACTIVE GOALS ===")
	}

	if m.workspace != nil {
		if summary, err := m.workspace.GetWorkspaceSummary(ctx); err != nil {
			log.Warn().Err(err).Msg("pre_process: get_workspace_summary failed")
		} else if summary != "" {
			parts = append(parts, "=== ACTIVE WORKSPACES ===\n"+summary+"=== END ACTIVE WORKSPACES ===")
		}
	}

	return strings.Join(parts, "\n\n")
}

func (m *Monitor) recallSection(ctx context.Context, text string) string {
	log := logging.For("streammonitor")
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("pre_process: recall section panicked")
		}
	}()

	result := m.asm.QueryRelatedInformation(ctx, text, asm.RetrievalOptions{
		Limit:                 m.cfg.AutoRecallLimit,
		MinConfidence:         0.3,
		IncludeSummaryTriples: true,
		HopDepth:              1,
		ReturnSummary:         false,
		IncludeTriples:        true,
	})
	if result.TripleCount == 0 {
		return ""
	}

	var b strings.Builder
	for _, st := range result.Triples {
		topics := st.Meta.Topics
		if len(topics) > 3 {
			topics = topics[:3]
		}
		if len(topics) > 0 {
			fmt.Fprintf(&b, "- %s %s %s (topics: %s)\n", st.T.Subject, st.T.Relationship, st.T.Object, strings.Join(topics, ", "))
		} else {
			fmt.Fprintf(&b, "- %s %s %s\n", st.T.Subject, st.T.Relationship, st.T.Object)
		}
	}
	return b.String()
}

// PostProcess files a completed turn away: appends it to the current
// episode, enqueues it for extraction, handles rotation, and
// (re)schedules the idle-flush timer (spec §4.5).
func (m *Monitor) PostProcess(ctx context.Context, sessionID, userText, assistantText string) {
	st := m.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	log := logging.For("streammonitor")

	if st.episodeID == "" {
		id, err := m.episodes.CreateEpisode(ctx, sessionID, nil)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("post_process: create_episode failed")
		} else {
			st.episodeID = id
		}
	}

	if st.episodeID != "" {
		now := time.Now().Unix()
		m.episodes.AddMessageToEpisode(ctx, st.episodeID, m.userName, userText, now)
		m.episodes.AddMessageToEpisode(ctx, st.episodeID, m.agentName, assistantText, now)
	}
	st.messageCount += 2
	st.lastActivity = time.Now()

	if len(userText) > 10 || len(assistantText) > 10 {
		st.extractionQueue = append(st.extractionQueue, pendingPair{userText: userText, assistantText: assistantText})
	}

	if st.messageCount >= m.cfg.EpisodeRotateThreshold {
		if st.episodeID != "" {
			m.episodes.FinalizeEpisode(ctx, st.episodeID, nil, "")
		}
		st.episodeID = ""
		st.messageCount = 0
	}

	m.rescheduleIdleTimer(sessionID, st)
}

func (m *Monitor) rescheduleIdleTimer(sessionID string, st *sessionState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(time.Duration(m.cfg.IdleSeconds)*time.Second, func() {
		m.Consolidate(context.Background(), sessionID)
	})
}

// Consolidate atomically drains the extraction queue and ingests each
// pair into ASM (spec §4.5).
func (m *Monitor) Consolidate(ctx context.Context, sessionID string) {
	st := m.session(sessionID)

	st.mu.Lock()
	pending := st.extractionQueue
	st.extractionQueue = nil
	st.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	log := logging.For("streammonitor")
	now := time.Now().Unix()
	for _, p := range pending {
		text := fmt.Sprintf("SPEAKER:%s|%s\nSPEAKER:%s|%s", m.userName, p.userText, m.agentName, p.assistantText)
		result := m.asm.IngestText(ctx, text, fmt.Sprintf("conversation:%s", sessionID), now, "", "")
		if len(result.Triples) == 0 {
			log.Debug().Str("session_id", sessionID).Msg("consolidate: no triples extracted for pair")
		}
	}
}

// Flush cancels the idle timer, consolidates synchronously, and
// finalizes the current episode (spec §4.5).
func (m *Monitor) Flush(ctx context.Context, sessionID string) {
	st := m.session(sessionID)

	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
	}
	episodeID := st.episodeID
	st.episodeID = ""
	st.messageCount = 0
	st.mu.Unlock()

	m.Consolidate(ctx, sessionID)

	if episodeID != "" {
		m.episodes.FinalizeEpisode(ctx, episodeID, nil, "")
	}
}
