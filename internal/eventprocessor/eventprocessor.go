// Package eventprocessor implements the single consumer of the Event
// Bus — the agent's heartbeat (spec §4.7).
package eventprocessor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// ChatFunc runs one synchronous turn of the agent pipeline.
type ChatFunc func(ctx context.Context, sessionID, content string) (string, error)

// GoalAdapter is the pull-only goal event source (satisfied by
// goaladapter.Adapter).
type GoalAdapter interface {
	NextGoalEvent(ctx context.Context) (*eventbus.Event, error)
	ResetConsecutive()
}

// GoalJournal writes progress notes back onto a goal's metadata
// (satisfied by the VKG store).
type GoalJournal interface {
	QueryGoalByDescription(ctx context.Context, description string, threshold float64) (*vkg.TripleRecord, error)
	UpdateGoalMeta(ctx context.Context, id string, meta vkg.Meta) error
}

// ResponseHandler routes a completed turn's response back out a
// channel (HTTP future resolution, Telegram send, stdout, ...).
type ResponseHandler func(ctx context.Context, event *eventbus.Event, response string)

// Config tunes the processor (spec §4.7).
type Config struct {
	RateLimitPerHour int
}

func (c Config) withDefaults() Config {
	if c.RateLimitPerHour <= 0 {
		c.RateLimitPerHour = 120
	}
	return c
}

// Processor is the Event Processor.
type Processor struct {
	cfg         Config
	bus         *eventbus.Bus
	chat        ChatFunc
	goalAdapter GoalAdapter
	journal     GoalJournal

	mu       sync.Mutex
	handlers map[string]ResponseHandler

	rateMu    sync.Mutex
	rateTimes []time.Time
}

// New constructs a Processor. goalAdapter and journal may be nil if
// goal pursuit is disabled.
func New(bus *eventbus.Bus, chat ChatFunc, goalAdapter GoalAdapter, journal GoalJournal, cfg Config) *Processor {
	return &Processor{
		cfg:         cfg.withDefaults(),
		bus:         bus,
		chat:        chat,
		goalAdapter: goalAdapter,
		journal:     journal,
		handlers:    make(map[string]ResponseHandler),
	}
}

// RegisterResponseHandler wires a channel's response handler (spec
// §4.7).
func (p *Processor) RegisterResponseHandler(sourceChannel string, handler ResponseHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[sourceChannel] = handler
}

// Run is the main loop (spec §4.7 step 1-3). It returns when ctx is
// cancelled or a SHUTDOWN event is handled.
func (p *Processor) Run(ctx context.Context) error {
	log := logging.For("eventprocessor")
	for {
		event, fromBus, err := p.nextEvent(ctx)
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}
		if event.EventType == eventbus.TypeShutdown {
			log.Info().Msg("run: shutdown event received, exiting")
			return nil
		}
		p.handleEvent(ctx, event, fromBus)
	}
}

// nextEvent implements spec §4.7 step 1.
func (p *Processor) nextEvent(ctx context.Context) (event *eventbus.Event, fromBus bool, err error) {
	if !p.bus.Empty() {
		e, getErr := p.bus.Get(ctx)
		if getErr != nil {
			return nil, false, getErr
		}
		if e.Priority <= eventbus.PriorityUserQueued && p.goalAdapter != nil {
			p.goalAdapter.ResetConsecutive()
		}
		return e, true, nil
	}

	if p.goalAdapter != nil {
		e, goalErr := p.goalAdapter.NextGoalEvent(ctx)
		if goalErr != nil {
			return nil, false, goalErr
		}
		if e != nil {
			return e, false, nil
		}
	}

	e, getErr := p.bus.Get(ctx)
	if getErr != nil {
		return nil, false, getErr
	}
	if e.Priority <= eventbus.PriorityUserQueued && p.goalAdapter != nil {
		p.goalAdapter.ResetConsecutive()
	}
	return e, true, nil
}

var scheduleDirective = regexp.MustCompile(`\[SCHEDULE:\s*(\d+)\s*\|\s*(.+?)\]`)

// handleEvent implements spec §4.7's handle_event.
func (p *Processor) handleEvent(ctx context.Context, event *eventbus.Event, fromBus bool) {
	log := logging.For("eventprocessor")
	isUser := event.Priority <= eventbus.PriorityUserQueued

	if !isUser && !p.allowBackground() {
		log.Warn().Str("event_id", event.ID).Msg("handle_event: rate limit exceeded, skipping")
		if fromBus {
			p.bus.TaskDone()
		}
		return
	}

	sessionID := event.SessionID()
	content := event.Content()
	if content == "" {
		if fromBus {
			p.bus.TaskDone()
		}
		return
	}

	response, err := p.chat(ctx, sessionID, content)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("handle_event: chat failed")
		response = fmt.Sprintf("Error processing event: %v", err)
	}

	if fromBus {
		p.bus.TaskDone()
	}

	p.mu.Lock()
	handler := p.handlers[event.SourceChannel]
	p.mu.Unlock()
	if handler != nil {
		go handler(ctx, event, response)
	}

	p.scheduleDirectives(response)

	if event.EventType == eventbus.TypeGoalPursuit {
		p.journalProgress(ctx, event, response)
	}
}

func (p *Processor) allowBackground() bool {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	kept := p.rateTimes[:0]
	for _, t := range p.rateTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.rateTimes = kept

	if len(p.rateTimes) >= p.cfg.RateLimitPerHour {
		return false
	}
	p.rateTimes = append(p.rateTimes, time.Now())
	return true
}

func (p *Processor) scheduleDirectives(response string) {
	matches := scheduleDirective.FindAllStringSubmatch(response, -1)
	for _, m := range matches {
		seconds, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		prompt := strings.TrimSpace(m[2])
		time.AfterFunc(time.Duration(seconds)*time.Second, func() {
			p.bus.PutThreadsafe(eventbus.New(eventbus.TypeSelfSchedule, map[string]any{
				"session_id": "autonomous",
				"content":    prompt,
			}, eventbus.PrioritySelfEvent, "self"))
		})
	}
}

var codeBlock = regexp.MustCompile("(?s)```.*?```")

func (p *Processor) journalProgress(ctx context.Context, event *eventbus.Event, response string) {
	log := logging.For("eventprocessor")
	if p.journal == nil {
		return
	}
	goalDescription, _ := event.Metadata["goal_description"].(string)
	if goalDescription == "" {
		return
	}

	note := firstParagraphTruncated(response, 200)
	if note == "" {
		return
	}

	rec, err := p.journal.QueryGoalByDescription(ctx, goalDescription, 0.9)
	if err != nil {
		log.Warn().Err(err).Str("goal", goalDescription).Msg("journal_progress: goal lookup failed")
		return
	}

	meta := rec.Meta
	meta.JournalEntries = append(meta.JournalEntries, vkg.JournalEntry{Note: note, Timestamp: time.Now().Unix()})
	if len(meta.JournalEntries) > vkg.MaxJournalEntries {
		meta.JournalEntries = meta.JournalEntries[len(meta.JournalEntries)-vkg.MaxJournalEntries:]
	}

	if err := p.journal.UpdateGoalMeta(ctx, rec.ID, meta); err != nil {
		log.Warn().Err(err).Str("goal", goalDescription).Msg("journal_progress: update failed")
	}
}

// firstParagraphTruncated strips fenced code blocks, takes the first
// remaining paragraph, and truncates to maxLen chars on a word boundary
// with an ellipsis (spec §4.7 step 9).
func firstParagraphTruncated(text string, maxLen int) string {
	stripped := codeBlock.ReplaceAllString(text, "")
	paragraphs := strings.Split(strings.TrimSpace(stripped), "\n\n")
	var first string
	for _, para := range paragraphs {
		trimmed := strings.TrimSpace(para)
		if trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return ""
	}
	if len(first) <= maxLen {
		return first
	}
	cut := first[:maxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
