package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

type fakeGoalAdapter struct {
	resetCalls int
	event      *eventbus.Event
}

func (f *fakeGoalAdapter) NextGoalEvent(ctx context.Context) (*eventbus.Event, error) {
	e := f.event
	f.event = nil
	return e, nil
}
func (f *fakeGoalAdapter) ResetConsecutive() { f.resetCalls++ }

func echoChat(ctx context.Context, sessionID, content string) (string, error) {
	return "echo: " + content, nil
}

func TestHandleUserEventInvokesChatAndHandler(t *testing.T) {
	bus := eventbus.New()
	var gotResponse string
	p := New(bus, echoChat, nil, nil, Config{})
	p.RegisterResponseHandler("chat", func(ctx context.Context, event *eventbus.Event, response string) {
		gotResponse = response
	})

	bus.Put(eventbus.New(eventbus.TypeChat, map[string]any{"session_id": "s1", "content": "hi"}, eventbus.PriorityUserDirect, "chat"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event, fromBus, err := p.nextEvent(ctx)
	if err != nil {
		t.Fatalf("nextEvent failed: %v", err)
	}
	if !fromBus {
		t.Fatal("expected event from bus")
	}
	p.handleEvent(ctx, event, fromBus)

	time.Sleep(50 * time.Millisecond)
	if gotResponse != "echo: hi" {
		t.Fatalf("expected handler invoked with echoed response, got %q", gotResponse)
	}
}

func TestNextEventFallsBackToGoalAdapter(t *testing.T) {
	bus := eventbus.New()
	goalEvent := eventbus.New(eventbus.TypeGoalPursuit, map[string]any{"session_id": "goal_x", "content": "pursue"}, eventbus.PriorityGoalDriven, "goal")
	ga := &fakeGoalAdapter{event: goalEvent}
	p := New(bus, echoChat, ga, nil, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event, fromBus, err := p.nextEvent(ctx)
	if err != nil {
		t.Fatalf("nextEvent failed: %v", err)
	}
	if fromBus {
		t.Fatal("expected event from goal adapter, not bus")
	}
	if event != goalEvent {
		t.Fatal("expected the goal adapter's event")
	}
}

func TestResetConsecutiveCalledOnUserEvent(t *testing.T) {
	bus := eventbus.New()
	ga := &fakeGoalAdapter{}
	p := New(bus, echoChat, ga, nil, Config{})

	bus.Put(eventbus.New(eventbus.TypeChat, map[string]any{"session_id": "s1", "content": "hi"}, eventbus.PriorityUserDirect, "chat"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := p.nextEvent(ctx); err != nil {
		t.Fatalf("nextEvent failed: %v", err)
	}
	if ga.resetCalls != 1 {
		t.Fatalf("expected reset_consecutive called once, got %d", ga.resetCalls)
	}
}

func TestScheduleDirectiveExtractsAndEnqueues(t *testing.T) {
	bus := eventbus.New()
	p := New(bus, echoChat, nil, nil, Config{})

	p.scheduleDirectives("I will get back to you. [SCHEDULE: 0 | follow up with the user]")
	time.Sleep(50 * time.Millisecond)

	if bus.Empty() {
		t.Fatal("expected a self-scheduled event to be enqueued")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := bus.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.EventType != eventbus.TypeSelfSchedule {
		t.Fatalf("expected self_scheduled event, got %s", e.EventType)
	}
	if e.Content() != "follow up with the user" {
		t.Fatalf("unexpected content: %q", e.Content())
	}
}

func TestFirstParagraphTruncated(t *testing.T) {
	text := "```\ncode here\n```\n\nThis is the real first paragraph that we care about and it is quite long so it should get truncated eventually at a word boundary with an ellipsis appended at the end.\n\nSecond paragraph."
	got := firstParagraphTruncated(text, 50)
	if len(got) > 54 {
		t.Fatalf("expected truncation near 50 chars, got %d: %q", len(got), got)
	}
	if got[len(got)-3:] != "..." {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

type fakeJournal struct {
	rec *vkg.TripleRecord
}

func (f *fakeJournal) QueryGoalByDescription(ctx context.Context, description string, threshold float64) (*vkg.TripleRecord, error) {
	if f.rec == nil {
		return nil, vkg.ErrNotFound
	}
	return f.rec, nil
}
func (f *fakeJournal) UpdateGoalMeta(ctx context.Context, id string, meta vkg.Meta) error {
	f.rec.Meta = meta
	return nil
}

func TestJournalProgressAppendsAndBounds(t *testing.T) {
	bus := eventbus.New()
	journal := &fakeJournal{rec: &vkg.TripleRecord{ID: "g1", T: vkg.Triple{Object: "Finish the report"}, Meta: vkg.Meta{}}}
	p := New(bus, echoChat, nil, journal, Config{})

	event := eventbus.New(eventbus.TypeGoalPursuit, map[string]any{"session_id": "goal_x", "content": "go"}, eventbus.PriorityGoalDriven, "goal")
	event.Metadata = map[string]any{"goal_description": "Finish the report"}

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		p.journalProgress(ctx, event, "Made some more progress today on the thing.")
	}

	if len(journal.rec.Meta.JournalEntries) != vkg.MaxJournalEntries {
		t.Fatalf("expected %d journal entries, got %d", vkg.MaxJournalEntries, len(journal.rec.Meta.JournalEntries))
	}
}
