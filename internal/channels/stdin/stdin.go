// Package stdin is the simplest possible event source: an interactive
// terminal REPL, grounded on the teacher's own bufio.NewReader(os.Stdin)
// usage in cmd/bud/main.go's pid-file prompt.
package stdin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
)

const SourceChannel = "stdin"

// Channel reads lines from stdin and enqueues them as USER_DIRECT chat
// events under a single fixed session.
type Channel struct {
	bus       *eventbus.Bus
	sessionID string
}

// New constructs a stdin channel under the given session id.
func New(bus *eventbus.Bus, sessionID string) *Channel {
	if sessionID == "" {
		sessionID = "stdin:local"
	}
	return &Channel{bus: bus, sessionID: sessionID}
}

// Start reads lines until ctx is done or stdin is closed.
func (c *Channel) Start(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			c.bus.Put(eventbus.New(eventbus.TypeChat, map[string]any{
				"session_id": c.sessionID,
				"content":    line,
			}, eventbus.PriorityUserDirect, SourceChannel))
		}
	}()
}

// ResponseHandler prints the turn's response to stdout.
func (c *Channel) ResponseHandler(ctx context.Context, event *eventbus.Event, response string) {
	fmt.Printf("%s\n", response)
}
