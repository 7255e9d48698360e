// Package telegram adapts a Telegram bot onto the Event Bus via
// long-polling, grounded on the goclaw example's mymmrac/telego usage
// (telego.NewBot + UpdatesViaLongPolling) but simplified to this
// system's single-session chat model rather than goclaw's multi-tenant
// pairing/allowlist machinery.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Config configures the Telegram channel.
type Config struct {
	Enabled        bool
	Token          string
	AllowedChatIDs []int64
}

const SourceChannel = "telegram"

// Channel is the Telegram event source.
type Channel struct {
	bot       *telego.Bot
	bus       *eventbus.Bus
	allowed   map[int64]bool
	pollCancel context.CancelFunc
}

// New creates a Telegram bot client.
func New(cfg Config, bus *eventbus.Bus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	return &Channel{bot: bot, bus: bus, allowed: allowed}, nil
}

// Start begins long-polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	log := logging.For("channels.telegram")
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	go func() {
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	log.Info().Msg("connected")
	return nil
}

// Stop cancels long polling.
func (c *Channel) Stop() {
	if c.pollCancel != nil {
		c.pollCancel()
	}
}

func (c *Channel) handleMessage(msg *telego.Message) {
	if len(c.allowed) > 0 && !c.allowed[msg.Chat.ID] {
		return
	}
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	event := eventbus.New(eventbus.TypeChat, map[string]any{
		"session_id": fmt.Sprintf("telegram:%d", msg.Chat.ID),
		"content":    content,
	}, eventbus.PriorityUserDirect, SourceChannel)
	event.ReplyTo = fmt.Sprintf("%d", msg.Chat.ID)
	c.bus.Put(event)
}

// ResponseHandler sends the turn's response back to the originating chat.
func (c *Channel) ResponseHandler(ctx context.Context, event *eventbus.Event, response string) {
	if event.ReplyTo == "" {
		return
	}
	var chatID int64
	if _, err := fmt.Sscanf(event.ReplyTo, "%d", &chatID); err != nil {
		return
	}
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), response)); err != nil {
		logging.For("channels.telegram").Warn().Err(err).Msg("response_handler: send failed")
	}
}
