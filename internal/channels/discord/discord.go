// Package discord adapts a Discord bot connection onto the Event Bus,
// grounded on the teacher's internal/senses.DiscordSense connection
// handling (bwmarrin/discordgo session lifecycle, self-message
// filtering) but emitting eventbus.Event rather than the teacher's own
// percept type.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Config configures the Discord channel.
type Config struct {
	Enabled bool
	Token   string
}

// Channel is the Discord event source.
type Channel struct {
	session *discordgo.Session
	bus     *eventbus.Bus
	botID   string
}

const SourceChannel = "discord"

// New opens a Discord session and registers a message handler that
// enqueues USER_DIRECT events onto bus.
func New(cfg Config, bus *eventbus.Bus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	c := &Channel{session: session, bus: bus}
	session.AddHandler(c.handleMessage)
	return c, nil
}

// Start opens the Discord connection.
func (c *Channel) Start() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open connection: %w", err)
	}
	if c.session.State.User != nil {
		c.botID = c.session.State.User.ID
	}
	logging.For("channels.discord").Info().Msg("connected")
	return nil
}

// Stop closes the Discord connection.
func (c *Channel) Stop() error { return c.session.Close() }

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == c.botID {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	event := eventbus.New(eventbus.TypeChat, map[string]any{
		"session_id": "discord:" + m.ChannelID,
		"content":    content,
	}, eventbus.PriorityUserDirect, SourceChannel)
	event.ReplyTo = m.ChannelID
	c.bus.Put(event)
}

// ResponseHandler sends a turn's response back to the originating
// Discord channel.
func (c *Channel) ResponseHandler(ctx context.Context, event *eventbus.Event, response string) {
	if event.ReplyTo == "" {
		return
	}
	if _, err := c.session.ChannelMessageSend(event.ReplyTo, response); err != nil {
		logging.For("channels.discord").Warn().Err(err).Msg("response_handler: send failed")
	}
}
