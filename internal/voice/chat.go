package voice

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

// Chat reaches back into the chat platform from a live call: thread
// history feeds the greeting, Post delivers the wrap-up summary. Both are
// plain REST calls; the gateway never holds a realtime chat connection.
type Chat interface {
	// History returns up to limit recent messages from a thread, oldest
	// first. Best effort: callers treat an error like an empty thread.
	History(ctx context.Context, channel, threadTS string, limit int) ([]ChatMessage, error)

	// Post writes text into the thread (or the channel top level when
	// threadTS is empty).
	Post(ctx context.Context, channel, threadTS, text string) error
}

// ChatMessage is one line of thread context.
type ChatMessage struct {
	Author string
	Text   string
}

// --- Slack ---

// slackWebAPI abstracts the Slack Web API methods we use, enabling test
// mocks.
type slackWebAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
}

// SlackChat implements Chat over the Slack Web API.
type SlackChat struct {
	client slackWebAPI
}

// SlackChatOpts holds parameters for creating a SlackChat.
type SlackChatOpts struct {
	BotToken string // xoxb-... Slack bot token
	// For testing: inject a mock client instead of the real API.
	Client slackWebAPI
}

// NewSlackChat creates a Slack-backed Chat.
func NewSlackChat(opts SlackChatOpts) (*SlackChat, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("voice: slack bot token is required")
	}
	c := &SlackChat{client: opts.Client}
	if c.client == nil {
		c.client = slackapi.New(opts.BotToken)
	}
	return c, nil
}

func (c *SlackChat) History(ctx context.Context, channel, threadTS string, limit int) ([]ChatMessage, error) {
	if threadTS == "" {
		return nil, nil
	}
	msgs, _, _, err := c.client.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("voice: slack history: %w", err)
	}
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		author := m.Username
		if author == "" {
			author = m.User
		}
		out = append(out, ChatMessage{Author: author, Text: m.Text})
	}
	// Replies come oldest first; keep the most recent tail.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (c *SlackChat) Post(ctx context.Context, channel, threadTS, text string) error {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(threadTS))
	}
	if _, _, err := c.client.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("voice: slack post: %w", err)
	}
	return nil
}

// --- Discord ---

// discordREST abstracts the discordgo REST methods we use. These work
// without opening the gateway websocket.
type discordREST interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChat implements Chat over the Discord REST API. Threads are
// channels in Discord, so a non-empty threadTS is the channel to target.
type DiscordChat struct {
	session discordREST
}

// DiscordChatOpts holds parameters for creating a DiscordChat.
type DiscordChatOpts struct {
	BotToken string
	// For testing: inject a mock session instead of the real API.
	Session discordREST
}

// NewDiscordChat creates a Discord-backed Chat.
func NewDiscordChat(opts DiscordChatOpts) (*DiscordChat, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("voice: discord bot token is required")
	}
	c := &DiscordChat{session: opts.Session}
	if c.session == nil {
		sess, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("voice: discord session: %w", err)
		}
		c.session = sess
	}
	return c, nil
}

func (c *DiscordChat) History(ctx context.Context, channel, threadTS string, limit int) ([]ChatMessage, error) {
	target := threadTS
	if target == "" {
		target = channel
	}
	if target == "" {
		return nil, nil
	}
	msgs, err := c.session.ChannelMessages(target, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("voice: discord history: %w", err)
	}
	// Discord returns newest first.
	out := make([]ChatMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		author := ""
		if m.Author != nil {
			author = m.Author.Username
		}
		out = append(out, ChatMessage{Author: author, Text: m.Content})
	}
	return out, nil
}

func (c *DiscordChat) Post(ctx context.Context, channel, threadTS, text string) error {
	target := threadTS
	if target == "" {
		target = channel
	}
	if _, err := c.session.ChannelMessageSend(target, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("voice: discord post: %w", err)
	}
	return nil
}
