// Package bridge connects a chat platform to the agent subprocess: it maps
// threads to resumable agent sessions, runs at most one invocation per
// thread, renders live tool status into message edits, and gates
// voice-originated pending executions behind chat approval.
package bridge

import (
	"context"
	"io"
	"time"
)

// Adapter is the interface platform-specific implementations must satisfy.
// Each adapter handles connection management, message send/edit/receive,
// thread history retrieval, and attachment download for one chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts an outbound message and returns its platform message id,
	// which Update accepts for later edits.
	Send(ctx context.Context, msg OutboundMessage) (string, error)

	// Update edits a previously posted message in place. The bridge uses
	// it for the live status indicator.
	Update(ctx context.Context, channelID, threadTS, messageID, text string) error

	// ThreadHistory retrieves recent messages from a thread, oldest first.
	ThreadHistory(ctx context.Context, channelID, threadTS string, limit int) ([]ThreadMessage, error)

	// Download fetches an attachment's content into w.
	Download(ctx context.Context, att Attachment, w io.Writer) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform    string       // e.g. "slack", "discord"
	ChannelID   string       // platform-specific channel identifier
	ThreadTS    string       // thread-root marker (empty if top-level)
	UserID      string       // platform-specific user identifier
	UserName    string       // human-readable username
	Text        string       // raw message text
	Timestamp   time.Time    // when the message was sent
	Attachments []Attachment // files attached to the message
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string // target channel
	ThreadTS  string // thread to reply in (empty for a top-level message)
	Text      string // message text (platform-native formatting)
}

// Attachment describes a file attached to an inbound message. The content
// is fetched lazily via Adapter.Download.
type Attachment struct {
	ID   string
	Name string
	Mime string
	Size int64
	URL  string
}

// ThreadMessage represents a single message within a thread history.
type ThreadMessage struct {
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
