package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockAdapter is an in-memory Adapter for tests. Sends are recorded and
// assigned sequential message ids, edits are recorded, and inbound traffic
// is simulated through a channel.
type MockAdapter struct {
	mu      sync.Mutex
	sent    []OutboundMessage
	ids     []string
	updates []UpdateRecord
	history map[string][]ThreadMessage
	files   map[string][]byte
	nextID  int

	inbound chan InboundMessage
	closed  bool
	userID  string

	SendErr   error // when set, Send fails with it
	UpdateErr error // when set, Update fails with it
}

// UpdateRecord captures one Update call.
type UpdateRecord struct {
	ChannelID string
	ThreadTS  string
	MessageID string
	Text      string
}

// NewMockAdapter creates a MockAdapter posing as bot user "BOT".
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		history: make(map[string][]ThreadMessage),
		files:   make(map[string][]byte),
		inbound: make(chan InboundMessage, 100),
		userID:  "BOT",
	}
}

func (m *MockAdapter) Connect(ctx context.Context) error { return nil }

func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	return m.inbound, nil
}

func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.nextID++
	id := fmt.Sprintf("m%d", m.nextID)
	m.sent = append(m.sent, msg)
	m.ids = append(m.ids, id)
	return id, nil
}

func (m *MockAdapter) Update(ctx context.Context, channelID, threadTS, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.updates = append(m.updates, UpdateRecord{
		ChannelID: channelID,
		ThreadTS:  threadTS,
		MessageID: messageID,
		Text:      text,
	})
	return nil
}

func (m *MockAdapter) ThreadHistory(ctx context.Context, channelID, threadTS string, limit int) ([]ThreadMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.history[channelID+"|"+threadTS]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ThreadMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MockAdapter) Download(ctx context.Context, att Attachment, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.files[att.ID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: no file %q", att.ID)
	}
	_, err := w.Write(data)
	return err
}

// Close closes the inbound channel, ending any Listen stream.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock: already closed")
	}
	m.closed = true
	close(m.inbound)
	return nil
}

// BotUserID returns the mock bot's user id.
func (m *MockAdapter) BotUserID() string { return m.userID }

// SimulateInbound delivers a message as if the platform sent it.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	m.inbound <- msg
}

// SetThreadHistory seeds the history returned for a thread.
func (m *MockAdapter) SetThreadHistory(channelID, threadTS string, msgs []ThreadMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[channelID+"|"+threadTS] = msgs
}

// SetFile seeds the content served for an attachment id.
func (m *MockAdapter) SetFile(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[id] = data
}

// SentCount returns how many messages have been sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// LastSent returns the most recently sent message, or false if none.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// AllSent returns a copy of every sent message in order.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentIDs returns the message ids assigned by Send, in order.
func (m *MockAdapter) SentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out
}

// Updates returns a copy of every Update call in order.
func (m *MockAdapter) Updates() []UpdateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UpdateRecord, len(m.updates))
	copy(out, m.updates)
	return out
}
