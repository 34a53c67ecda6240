// Package messaging provides the outbound transport abstraction for
// FlowReply and its WhatsApp (Whatsmeow) and Twilio implementations.
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/store"
)

// Constants for transport service configuration.
const (
	// DefaultChannelBufferSize defines the default buffer size for the
	// inbound message channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel
	// sends before an inbound message is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// Inbound is one incoming end-user message surfaced by a transport.
type Inbound struct {
	From      string    // sender identifier (phone number)
	Name      string    // sender display name, may be empty
	Body      string    // message text
	Timestamp time.Time // transport receive time
}

// Sender delivers an assembled message payload to a destination and records
// the delivery bookkeeping. The core does not interpret the result beyond
// best-effort logging.
type Sender interface {
	SendPayload(ctx context.Context, to string, payload models.MessagePayload, history models.HistoryRecord) error
}

// Service is a pluggable transport: it sends payloads and surfaces incoming
// end-user messages on a channel.
type Service interface {
	Sender

	// Start begins background processing (event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns the channel of incoming end-user messages.
	Inbound() <-chan Inbound
}

// recordHistory best-effort persists a delivery bookkeeping record.
func recordHistory(st store.Store, h models.HistoryRecord) {
	if st == nil {
		return
	}
	if err := st.AddHistory(h); err != nil {
		slog.Error("Failed to record message history", "error", err, "id", h.ID)
	}
}

// MockSender is a recording Sender for tests.
type MockSender struct {
	mu    sync.Mutex
	sends []MockSend
	// Err, when set, is returned from every SendPayload call.
	Err error
}

// MockSend is one recorded SendPayload invocation.
type MockSend struct {
	To      string
	Payload models.MessagePayload
	History models.HistoryRecord
}

// NewMockSender creates an empty recording sender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendPayload(ctx context.Context, to string, payload models.MessagePayload, history models.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sends = append(m.sends, MockSend{To: to, Payload: payload, History: history})
	return nil
}

// Sends returns a copy of the recorded sends.
func (m *MockSender) Sends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.sends))
	copy(out, m.sends)
	return out
}
