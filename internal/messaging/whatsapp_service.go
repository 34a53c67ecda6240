package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/store"
	"github.com/flowreply/flowreply/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp
// client. Outbound payloads are flattened to text (WhatsApp via whatsmeow
// carries plain conversation messages); inbound text messages surface on the
// Inbound channel.
type WhatsAppService struct {
	client   whatsapp.TextSender
	waClient *whatsapp.Client // full client for event handling, nil for test doubles
	st       store.Store
	inbound  chan Inbound
	done     chan struct{}
}

// NewWhatsAppService creates a WhatsAppService wrapping the given sender.
// The store, when non-nil, receives delivery bookkeeping records.
func NewWhatsAppService(client whatsapp.TextSender, st store.Store) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		st:      st,
		inbound: make(chan Inbound, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely test double)")
	}
	return s
}

// SendPayload renders the payload to text, delivers it, and records the
// bookkeeping entry.
func (s *WhatsAppService) SendPayload(ctx context.Context, to string, payload models.MessagePayload, history models.HistoryRecord) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	body := RenderText(payload)
	if body == "" {
		return models.ErrEmptyPayload
	}

	if err := s.client.SendText(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendPayload failed", "error", err, "to", to, "kind", payload.Type)
		return err
	}
	recordHistory(s.st, history)
	slog.Info("WhatsAppService payload sent", "to", to, "kind", payload.Type)
	return nil
}

// Start registers the WhatsApp event handler feeding the inbound channel.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.Raw() == nil {
		slog.Debug("WhatsAppService Start: no full client, skipping event handling")
		return nil
	}

	s.waClient.Raw().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing and disconnects the client.
func (s *WhatsAppService) Stop() error {
	close(s.done)
	close(s.inbound)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// Inbound returns the channel of incoming end-user messages.
func (s *WhatsAppService) Inbound() <-chan Inbound {
	return s.inbound
}

// handleIncomingMessage forwards incoming text messages to the inbound
// channel. Non-text messages are skipped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	in := Inbound{
		From:      evt.Info.Sender.User,
		Name:      evt.Info.PushName,
		Body:      text,
		Timestamp: evt.Info.Timestamp,
	}

	select {
	case s.inbound <- in:
		slog.Debug("WhatsAppService inbound message forwarded", "from", in.From, "body_length", len(in.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", in.From)
	}
}
