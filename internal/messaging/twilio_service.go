package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/store"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration options for the Twilio WhatsApp transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// TwilioOption defines a configuration option for the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioService delivers payloads over the Twilio WhatsApp API. Twilio
// surfaces inbound messages through webhooks handled outside this engine;
// an upstream bridge feeds them in through Push.
type TwilioService struct {
	client    *twilio.RestClient
	fromWhats string
	st        store.Store
	inbound   chan Inbound
}

// NewTwilioService creates a Twilio transport, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables for unset options.
func NewTwilioService(st store.Store, opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio transport config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		client:    client,
		fromWhats: cfg.FromWhats,
		st:        st,
		inbound:   make(chan Inbound, DefaultChannelBufferSize),
	}, nil
}

// SendPayload renders the payload to text (the Twilio Go SDK carries plain
// bodies), delivers it, and records the bookkeeping entry.
func (s *TwilioService) SendPayload(ctx context.Context, to string, payload models.MessagePayload, history models.HistoryRecord) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	body := RenderText(payload)
	if body == "" {
		return models.ErrEmptyPayload
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendPayload failed", "error", err, "to", to, "kind", payload.Type)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	recordHistory(s.st, history)
	slog.Info("TwilioService payload sent", "to", to, "kind", payload.Type)
	return nil
}

// Start is a no-op: Twilio inbound traffic arrives through Push.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	close(s.inbound)
	return nil
}

// Inbound returns the channel of incoming end-user messages.
func (s *TwilioService) Inbound() <-chan Inbound {
	return s.inbound
}

// Push feeds one inbound message from an upstream webhook bridge.
func (s *TwilioService) Push(in Inbound) {
	s.inbound <- in
}
