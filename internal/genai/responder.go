package genai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowreply/flowreply/internal/dispatch"
	"github.com/flowreply/flowreply/internal/messaging"
	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/template"
)

const defaultSystemPrompt = "You are a helpful assistant replying on behalf of a business " +
	"inside a WhatsApp conversation. Keep replies short and conversational."

// Responder answers AI_BOT nodes with a model-generated reply. It satisfies
// the dispatcher's Responder contract: the generated text is sent back over
// the conversation transport as a plain text message.
type Responder struct {
	completer Completer
	sender    messaging.Sender
}

// NewResponder builds an AI responder on top of a completer and a message
// transport.
func NewResponder(completer Completer, sender messaging.Sender) *Responder {
	return &Responder{completer: completer, sender: sender}
}

// Respond handles one AI_BOT node: it composes a prompt from the node
// content and the session variables, generates a reply, and sends it to the
// inbound sender.
func (r *Responder) Respond(ctx context.Context, rc dispatch.RespondContext) error {
	slog.Debug("Responder.Respond: handling AI node", "node", rc.Node.ID, "sender", rc.Invocation.SenderID)

	system := defaultSystemPrompt
	if rc.Node.Data.MsgContent != nil && rc.Node.Data.MsgContent.Text != nil && rc.Node.Data.MsgContent.Text.Body != "" {
		system = template.Resolve(rc.Node.Data.MsgContent.Text.Body, rc.Variables)
	}

	reply, err := r.completer.Complete(ctx, system, rc.Invocation.Message)
	if err != nil {
		slog.Error("Responder.Respond: completion failed", "error", err, "node", rc.Node.ID)
		return fmt.Errorf("failed to generate AI reply: %w", err)
	}

	payload := &models.MessagePayload{
		Type: models.ContentTypeText,
		Text: &models.TextContent{PreviewURL: true, Body: reply},
	}
	history := models.HistoryRecord{
		ID:        uuid.NewString(),
		AccountID: rc.Invocation.AccountID,
		ChatID:    rc.Invocation.ChatID,
		Kind:      models.ContentTypeText,
		Payload:   payload,
		Direction: models.DirectionOutgoing,
		Status:    models.StatusSent,
		Timestamp: time.Now(),
	}
	if err := r.sender.SendPayload(ctx, rc.Invocation.SenderID, *payload, history); err != nil {
		slog.Error("Responder.Respond: failed to send AI reply", "error", err, "to", rc.Invocation.SenderID)
		return fmt.Errorf("failed to send AI reply: %w", err)
	}
	slog.Debug("Responder.Respond: reply sent", "node", rc.Node.ID, "to", rc.Invocation.SenderID)
	return nil
}
