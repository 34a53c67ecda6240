package template

import (
	"log/slog"

	"github.com/flowreply/flowreply/internal/models"
)

// BuildPayload assembles the outbound message payload for a node's
// declarative content, resolving every leaf string against the variable bag.
// Structural fields (interactive actions, raw coordinates) pass through
// unresolved. Unknown content types return nil: the caller must treat that
// as "nothing to send", not an error.
func BuildPayload(content *models.MsgContent, bag any) *models.MessagePayload {
	if content == nil {
		return nil
	}

	switch content.Type {
	case models.ContentTypeText, models.ContentTypeTakeInput:
		// TAKE_INPUT prompts are sent as plain text.
		var body string
		if content.Text != nil {
			body = content.Text.Body
		}
		return &models.MessagePayload{
			Type: models.ContentTypeText,
			Text: &models.TextContent{PreviewURL: true, Body: Resolve(body, bag)},
		}

	case models.ContentTypeImage:
		if content.Image == nil {
			return nil
		}
		return &models.MessagePayload{
			Type: models.ContentTypeImage,
			Image: &models.MediaContent{
				Link:    Resolve(content.Image.Link, bag),
				Caption: Resolve(content.Image.Caption, bag),
			},
		}

	case models.ContentTypeVideo:
		if content.Video == nil {
			return nil
		}
		return &models.MessagePayload{
			Type: models.ContentTypeVideo,
			Video: &models.MediaContent{
				Link:    Resolve(content.Video.Link, bag),
				Caption: Resolve(content.Video.Caption, bag),
			},
		}

	case models.ContentTypeDocument:
		if content.Document == nil {
			return nil
		}
		return &models.MessagePayload{
			Type: models.ContentTypeDocument,
			Document: &models.MediaContent{
				Link:    Resolve(content.Document.Link, bag),
				Caption: Resolve(content.Document.Caption, bag),
			},
		}

	case models.ContentTypeAudio:
		if content.Audio == nil {
			return nil
		}
		return &models.MessagePayload{
			Type:  models.ContentTypeAudio,
			Audio: &models.AudioContent{Link: Resolve(content.Audio.Link, bag)},
		}

	case models.ContentTypeLocation:
		if content.Location == nil {
			return nil
		}
		return &models.MessagePayload{
			Type: models.ContentTypeLocation,
			Location: &models.LocationContent{
				Latitude:  content.Location.Latitude,
				Longitude: content.Location.Longitude,
				Name:      Resolve(content.Location.Name, bag),
				Address:   Resolve(content.Location.Address, bag),
			},
		}

	case models.ContentTypeInteractive:
		if content.Interactive == nil {
			return nil
		}
		switch content.Interactive.Type {
		case models.InteractiveTypeList, models.InteractiveTypeButton:
			return &models.MessagePayload{
				Type: models.ContentTypeInteractive,
				Interactive: &models.InteractiveContent{
					Type:   content.Interactive.Type,
					Header: resolveFragment(content.Interactive.Header, bag),
					Body:   resolveFragment(content.Interactive.Body, bag),
					Footer: resolveFragment(content.Interactive.Footer, bag),
					Action: content.Interactive.Action,
				},
			}
		}
		slog.Debug("Unknown interactive content type, nothing to send", "interactive_type", content.Interactive.Type)
		return nil
	}

	slog.Debug("Unknown message content type, nothing to send", "content_type", content.Type)
	return nil
}

// resolveFragment resolves an interactive header/body/footer text fragment.
func resolveFragment(f *models.InteractiveText, bag any) *models.InteractiveText {
	if f == nil {
		return nil
	}
	return &models.InteractiveText{Type: f.Type, Text: Resolve(f.Text, bag)}
}

// ResolveContent substitutes placeholders in a node's content against the
// bag and returns the resolved copy. Message-kind content comes back in its
// payload shape (TAKE_INPUT prompts become text); request-kind content has
// its URL template resolved; anything else is returned unchanged. Used by
// MAKE_REQUEST fan-out to merge response data into downstream nodes.
func ResolveContent(content *models.MsgContent, bag any) *models.MsgContent {
	if content == nil {
		return nil
	}

	if payload := BuildPayload(content, bag); payload != nil {
		return &models.MsgContent{
			Type:        payload.Type,
			Text:        payload.Text,
			Image:       payload.Image,
			Video:       payload.Video,
			Document:    payload.Document,
			Audio:       payload.Audio,
			Location:    payload.Location,
			Interactive: payload.Interactive,
			AssignAI:    content.AssignAI,
		}
	}

	resolved := *content
	if resolved.URL != "" {
		resolved.URL = Resolve(resolved.URL, bag)
	}
	return &resolved
}
