package messaging

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowreply/flowreply/internal/models"
)

// interactiveAction is the loose shape of an authored interactive action
// definition, decoded leniently for text rendering.
type interactiveAction struct {
	Button  string `json:"button,omitempty"`
	Buttons []struct {
		Reply struct {
			Title string `json:"title"`
		} `json:"reply"`
	} `json:"buttons,omitempty"`
	Sections []struct {
		Title string `json:"title,omitempty"`
		Rows  []struct {
			Title string `json:"title"`
		} `json:"rows,omitempty"`
	} `json:"sections,omitempty"`
}

// RenderText flattens any message payload to a plain-text body for
// transports that only carry text: media become caption plus link lines,
// interactive messages become their texts followed by numbered options.
func RenderText(payload models.MessagePayload) string {
	switch payload.Type {
	case models.ContentTypeText:
		if payload.Text != nil {
			return payload.Text.Body
		}

	case models.ContentTypeImage:
		return renderMedia(payload.Image)
	case models.ContentTypeVideo:
		return renderMedia(payload.Video)
	case models.ContentTypeDocument:
		return renderMedia(payload.Document)

	case models.ContentTypeAudio:
		if payload.Audio != nil {
			return payload.Audio.Link
		}

	case models.ContentTypeLocation:
		if payload.Location != nil {
			var lines []string
			if payload.Location.Name != "" {
				lines = append(lines, payload.Location.Name)
			}
			if payload.Location.Address != "" {
				lines = append(lines, payload.Location.Address)
			}
			if len(payload.Location.Latitude) > 0 && len(payload.Location.Longitude) > 0 {
				lines = append(lines, fmt.Sprintf("%s,%s", payload.Location.Latitude, payload.Location.Longitude))
			}
			return strings.Join(lines, "\n")
		}

	case models.ContentTypeInteractive:
		if payload.Interactive != nil {
			return renderInteractive(payload.Interactive)
		}
	}
	return ""
}

func renderMedia(m *models.MediaContent) string {
	if m == nil {
		return ""
	}
	if m.Caption != "" {
		return m.Caption + "\n" + m.Link
	}
	return m.Link
}

func renderInteractive(in *models.InteractiveContent) string {
	var lines []string
	for _, f := range []*models.InteractiveText{in.Header, in.Body, in.Footer} {
		if f != nil && f.Text != "" {
			lines = append(lines, f.Text)
		}
	}

	var action interactiveAction
	if len(in.Action) > 0 {
		// Malformed actions render without options.
		_ = json.Unmarshal(in.Action, &action)
	}
	n := 0
	for _, b := range action.Buttons {
		if b.Reply.Title != "" {
			n++
			lines = append(lines, fmt.Sprintf("%d. %s", n, b.Reply.Title))
		}
	}
	for _, s := range action.Sections {
		for _, r := range s.Rows {
			if r.Title != "" {
				n++
				lines = append(lines, fmt.Sprintf("%d. %s", n, r.Title))
			}
		}
	}
	return strings.Join(lines, "\n")
}
