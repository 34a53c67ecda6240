package template

import (
	"encoding/json"
	"testing"

	"github.com/flowreply/flowreply/internal/models"
)

func TestBuildPayload_Text(t *testing.T) {
	content := &models.MsgContent{
		Type: models.ContentTypeText,
		Text: &models.TextContent{Body: "Hello {{{senderName}}}"},
	}
	bag := map[string]any{"senderName": "Ana"}

	payload := BuildPayload(content, bag)
	if payload == nil {
		t.Fatal("expected payload, got nil")
	}
	if payload.Type != models.ContentTypeText {
		t.Errorf("expected type text, got %q", payload.Type)
	}
	if payload.Text == nil || payload.Text.Body != "Hello Ana" {
		t.Errorf("unexpected text content: %+v", payload.Text)
	}
	if !payload.Text.PreviewURL {
		t.Error("expected preview_url set on text payloads")
	}
}

func TestBuildPayload_TakeInputPromptIsText(t *testing.T) {
	content := &models.MsgContent{
		Type: models.ContentTypeTakeInput,
		Text: &models.TextContent{Body: "What is your name?"},
	}
	payload := BuildPayload(content, map[string]any{})
	if payload == nil {
		t.Fatal("expected payload, got nil")
	}
	if payload.Type != models.ContentTypeText {
		t.Errorf("expected take_input prompt to render as text, got %q", payload.Type)
	}
	if payload.Text.Body != "What is your name?" {
		t.Errorf("unexpected body %q", payload.Text.Body)
	}
}

func TestBuildPayload_Image(t *testing.T) {
	content := &models.MsgContent{
		Type: models.ContentTypeImage,
		Image: &models.MediaContent{
			Link:    "https://cdn.example.com/{{{file}}}",
			Caption: "For {{{senderName}}}",
		},
	}
	bag := map[string]any{"file": "a.png", "senderName": "Ana"}

	payload := BuildPayload(content, bag)
	if payload == nil || payload.Image == nil {
		t.Fatalf("expected image payload, got %+v", payload)
	}
	if payload.Image.Link != "https://cdn.example.com/a.png" {
		t.Errorf("unexpected link %q", payload.Image.Link)
	}
	if payload.Image.Caption != "For Ana" {
		t.Errorf("unexpected caption %q", payload.Image.Caption)
	}
}

func TestBuildPayload_LocationKeepsRawCoordinates(t *testing.T) {
	content := &models.MsgContent{
		Type: models.ContentTypeLocation,
		Location: &models.LocationContent{
			Latitude:  json.RawMessage(`"43.65"`),
			Longitude: json.RawMessage(`-79.38`),
			Name:      "{{{place}}}",
			Address:   "1 Main St",
		},
	}
	payload := BuildPayload(content, map[string]any{"place": "Office"})
	if payload == nil || payload.Location == nil {
		t.Fatalf("expected location payload, got %+v", payload)
	}
	if string(payload.Location.Latitude) != `"43.65"` || string(payload.Location.Longitude) != `-79.38` {
		t.Errorf("coordinates must pass through unresolved: %s %s", payload.Location.Latitude, payload.Location.Longitude)
	}
	if payload.Location.Name != "Office" {
		t.Errorf("unexpected name %q", payload.Location.Name)
	}
}

func TestBuildPayload_InteractiveButton(t *testing.T) {
	content := &models.MsgContent{
		Type: models.ContentTypeInteractive,
		Interactive: &models.InteractiveContent{
			Type:   models.InteractiveTypeButton,
			Body:   &models.InteractiveText{Type: "text", Text: "Pick one, {{{senderName}}}"},
			Action: json.RawMessage(`{"buttons":[{"reply":{"id":"b1","title":"Yes"}}]}`),
		},
	}
	payload := BuildPayload(content, map[string]any{"senderName": "Ana"})
	if payload == nil || payload.Interactive == nil {
		t.Fatalf("expected interactive payload, got %+v", payload)
	}
	if payload.Interactive.Body.Text != "Pick one, Ana" {
		t.Errorf("unexpected body %q", payload.Interactive.Body.Text)
	}
	if string(payload.Interactive.Action) != `{"buttons":[{"reply":{"id":"b1","title":"Yes"}}]}` {
		t.Error("interactive action must pass through unresolved")
	}
}

func TestBuildPayload_UnknownTypeReturnsNil(t *testing.T) {
	content := &models.MsgContent{Type: "carousel"}
	if payload := BuildPayload(content, map[string]any{}); payload != nil {
		t.Errorf("expected nil payload for unknown type, got %+v", payload)
	}
}

func TestBuildPayload_NilContent(t *testing.T) {
	if payload := BuildPayload(nil, map[string]any{}); payload != nil {
		t.Errorf("expected nil payload for nil content, got %+v", payload)
	}
}

func TestBuildPayload_MissingGroupReturnsNil(t *testing.T) {
	content := &models.MsgContent{Type: models.ContentTypeImage}
	if payload := BuildPayload(content, map[string]any{}); payload != nil {
		t.Errorf("expected nil payload when image group absent, got %+v", payload)
	}
}

func TestResolveContent_MessageKind(t *testing.T) {
	content := &models.MsgContent{
		Type:     models.ContentTypeText,
		Text:     &models.TextContent{Body: "Code: {{{code}}}"},
		AssignAI: true,
	}
	resolved := ResolveContent(content, map[string]any{"code": 42})
	if resolved == nil || resolved.Text == nil {
		t.Fatalf("expected resolved content, got %+v", resolved)
	}
	if resolved.Text.Body != "Code: 42" {
		t.Errorf("unexpected body %q", resolved.Text.Body)
	}
	if !resolved.AssignAI {
		t.Error("assignAi flag must survive resolution")
	}
	if content.Text.Body != "Code: {{{code}}}" {
		t.Error("source content must not be mutated")
	}
}

func TestResolveContent_RequestKindResolvesURL(t *testing.T) {
	content := &models.MsgContent{
		Type:   "MAKE_REQUEST",
		Method: "GET",
		URL:    "https://api.example.com/users/{{{userId}}}",
	}
	resolved := ResolveContent(content, map[string]any{"userId": "u-9"})
	if resolved.URL != "https://api.example.com/users/u-9" {
		t.Errorf("unexpected URL %q", resolved.URL)
	}
	if resolved.Method != "GET" {
		t.Errorf("method must pass through, got %q", resolved.Method)
	}
}
