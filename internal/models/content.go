package models

import "encoding/json"

// Field is one ordered key/value pair of a MAKE_REQUEST header or body list.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AgentRef identifies the human agent an ASSIGN_AGENT node hands the
// conversation to.
type AgentRef struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// TextContent is the body of a text message. PreviewURL asks the transport
// to unfurl links in the body.
type TextContent struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

// MediaContent covers image, video and document messages.
type MediaContent struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

// AudioContent is an audio message. Audio carries no caption.
type AudioContent struct {
	Link string `json:"link"`
}

// LocationContent is a location pin. Coordinates are structural and pass
// through the payload builder unresolved.
type LocationContent struct {
	Latitude  json.RawMessage `json:"latitude,omitempty"`
	Longitude json.RawMessage `json:"longitude,omitempty"`
	Name      string          `json:"name,omitempty"`
	Address   string          `json:"address,omitempty"`
}

// InteractiveText is a header/body/footer fragment of an interactive message.
type InteractiveText struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// InteractiveContent covers list and button messages. Action holds the
// authored rows/buttons definition and passes through untouched.
type InteractiveContent struct {
	Type   string           `json:"type"`
	Header *InteractiveText `json:"header,omitempty"`
	Body   *InteractiveText `json:"body,omitempty"`
	Footer *InteractiveText `json:"footer,omitempty"`
	Action json.RawMessage  `json:"action,omitempty"`
}

// MsgContent is the kind-specific declarative content of a node. Exactly one
// content group is populated for message nodes; tool nodes use the flat tool
// fields instead. Leaf strings may contain {{{placeholder}}} expressions.
type MsgContent struct {
	Type        string              `json:"type,omitempty"`
	Text        *TextContent        `json:"text,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Audio       *AudioContent       `json:"audio,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`

	// MAKE_REQUEST configuration.
	Method         string  `json:"method,omitempty"`
	URL            string  `json:"url,omitempty"`
	Headers        []Field `json:"headers,omitempty"`
	Body           []Field `json:"body,omitempty"`
	ExpectResponse bool    `json:"response,omitempty"`

	// ASSIGN_AGENT configuration.
	AgentEmail string    `json:"agentEmail,omitempty"`
	Agent      *AgentRef `json:"agentObj,omitempty"`

	// DISABLE_CHAT configuration: mute the sender until Timestamp interpreted
	// in Timezone.
	Timestamp string `json:"timestamp,omitempty"`
	Timezone  string `json:"timezone,omitempty"`

	// AssignAI marks the node as delegating this sender to the AI responder.
	AssignAI bool `json:"assignAi,omitempty"`
}

// Content payload kinds produced by the payload builder.
const (
	ContentTypeText        = "text"
	ContentTypeImage       = "image"
	ContentTypeVideo       = "video"
	ContentTypeDocument    = "document"
	ContentTypeAudio       = "audio"
	ContentTypeLocation    = "location"
	ContentTypeInteractive = "interactive"
	ContentTypeTakeInput   = "take_input"

	InteractiveTypeList   = "list"
	InteractiveTypeButton = "button"
)

// MessagePayload is the transport-agnostic outbound message assembled by the
// payload builder: the declarative content with every leaf string resolved
// against the variable bag.
type MessagePayload struct {
	Type        string              `json:"type"`
	Text        *TextContent        `json:"text,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Audio       *AudioContent       `json:"audio,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
}
