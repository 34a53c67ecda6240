package models

import (
	"encoding/json"
	"log/slog"
	"time"
)

// SessionKey builds the deterministic conversation identity key. It must be
// stable across invocations for suspension to function.
func SessionKey(accountID, senderID, chatID string) string {
	return accountID + "-" + senderID + "-" + chatID
}

// Session is the per-conversation execution record: the collected variable
// bag and the node (if any) awaiting the next inbound message. List-valued
// fields are opaque serialized blobs; malformed stored data decodes leniently
// to empty values so a single bad record never blocks delivery.
type Session struct {
	AccountID string    `json:"accountId"`
	Key       string    `json:"key"`
	Inputs    string    `json:"inputs,omitempty"`  // JSON object of variable name -> value
	Pending   string    `json:"pending,omitempty"` // JSON of the suspended node, empty when none
	UpdatedAt time.Time `json:"updatedAt"`
}

// Variables decodes the collected variable bag. Malformed data yields an
// empty bag.
func (s *Session) Variables() map[string]any {
	vars := make(map[string]any)
	if s == nil || s.Inputs == "" {
		return vars
	}
	if err := json.Unmarshal([]byte(s.Inputs), &vars); err != nil {
		slog.Warn("Session inputs malformed, treating as empty", "key", s.Key, "error", err)
		return make(map[string]any)
	}
	return vars
}

// PendingNode decodes the suspended node. Returns false when no pending node
// is stored or the stored data is malformed.
func (s *Session) PendingNode() (Node, bool) {
	if s == nil || s.Pending == "" {
		return Node{}, false
	}
	var n Node
	if err := json.Unmarshal([]byte(s.Pending), &n); err != nil {
		slog.Warn("Session pending node malformed, treating as absent", "key", s.Key, "error", err)
		return Node{}, false
	}
	return n, true
}

// Message history constants.
const (
	DirectionOutgoing = "OUTGOING"
	DirectionIncoming = "INCOMING"
	StatusSent        = "sent"
)

// HistoryRecord is the persisted bookkeeping row for one outbound message.
type HistoryRecord struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	ChatID       string          `json:"chatId"`
	Kind         string          `json:"type"`
	Payload      *MessagePayload `json:"msgContext,omitempty"`
	SenderName   string          `json:"senderName,omitempty"`
	SenderMobile string          `json:"senderMobile,omitempty"`
	Direction    string          `json:"route"`
	Status       string          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
}

// SuppressionEntry is a timed mute record for one sender. Entries are
// append-only; any unexpired entry for the sender suppresses dispatch.
type SuppressionEntry struct {
	Mobile    string `json:"mobile"`
	Timestamp string `json:"timestamp"`
	Timezone  string `json:"timezone,omitempty"`
}

// suppressionLayouts are the accepted expiry timestamp formats, tried in
// order against the entry's timezone.
var suppressionLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Active reports whether the entry still suppresses dispatch at the given
// instant: the expiry, interpreted in the entry's timezone, has not yet
// passed. Unknown timezones fall back to UTC; unparseable timestamps count
// as inactive.
func (e SuppressionEntry) Active(now time.Time) bool {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil || e.Timezone == "" {
		loc = time.UTC
	}
	for _, layout := range suppressionLayouts {
		expiry, err := time.ParseInLocation(layout, e.Timestamp, loc)
		if err == nil {
			return now.In(loc).Before(expiry)
		}
	}
	slog.Debug("Suppression entry timestamp unparseable, treating as inactive", "mobile", e.Mobile, "timestamp", e.Timestamp)
	return false
}

// AIAssignment delegates a sender's subsequent turns to the AI responder.
// The captured node replaces the graph's naturally-resolved node until the
// node content no longer requests AI assignment.
type AIAssignment struct {
	SenderNumber string `json:"senderNumber"`
	Node         Node   `json:"node"`
	SenderName   string `json:"senderName,omitempty"`
}

// Flow is the stored flow definition record. The suppression and AI lists
// live on it as serialized blobs, matching the row-store collaborator
// contract.
type Flow struct {
	AccountID   string `json:"accountId"`
	FlowID      string `json:"flowId"`
	Title       string `json:"title,omitempty"`
	Active      bool   `json:"active"`
	PreventList string `json:"preventList,omitempty"` // serialized []SuppressionEntry
	AIList      string `json:"aiList,omitempty"`      // serialized []AIAssignment
}

// DecodeSuppressionList decodes a serialized suppression list. Malformed
// input yields an empty list.
func DecodeSuppressionList(raw string) []SuppressionEntry {
	if raw == "" {
		return nil
	}
	var entries []SuppressionEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("Suppression list malformed, treating as empty", "error", err)
		return nil
	}
	return entries
}

// EncodeSuppressionList serializes a suppression list for storage.
func EncodeSuppressionList(entries []SuppressionEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		slog.Error("Failed to encode suppression list", "error", err)
		return "[]"
	}
	return string(data)
}

// DecodeAIList decodes a serialized AI assignment list. Malformed input
// yields an empty list.
func DecodeAIList(raw string) []AIAssignment {
	if raw == "" {
		return nil
	}
	var entries []AIAssignment
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("AI assignment list malformed, treating as empty", "error", err)
		return nil
	}
	return entries
}

// EncodeAIList serializes an AI assignment list for storage.
func EncodeAIList(entries []AIAssignment) string {
	data, err := json.Marshal(entries)
	if err != nil {
		slog.Error("Failed to encode AI assignment list", "error", err)
		return "[]"
	}
	return string(data)
}

// EncodeNode serializes a node for the session pending slot.
func EncodeNode(n Node) string {
	data, err := json.Marshal(n)
	if err != nil {
		slog.Error("Failed to encode node", "node_id", n.ID, "error", err)
		return ""
	}
	return string(data)
}

// EncodeVariables serializes a variable bag for the session inputs column.
func EncodeVariables(vars map[string]any) string {
	data, err := json.Marshal(vars)
	if err != nil {
		slog.Error("Failed to encode variables", "error", err)
		return "{}"
	}
	return string(data)
}

// AgentAssignment is one (owner, agent, chat) hand-off row created by an
// ASSIGN_AGENT tool node. Insertion is idempotent by construction.
type AgentAssignment struct {
	OwnerID   string    `json:"ownerId"`
	AgentID   string    `json:"agentId"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}
