// Package models defines the core data structures for FlowReply.
//
// It includes the flow graph types authored by users, the declarative node
// content, the transport payload shapes, and the persisted list/session
// records shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeType identifies the kind of a flow node.
type NodeType string

// Message node kinds. Executing one produces an outbound message.
const (
	NodeTypeText     NodeType = "TEXT"
	NodeTypeImage    NodeType = "IMAGE"
	NodeTypeAudio    NodeType = "AUDIO"
	NodeTypeVideo    NodeType = "VIDEO"
	NodeTypeDocument NodeType = "DOCUMENT"
	NodeTypeButton   NodeType = "BUTTON"
	NodeTypeList     NodeType = "LIST"
	NodeTypeLocation NodeType = "LOCATION"
)

// Tool node kinds. Executing one produces a side effect instead of (or in
// addition to) a message.
const (
	NodeTypeAssignAgent NodeType = "ASSIGN_AGENT"
	NodeTypeDisableChat NodeType = "DISABLE_CHAT"
	NodeTypeMakeRequest NodeType = "MAKE_REQUEST"
	NodeTypeTakeInput   NodeType = "TAKE_INPUT"
)

// Add-on node kinds.
const (
	NodeTypeAIBot NodeType = "AI_BOT"
)

// Category is the coarse classification of a node type, resolved once at
// dispatch time.
type Category string

const (
	CategoryMessage Category = "message"
	CategoryTool    Category = "tool"
	CategoryAddon   Category = "addon"
	CategoryUnknown Category = "unknown"
)

// IsMessageType reports whether t produces an outbound message when executed.
// TAKE_INPUT is both a message type (its prompt is sent as text) and a tool
// type (it suspends the session), so it appears in both sets.
func IsMessageType(t NodeType) bool {
	switch t {
	case NodeTypeText, NodeTypeImage, NodeTypeAudio, NodeTypeVideo,
		NodeTypeDocument, NodeTypeButton, NodeTypeList, NodeTypeLocation,
		NodeTypeTakeInput:
		return true
	}
	return false
}

// IsToolType reports whether t is a tool node kind.
func IsToolType(t NodeType) bool {
	switch t {
	case NodeTypeAssignAgent, NodeTypeDisableChat, NodeTypeMakeRequest, NodeTypeTakeInput:
		return true
	}
	return false
}

// IsAddonType reports whether t is an add-on node kind.
func IsAddonType(t NodeType) bool {
	return t == NodeTypeAIBot
}

// Classify resolves the primary category of a node type. Unrecognized types
// classify as CategoryUnknown and are silently ignored by the dispatcher.
func Classify(t NodeType) Category {
	switch {
	case IsMessageType(t):
		return CategoryMessage
	case IsToolType(t):
		return CategoryTool
	case IsAddonType(t):
		return CategoryAddon
	default:
		return CategoryUnknown
	}
}

// Error variables for graph and dispatch validation.
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyPayload   = errors.New("message payload cannot be empty")
	ErrNodeNotFound   = errors.New("node not found in graph")
)

// NodeData carries the declarative content of a node. VariableName is set on
// TAKE_INPUT nodes and names the slot the next inbound message will fill.
type NodeData struct {
	MsgContent   *MsgContent `json:"msgContent,omitempty"`
	VariableName string      `json:"variableName,omitempty"`
}

// Node is one step in a user-authored conversation graph.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

// Edge is a directed connection from one node's output to another's input.
// Multiple edges may share a source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is an immutable-per-invocation flow graph: an ordered sequence of
// nodes with unique ids, and directed edges between them.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, or false when absent.
func (g Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// EdgesFrom returns every edge whose source is the given node id, in
// authored order.
func (g Graph) EdgesFrom(source string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == source {
			out = append(out, e)
		}
	}
	return out
}

// ParseGraph decodes an authored flow graph document ({"nodes": [...],
// "edges": [...]}).
func ParseGraph(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("failed to parse flow graph: %w", err)
	}
	return g, nil
}
