// Package dispatch implements the FlowReply interpreter core: resolving
// which node of a user-authored flow graph runs for an inbound message,
// persisting suspension state across messages, and executing the built-in
// tool behaviors.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowreply/flowreply/internal/messaging"
	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/request"
	"github.com/flowreply/flowreply/internal/store"
)

// DefaultMaxDepth bounds tool-driven recursion (MAKE_REQUEST fan-out and AI
// re-entry). A graph authored with a cycle through such nodes terminates at
// this depth instead of looping.
const DefaultMaxDepth = 10

// Invocation is the context of one inbound message event: the conversation
// identity, the inbound text, and the flow graph being walked. The graph is
// immutable for the duration of the invocation.
type Invocation struct {
	AccountID  string
	FlowID     string
	ChatID     string
	SenderID   string
	SenderName string
	Message    string
	Graph      models.Graph
}

// Reentry re-enters the dispatcher at a node, sharing the invocation's
// session context. Handed to the AI responder so it can push further nodes
// into the graph.
type Reentry func(ctx context.Context, node models.Node) error

// RespondContext carries everything the AI responder needs to handle an
// AI_BOT node.
type RespondContext struct {
	Invocation Invocation
	Node       models.Node
	Variables  map[string]any
	Reenter    Reentry
}

// Responder is the external AI collaborator invoked for AI_BOT nodes.
type Responder interface {
	Respond(ctx context.Context, rc RespondContext) error
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	Requester *request.Client
	Responder Responder
	MaxDepth  int
	Now       func() time.Time
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithRequester injects the external call client used by MAKE_REQUEST nodes.
func WithRequester(c *request.Client) Option {
	return func(o *Opts) { o.Requester = c }
}

// WithResponder injects the AI responder used by AI_BOT nodes. Without one,
// AI_BOT nodes are logged no-ops.
func WithResponder(r Responder) Option {
	return func(o *Opts) { o.Responder = r }
}

// WithMaxDepth overrides the recursion bound.
func WithMaxDepth(n int) Option {
	return func(o *Opts) { o.MaxDepth = n }
}

// WithClock overrides the time source (used by suppression tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher walks flow graphs. Invocations for distinct conversation keys
// may run concurrently; the store is the only shared state. Invocations for
// the same key must be serialized by the caller.
type Dispatcher struct {
	st        store.Store
	sender    messaging.Sender
	requester *request.Client
	responder Responder
	maxDepth  int
	now       func() time.Time
}

// NewDispatcher creates a dispatcher over the given store and transport,
// applying any provided options.
func NewDispatcher(st store.Store, sender messaging.Sender, opts ...Option) *Dispatcher {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Requester == nil {
		cfg.Requester = request.NewClient()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("dispatch.NewDispatcher: dispatcher created", "max_depth", cfg.MaxDepth, "has_responder", cfg.Responder != nil)
	return &Dispatcher{
		st:        st,
		sender:    sender,
		requester: cfg.Requester,
		responder: cfg.Responder,
		maxDepth:  cfg.MaxDepth,
		now:       cfg.Now,
	}
}

// Dispatch runs one invocation of the interpreter starting at the given
// node. Every failure inside an individual step is logged and degrades to a
// no-op for that step; the invocation itself never propagates such failures
// to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, node models.Node) error {
	return d.dispatch(ctx, inv, node, 0)
}

func (d *Dispatcher) dispatch(ctx context.Context, inv Invocation, node models.Node, depth int) error {
	if depth > d.maxDepth {
		slog.Warn("Dispatch recursion bound reached, stopping branch",
			"node_id", node.ID, "depth", depth, "max_depth", d.maxDepth)
		return nil
	}
	if ctx.Err() != nil {
		slog.Warn("Dispatch cancelled", "node_id", node.ID, "error", ctx.Err())
		return ctx.Err()
	}

	key := models.SessionKey(inv.AccountID, inv.SenderID, inv.ChatID)
	node, vars := d.resolveSession(inv, key, node)

	flow := d.loadFlow(inv)

	if d.suppressed(flow, inv.SenderID) {
		slog.Info("Sender suppressed, dropping invocation", "sender", inv.SenderID, "chat_id", inv.ChatID)
		return nil
	}

	node, captured := d.resolveAIOverride(inv, flow, node)
	if captured {
		// The capture is the action for this turn.
		return nil
	}

	bag := make(map[string]any, len(vars)+3)
	bag["senderName"] = inv.SenderName
	bag["senderMsg"] = inv.Message
	bag["senderMobile"] = inv.SenderID
	for k, v := range vars {
		bag[k] = v
	}

	category := models.Classify(node.Type)
	slog.Debug("Dispatch executing node", "node_id", node.ID, "type", node.Type, "category", category, "depth", depth)

	if models.IsMessageType(node.Type) {
		d.executeMessage(ctx, inv, node, key, bag, vars)
	}
	if models.IsAddonType(node.Type) {
		d.executeAddon(ctx, inv, node, bag, depth)
	}
	if models.IsToolType(node.Type) {
		d.executeTool(ctx, inv, node, flow, key, bag, vars, depth)
	}
	if category == models.CategoryUnknown {
		// Forward compatibility: unrecognized node kinds are not an error.
		slog.Debug("Unrecognized node type ignored", "node_id", node.ID, "type", node.Type)
	}
	return nil
}

// resolveSession consumes a pending suspension, merging the inbound message
// into the variable bag under the pending node's declared variable name and
// redirecting the active node along the pending node's outgoing edge.
// Persistence failures degrade to "no session".
func (d *Dispatcher) resolveSession(inv Invocation, key string, node models.Node) (models.Node, map[string]any) {
	sess, err := d.st.GetSession(key)
	if err != nil {
		slog.Error("Session lookup failed, continuing without session", "error", err, "key", key)
		return node, map[string]any{}
	}
	if sess == nil {
		return node, map[string]any{}
	}

	vars := sess.Variables()
	pending, ok := sess.PendingNode()
	if !ok {
		return node, vars
	}

	if name := pending.Data.VariableName; name != "" {
		vars[name] = inv.Message
	}

	sess.Inputs = models.EncodeVariables(vars)
	sess.Pending = ""
	sess.UpdatedAt = d.now()
	if err := d.st.SaveSession(*sess); err != nil {
		slog.Error("Failed to clear pending node", "error", err, "key", key)
	}

	// The pending node has exactly one meaningful successor by convention.
	if edges := inv.Graph.EdgesFrom(pending.ID); len(edges) > 0 {
		if next, found := inv.Graph.NodeByID(edges[0].Target); found {
			slog.Debug("Pending input consumed, redirecting", "from", pending.ID, "to", next.ID, "variable", pending.Data.VariableName)
			return next, vars
		}
	}
	return node, vars
}

// loadFlow fetches the flow definition record carrying the suppression and
// AI lists. Absence or failure degrades to nil.
func (d *Dispatcher) loadFlow(inv Invocation) *models.Flow {
	flow, err := d.st.GetFlow(inv.AccountID, inv.FlowID)
	if err != nil {
		slog.Error("Flow lookup failed, continuing without lists", "error", err, "account_id", inv.AccountID, "flow_id", inv.FlowID)
		return nil
	}
	return flow
}

// suppressed reports whether any unexpired suppression entry matches the
// sender.
func (d *Dispatcher) suppressed(flow *models.Flow, sender string) bool {
	if flow == nil {
		return false
	}
	now := d.now()
	for _, e := range models.DecodeSuppressionList(flow.PreventList) {
		if e.Mobile == sender && e.Active(now) {
			return true
		}
	}
	return false
}

// resolveAIOverride applies the AI assignment policy. When the node's
// content requests AI assignment and the sender has no entry, the node is
// captured into the list and the invocation terminates (captured=true).
// When an entry exists and the content does not request AI, the captured
// node replaces the active node.
func (d *Dispatcher) resolveAIOverride(inv Invocation, flow *models.Flow, node models.Node) (models.Node, bool) {
	if flow == nil {
		return node, false
	}

	assignments := models.DecodeAIList(flow.AIList)
	var existing *models.AIAssignment
	for i := range assignments {
		if assignments[i].SenderNumber == inv.SenderID {
			existing = &assignments[i]
			break
		}
	}

	requestsAI := node.Data.MsgContent != nil && node.Data.MsgContent.AssignAI

	switch {
	case requestsAI && existing == nil:
		assignments = append(assignments, models.AIAssignment{
			SenderNumber: inv.SenderID,
			Node:         node,
			SenderName:   inv.SenderName,
		})
		if err := d.st.SaveAIList(inv.AccountID, inv.FlowID, models.EncodeAIList(assignments)); err != nil {
			slog.Error("Failed to persist AI assignment", "error", err, "sender", inv.SenderID)
			return node, false
		}
		slog.Info("Sender delegated to AI responder", "sender", inv.SenderID, "node_id", node.ID)
		return node, true

	case !requestsAI && existing != nil:
		slog.Debug("AI assignment overrides active node", "sender", inv.SenderID, "node_id", existing.Node.ID)
		return existing.Node, false
	}
	return node, false
}
