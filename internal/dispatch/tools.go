package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/template"
	"github.com/google/uuid"
)

// executeMessage builds the outbound payload for a message node and hands it
// to the transport with a bookkeeping record. TAKE_INPUT nodes are sent as
// text and additionally suspend the session: the next inbound message from
// this sender fills the node's declared variable.
func (d *Dispatcher) executeMessage(ctx context.Context, inv Invocation, node models.Node, key string, bag map[string]any, vars map[string]any) {
	payload := template.BuildPayload(node.Data.MsgContent, bag)
	if payload == nil {
		slog.Debug("Message node produced no payload, nothing to send", "node_id", node.ID, "type", node.Type)
		return
	}

	kind := strings.ToLower(string(node.Type))
	if node.Type == models.NodeTypeTakeInput {
		kind = models.ContentTypeText
	}

	history := models.HistoryRecord{
		ID:           uuid.NewString(),
		AccountID:    inv.AccountID,
		ChatID:       inv.ChatID,
		Kind:         kind,
		Payload:      payload,
		SenderName:   inv.SenderName,
		SenderMobile: inv.SenderID,
		Direction:    models.DirectionOutgoing,
		Status:       models.StatusSent,
		Timestamp:    d.now(),
	}

	if err := d.sender.SendPayload(ctx, inv.SenderID, *payload, history); err != nil {
		slog.Error("Outbound send failed", "error", err, "node_id", node.ID, "to", inv.SenderID)
	}

	if node.Type == models.NodeTypeTakeInput {
		d.suspend(inv, key, node, vars)
	}
}

// suspend records the node as the session's pending node so the next
// inbound message resumes the graph there. At most one pending node per
// session exists at a time.
func (d *Dispatcher) suspend(inv Invocation, key string, node models.Node, vars map[string]any) {
	sess := models.Session{
		AccountID: inv.AccountID,
		Key:       key,
		Inputs:    models.EncodeVariables(vars),
		Pending:   models.EncodeNode(node),
		UpdatedAt: d.now(),
	}
	if err := d.st.SaveSession(sess); err != nil {
		slog.Error("Failed to suspend session", "error", err, "key", key, "node_id", node.ID)
		return
	}
	slog.Debug("Session suspended awaiting input", "key", key, "node_id", node.ID, "variable", node.Data.VariableName)
}

// executeTool runs the side-effecting tool behaviors.
func (d *Dispatcher) executeTool(ctx context.Context, inv Invocation, node models.Node, flow *models.Flow, key string, bag map[string]any, vars map[string]any, depth int) {
	content := node.Data.MsgContent

	switch node.Type {
	case models.NodeTypeAssignAgent:
		d.assignAgent(inv, content)

	case models.NodeTypeDisableChat:
		d.disableChat(inv, flow, content)

	case models.NodeTypeTakeInput:
		// Legacy persistence path for resumption; the message path already
		// suspended with the same record.
		d.suspend(inv, key, node, vars)

	case models.NodeTypeMakeRequest:
		d.makeRequest(ctx, inv, node, content, bag, depth)
	}
}

// assignAgent idempotently creates the (owner, agent, chat) hand-off row.
func (d *Dispatcher) assignAgent(inv Invocation, content *models.MsgContent) {
	if content == nil || content.AgentEmail == "" || content.Agent == nil {
		slog.Debug("ASSIGN_AGENT node without agent identity, skipping")
		return
	}

	existing, err := d.st.GetAgentAssignment(inv.AccountID, content.Agent.UID, inv.ChatID)
	if err != nil {
		slog.Error("Agent assignment lookup failed", "error", err, "agent", content.Agent.UID)
		return
	}
	if existing != nil {
		slog.Debug("Chat already assigned to agent", "agent", content.Agent.UID, "chat_id", inv.ChatID)
		return
	}

	assignment := models.AgentAssignment{
		OwnerID:   inv.AccountID,
		AgentID:   content.Agent.UID,
		ChatID:    inv.ChatID,
		CreatedAt: d.now(),
	}
	if err := d.st.AddAgentAssignment(assignment); err != nil {
		slog.Error("Failed to assign agent", "error", err, "agent", content.Agent.UID)
		return
	}
	slog.Info("Chat assigned to agent", "agent", content.Agent.UID, "chat_id", inv.ChatID)
}

// disableChat appends a suppression entry for the sender. The list is
// append-only; existing entries are never removed.
func (d *Dispatcher) disableChat(inv Invocation, flow *models.Flow, content *models.MsgContent) {
	if flow == nil || content == nil {
		slog.Debug("DISABLE_CHAT without flow record or content, skipping")
		return
	}

	entries := models.DecodeSuppressionList(flow.PreventList)
	entries = append(entries, models.SuppressionEntry{
		Mobile:    inv.SenderID,
		Timestamp: content.Timestamp,
		Timezone:  content.Timezone,
	})
	encoded := models.EncodeSuppressionList(entries)
	if err := d.st.SavePreventList(inv.AccountID, inv.FlowID, encoded); err != nil {
		slog.Error("Failed to persist suppression entry", "error", err, "sender", inv.SenderID)
		return
	}
	flow.PreventList = encoded
	slog.Info("Sender moved to suppression list", "sender", inv.SenderID, "until", content.Timestamp, "timezone", content.Timezone)
}

// makeRequest resolves the URL template, performs the external call, and —
// only when the node expects a response — merges the response data into
// every downstream node's content and recurses into each as a fresh
// sub-invocation sharing the same session context.
func (d *Dispatcher) makeRequest(ctx context.Context, inv Invocation, node models.Node, content *models.MsgContent, bag map[string]any, depth int) {
	if content == nil || content.URL == "" {
		slog.Debug("MAKE_REQUEST node without URL, skipping", "node_id", node.ID)
		return
	}

	url := template.Resolve(content.URL, bag)
	result := d.requester.Do(ctx, content.Method, url, content.Body, content.Headers)
	if !result.Success {
		slog.Warn("External call failed", "node_id", node.ID, "url", url, "msg", result.Msg)
		return
	}
	if !content.ExpectResponse {
		slog.Debug("MAKE_REQUEST does not expect a response, no continuation", "node_id", node.ID)
		return
	}

	edges := inv.Graph.EdgesFrom(node.ID)
	if len(edges) == 0 {
		slog.Debug("MAKE_REQUEST has no downstream edges", "node_id", node.ID)
		return
	}

	for _, edge := range edges {
		target, found := inv.Graph.NodeByID(edge.Target)
		if !found {
			slog.Warn("Edge targets unknown node, skipping", "source", edge.Source, "target", edge.Target)
			continue
		}
		child := target
		child.Data.MsgContent = template.ResolveContent(target.Data.MsgContent, result.Data)
		if err := d.dispatch(ctx, inv, child, depth+1); err != nil {
			slog.Error("Downstream dispatch failed", "error", err, "node_id", child.ID)
		}
	}
}

// executeAddon delegates AI_BOT nodes to the configured responder, handing
// it the dispatcher's re-entry capability.
func (d *Dispatcher) executeAddon(ctx context.Context, inv Invocation, node models.Node, bag map[string]any, depth int) {
	if d.responder == nil {
		slog.Info("AI_BOT node with no responder configured, skipping", "node_id", node.ID)
		return
	}

	rc := RespondContext{
		Invocation: inv,
		Node:       node,
		Variables:  bag,
		Reenter: func(ctx context.Context, n models.Node) error {
			return d.dispatch(ctx, inv, n, depth+1)
		},
	}
	if err := d.responder.Respond(ctx, rc); err != nil {
		slog.Error("AI responder failed", "error", err, "node_id", node.ID, "sender", inv.SenderID)
	}
}
