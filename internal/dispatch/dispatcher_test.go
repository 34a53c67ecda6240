package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowreply/flowreply/internal/messaging"
	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/request"
	"github.com/flowreply/flowreply/internal/store"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func textNode(id, body string) models.Node {
	return models.Node{
		ID:   id,
		Type: models.NodeTypeText,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Type: models.ContentTypeText,
			Text: &models.TextContent{Body: body},
		}},
	}
}

func testInvocation(graph models.Graph) Invocation {
	return Invocation{
		AccountID:  "acct",
		FlowID:     "flow1",
		ChatID:     "15551234567",
		SenderID:   "15551234567",
		SenderName: "Ana",
		Message:    "hi",
		Graph:      graph,
	}
}

func TestDispatch_TextNodeSendsResolvedPayload(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	node := textNode("n1", "Hello {{{senderName}}}")
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sends := sender.Sends()
	if len(sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sends))
	}
	if sends[0].To != "15551234567" {
		t.Errorf("unexpected recipient %q", sends[0].To)
	}
	if sends[0].Payload.Text == nil || sends[0].Payload.Text.Body != "Hello Ana" {
		t.Errorf("unexpected payload %+v", sends[0].Payload)
	}

	history := sends[0].History
	if history.Direction != models.DirectionOutgoing || history.Kind != "text" {
		t.Errorf("unexpected history record %+v", history)
	}
	if history.ID == "" {
		t.Error("history record must carry a generated id")
	}
	if history.AccountID != "acct" || history.ChatID != "15551234567" {
		t.Errorf("unexpected history identity %+v", history)
	}
}

func TestDispatch_TakeInputSuspendsAndResumes(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	ask := models.Node{
		ID:   "ask",
		Type: models.NodeTypeTakeInput,
		Data: models.NodeData{
			VariableName: "name",
			MsgContent: &models.MsgContent{
				Type: models.ContentTypeTakeInput,
				Text: &models.TextContent{Body: "What is your name?"},
			},
		},
	}
	greet := textNode("greet", "Hello {{{name}}}")
	graph := models.Graph{
		Nodes: []models.Node{ask, greet},
		Edges: []models.Edge{{Source: "ask", Target: "greet"}},
	}
	inv := testInvocation(graph)

	// First turn: the prompt is sent and the session suspends.
	if err := d.Dispatch(context.Background(), inv, ask); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends := sender.Sends()
	if len(sends) != 1 || sends[0].Payload.Text.Body != "What is your name?" {
		t.Fatalf("expected prompt send, got %+v", sends)
	}

	key := models.SessionKey("acct", "15551234567", "15551234567")
	sess, err := st.GetSession(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected suspended session")
	}
	if pending, ok := sess.PendingNode(); !ok || pending.ID != "ask" {
		t.Fatalf("expected pending node ask, got %+v", pending)
	}

	// Second turn: the reply fills the variable and redirects to greet.
	inv.Message = "Ana Lima"
	if err := d.Dispatch(context.Background(), inv, ask); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends = sender.Sends()
	if len(sends) != 2 {
		t.Fatalf("expected 2 sends total, got %d", len(sends))
	}
	if sends[1].Payload.Text.Body != "Hello Ana Lima" {
		t.Errorf("unexpected resumed payload %q", sends[1].Payload.Text.Body)
	}

	sess, _ = st.GetSession(key)
	if _, ok := sess.PendingNode(); ok {
		t.Error("pending slot must be cleared after consumption")
	}
	if sess.Variables()["name"] != "Ana Lima" {
		t.Errorf("expected captured variable, got %+v", sess.Variables())
	}

	// Third turn: no pending node, so the new text must not overwrite the
	// captured variable.
	inv.Message = "something else"
	if err := d.Dispatch(context.Background(), inv, greet); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends = sender.Sends()
	if len(sends) != 3 {
		t.Fatalf("expected 3 sends total, got %d", len(sends))
	}
	if sends[2].Payload.Text.Body != "Hello Ana Lima" {
		t.Errorf("stale data must not be re-merged, got %q", sends[2].Payload.Text.Body)
	}
}

func TestDispatch_SuppressedSenderSendsNothing(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	prevent := models.EncodeSuppressionList([]models.SuppressionEntry{
		{Mobile: "15551234567", Timestamp: "2026-03-02T12:00:00Z"},
	})
	if err := st.SaveFlow(models.Flow{AccountID: "acct", FlowID: "flow1", Active: true, PreventList: prevent}); err != nil {
		t.Fatalf("SaveFlow failed: %v", err)
	}

	node := textNode("n1", "never delivered")
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sender.Sends(); len(got) != 0 {
		t.Errorf("expected zero sends for suppressed sender, got %d", len(got))
	}
}

func TestDispatch_ExpiredSuppressionDoesNotBlock(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	prevent := models.EncodeSuppressionList([]models.SuppressionEntry{
		{Mobile: "15551234567", Timestamp: "2026-02-01T12:00:00Z"},
	})
	st.SaveFlow(models.Flow{AccountID: "acct", FlowID: "flow1", Active: true, PreventList: prevent})

	node := textNode("n1", "delivered")
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	d.Dispatch(context.Background(), inv, node)
	if got := sender.Sends(); len(got) != 1 {
		t.Errorf("expected 1 send past expiry, got %d", len(got))
	}
}

func TestDispatch_DisableChatAppendsSuppression(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	st.SaveFlow(models.Flow{AccountID: "acct", FlowID: "flow1", Active: true})

	node := models.Node{
		ID:   "mute",
		Type: models.NodeTypeDisableChat,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Timestamp: "2026-03-02T12:00:00Z",
			Timezone:  "UTC",
		}},
	}
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	flow, _ := st.GetFlow("acct", "flow1")
	entries := models.DecodeSuppressionList(flow.PreventList)
	if len(entries) != 1 || entries[0].Mobile != "15551234567" {
		t.Fatalf("expected 1 suppression entry, got %+v", entries)
	}

	// The next turn from the same sender is dropped.
	next := textNode("n1", "blocked")
	inv2 := testInvocation(models.Graph{Nodes: []models.Node{next}})
	d.Dispatch(context.Background(), inv2, next)
	if got := sender.Sends(); len(got) != 0 {
		t.Errorf("expected zero sends after DISABLE_CHAT, got %d", len(got))
	}

	// Entries accumulate, never replace.
	inv3 := testInvocation(models.Graph{Nodes: []models.Node{node}})
	inv3.SenderID = "15559998888"
	inv3.ChatID = "15559998888"
	d.Dispatch(context.Background(), inv3, node)
	flow, _ = st.GetFlow("acct", "flow1")
	if entries = models.DecodeSuppressionList(flow.PreventList); len(entries) != 2 {
		t.Errorf("expected append-only list of 2 entries, got %+v", entries)
	}
}

func TestDispatch_AssignAgentIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	node := models.Node{
		ID:   "handoff",
		Type: models.NodeTypeAssignAgent,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			AgentEmail: "agent@example.com",
			Agent:      &models.AgentRef{UID: "agent-1", Email: "agent@example.com", Name: "Sam"},
		}},
	}
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	d.Dispatch(context.Background(), inv, node)
	d.Dispatch(context.Background(), inv, node)

	got, err := st.GetAgentAssignment("acct", "agent-1", "15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent assignment row")
	}
	if got.AgentID != "agent-1" || got.OwnerID != "acct" {
		t.Errorf("unexpected assignment %+v", got)
	}
	if len(sender.Sends()) != 0 {
		t.Error("ASSIGN_AGENT must not send messages")
	}
}

func TestDispatch_MakeRequestFanOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":42,"user":{"name":"Bea"}}`))
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender,
		WithClock(fixedClock()),
		WithRequester(request.NewClient()))

	call := models.Node{
		ID:   "call",
		Type: models.NodeTypeMakeRequest,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Method:         http.MethodGet,
			URL:            srv.URL + "/users/{{{senderMobile}}}",
			ExpectResponse: true,
		}},
	}
	showCode := textNode("code", "Code: {{{code}}}")
	showName := textNode("name", "Name: {{{user.name}}}")
	graph := models.Graph{
		Nodes: []models.Node{call, showCode, showName},
		Edges: []models.Edge{
			{Source: "call", Target: "code"},
			{Source: "call", Target: "name"},
		},
	}
	inv := testInvocation(graph)

	if err := d.Dispatch(context.Background(), inv, call); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sends := sender.Sends()
	if len(sends) != 2 {
		t.Fatalf("expected fan-out to 2 downstream sends, got %d", len(sends))
	}
	if sends[0].Payload.Text.Body != "Code: 42" {
		t.Errorf("unexpected first body %q", sends[0].Payload.Text.Body)
	}
	if sends[1].Payload.Text.Body != "Name: Bea" {
		t.Errorf("unexpected second body %q", sends[1].Payload.Text.Body)
	}
}

func TestDispatch_MakeRequestWithoutResponseFlagStops(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()), WithRequester(request.NewClient()))

	call := models.Node{
		ID:   "call",
		Type: models.NodeTypeMakeRequest,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Method: http.MethodPost,
			URL:    srv.URL,
		}},
	}
	after := textNode("after", "not reached")
	graph := models.Graph{
		Nodes: []models.Node{call, after},
		Edges: []models.Edge{{Source: "call", Target: "after"}},
	}

	d.Dispatch(context.Background(), testInvocation(graph), call)

	if calls.Load() != 1 {
		t.Errorf("expected the call to be performed exactly once, got %d", calls.Load())
	}
	if len(sender.Sends()) != 0 {
		t.Error("expected no continuation when response flag unset")
	}
}

func TestDispatch_MakeRequestFailureStopsBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()), WithRequester(request.NewClient()))

	call := models.Node{
		ID:   "call",
		Type: models.NodeTypeMakeRequest,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Method:         http.MethodGet,
			URL:            srv.URL,
			ExpectResponse: true,
		}},
	}
	after := textNode("after", "not reached")
	graph := models.Graph{
		Nodes: []models.Node{call, after},
		Edges: []models.Edge{{Source: "call", Target: "after"}},
	}

	d.Dispatch(context.Background(), testInvocation(graph), call)
	if len(sender.Sends()) != 0 {
		t.Error("expected failed call to suppress downstream dispatch")
	}
}

func TestDispatch_MakeRequestCycleStopsAtDepthBound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	const maxDepth = 3
	d := NewDispatcher(st, sender,
		WithClock(fixedClock()),
		WithRequester(request.NewClient()),
		WithMaxDepth(maxDepth))

	call := models.Node{
		ID:   "loop",
		Type: models.NodeTypeMakeRequest,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Method:         http.MethodGet,
			URL:            srv.URL,
			ExpectResponse: true,
		}},
	}
	graph := models.Graph{
		Nodes: []models.Node{call},
		Edges: []models.Edge{{Source: "loop", Target: "loop"}},
	}

	d.Dispatch(context.Background(), testInvocation(graph), call)

	// Depths 0..maxDepth execute; the next recursion is cut off.
	if calls.Load() != maxDepth+1 {
		t.Errorf("expected %d calls before the bound, got %d", maxDepth+1, calls.Load())
	}
}

func TestDispatch_AICaptureTerminatesTurn(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	st.SaveFlow(models.Flow{AccountID: "acct", FlowID: "flow1", Active: true})

	aiNode := models.Node{
		ID:   "ai",
		Type: models.NodeTypeText,
		Data: models.NodeData{MsgContent: &models.MsgContent{
			Type:     models.ContentTypeText,
			Text:     &models.TextContent{Body: "handled by AI"},
			AssignAI: true,
		}},
	}
	inv := testInvocation(models.Graph{Nodes: []models.Node{aiNode}})

	if err := d.Dispatch(context.Background(), inv, aiNode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.Sends()) != 0 {
		t.Error("capture turn must not send anything")
	}

	flow, _ := st.GetFlow("acct", "flow1")
	assignments := models.DecodeAIList(flow.AIList)
	if len(assignments) != 1 || assignments[0].SenderNumber != "15551234567" {
		t.Fatalf("expected captured assignment, got %+v", assignments)
	}
	if assignments[0].Node.ID != "ai" {
		t.Errorf("expected captured node ai, got %q", assignments[0].Node.ID)
	}
}

func TestDispatch_AIOverrideReplacesNode(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	captured := textNode("captured", "the AI node speaks")
	aiList := models.EncodeAIList([]models.AIAssignment{
		{SenderNumber: "15551234567", Node: captured, SenderName: "Ana"},
	})
	st.SaveFlow(models.Flow{AccountID: "acct", FlowID: "flow1", Active: true, AIList: aiList})

	natural := textNode("natural", "the graph node speaks")
	inv := testInvocation(models.Graph{Nodes: []models.Node{natural, captured}})

	if err := d.Dispatch(context.Background(), inv, natural); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends := sender.Sends()
	if len(sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sends))
	}
	if sends[0].Payload.Text.Body != "the AI node speaks" {
		t.Errorf("expected override node output, got %q", sends[0].Payload.Text.Body)
	}
}

func TestDispatch_UnknownNodeTypeIsNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	node := models.Node{ID: "x", Type: models.NodeType("CAROUSEL")}
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.Sends()) != 0 {
		t.Error("unknown node types must send nothing")
	}
}

func TestDispatch_SendFailureDoesNotAbortInvocation(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	sender.Err = models.ErrEmptyPayload
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	node := textNode("n1", "hello")
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Errorf("send failure must not propagate, got %v", err)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node := textNode("n1", "hello")
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})
	if err := d.Dispatch(ctx, inv, node); err == nil {
		t.Error("expected context error")
	}
	if len(sender.Sends()) != 0 {
		t.Error("cancelled dispatch must not send")
	}
}

type recordingResponder struct {
	contexts []RespondContext
	reenter  *models.Node // when set, Respond re-enters at this node
}

func (r *recordingResponder) Respond(ctx context.Context, rc RespondContext) error {
	r.contexts = append(r.contexts, rc)
	if r.reenter != nil {
		return rc.Reenter(ctx, *r.reenter)
	}
	return nil
}

func TestDispatch_AddonDelegatesToResponder(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	responder := &recordingResponder{}
	d := NewDispatcher(st, sender, WithClock(fixedClock()), WithResponder(responder))

	node := models.Node{ID: "bot", Type: models.NodeTypeAIBot}
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(responder.contexts) != 1 {
		t.Fatalf("expected responder invoked once, got %d", len(responder.contexts))
	}
	rc := responder.contexts[0]
	if rc.Node.ID != "bot" {
		t.Errorf("unexpected node %+v", rc.Node)
	}
	if rc.Variables["senderName"] != "Ana" || rc.Variables["senderMsg"] != "hi" {
		t.Errorf("expected sender fields in variable bag, got %+v", rc.Variables)
	}
}

func TestDispatch_ResponderReentry(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	followup := textNode("followup", "after the bot")
	responder := &recordingResponder{reenter: &followup}
	d := NewDispatcher(st, sender, WithClock(fixedClock()), WithResponder(responder))

	node := models.Node{ID: "bot", Type: models.NodeTypeAIBot}
	graph := models.Graph{Nodes: []models.Node{node, followup}}

	if err := d.Dispatch(context.Background(), testInvocation(graph), node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sends := sender.Sends()
	if len(sends) != 1 || sends[0].Payload.Text.Body != "after the bot" {
		t.Errorf("expected re-entered node send, got %+v", sends)
	}
}

func TestDispatch_AddonWithoutResponderIsNoOp(t *testing.T) {
	st := store.NewInMemoryStore()
	sender := messaging.NewMockSender()
	d := NewDispatcher(st, sender, WithClock(fixedClock()))

	node := models.Node{ID: "bot", Type: models.NodeTypeAIBot}
	inv := testInvocation(models.Graph{Nodes: []models.Node{node}})

	if err := d.Dispatch(context.Background(), inv, node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.Sends()) != 0 {
		t.Error("AI_BOT without responder must send nothing")
	}
}
