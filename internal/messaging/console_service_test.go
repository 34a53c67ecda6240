package messaging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/store"
)

func newTestConsoleService(input string, st store.Store) (*ConsoleService, *bytes.Buffer) {
	out := &bytes.Buffer{}
	s := NewConsoleService(st)
	s.in = strings.NewReader(input)
	s.out = out
	return s, out
}

func TestConsoleService_InboundLines(t *testing.T) {
	s, _ := newTestConsoleService("hello\n\nsecond line\n", store.NewInMemoryStore())
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	want := []string{"hello", "second line"}
	for _, body := range want {
		select {
		case in := <-s.Inbound():
			if in.Body != body {
				t.Errorf("expected %q, got %q", body, in.Body)
			}
			if in.From != ConsoleSenderID {
				t.Errorf("unexpected sender %q", in.From)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", body)
		}
	}
}

func TestConsoleService_SendPayloadWritesAndRecords(t *testing.T) {
	st := store.NewInMemoryStore()
	s, out := newTestConsoleService("", st)
	defer s.Stop()

	payload := models.MessagePayload{
		Type: models.ContentTypeText,
		Text: &models.TextContent{Body: "hi there"},
	}
	history := models.HistoryRecord{ID: "m1", AccountID: "acct", ChatID: "c1", Kind: "text"}
	if err := s.SendPayload(context.Background(), "15551234567", payload, history); err != nil {
		t.Fatalf("SendPayload failed: %v", err)
	}

	if got := out.String(); got != "-> 15551234567: hi there\n" {
		t.Errorf("unexpected output %q", got)
	}
	records, err := st.GetHistory("acct", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "m1" {
		t.Errorf("unexpected history %+v", records)
	}
}

func TestConsoleService_SendPayloadValidation(t *testing.T) {
	s, _ := newTestConsoleService("", store.NewInMemoryStore())
	defer s.Stop()

	payload := models.MessagePayload{Type: models.ContentTypeText, Text: &models.TextContent{Body: "x"}}
	if err := s.SendPayload(context.Background(), "", payload, models.HistoryRecord{}); err != models.ErrEmptyRecipient {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := s.SendPayload(context.Background(), "155", models.MessagePayload{Type: models.ContentTypeText}, models.HistoryRecord{}); err != models.ErrEmptyPayload {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}
}
