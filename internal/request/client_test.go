package request

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowreply/flowreply/internal/models"
)

func TestDo_SuccessObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":42,"user":{"name":"Ana"}}`))
	}))
	defer srv.Close()

	c := NewClient()
	res := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	obj, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %T", res.Data)
	}
	if obj["code"] != float64(42) {
		t.Errorf("unexpected code %v", obj["code"])
	}
}

func TestDo_SuccessArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	res := NewClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if arr, ok := res.Data.([]any); !ok || len(arr) != 2 {
		t.Errorf("expected 2-element array, got %+v", res.Data)
	}
}

func TestDo_NonTwoHundredIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if res.Success {
		t.Fatal("expected failure for 500 response")
	}
	if res.Msg != "HTTP error 500" {
		t.Errorf("unexpected message %q", res.Msg)
	}
}

func TestDo_ScalarResponseIsInvalidFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"just a string"`))
	}))
	defer srv.Close()

	res := NewClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if res.Success {
		t.Fatal("expected failure for scalar response")
	}
	if res.Msg != "Invalid response format" {
		t.Errorf("unexpected message %q", res.Msg)
	}
}

func TestDo_NonJSONResponseIsInvalidFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>hello</html>`))
	}))
	defer srv.Close()

	res := NewClient().Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if res.Success || res.Msg != "Invalid response format" {
		t.Errorf("expected invalid format failure, got %+v", res)
	}
}

func TestDo_PostSendsCollapsedBodyAndHeaders(t *testing.T) {
	var gotBody map[string]string
	var gotHeader, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		gotHeader = r.Header.Get("X-Api-Key")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body := []models.Field{{Key: "name", Value: "Ana"}, {Key: "name", Value: "Bea"}}
	headers := []models.Field{{Key: "X-Api-Key", Value: "secret"}}
	res := NewClient().Do(context.Background(), http.MethodPost, srv.URL, body, headers)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotBody["name"] != "Bea" {
		t.Errorf("expected later duplicate to win, got %q", gotBody["name"])
	}
	if gotHeader != "secret" {
		t.Errorf("missing custom header, got %q", gotHeader)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
}

func TestDo_GetNeverCarriesBody(t *testing.T) {
	var gotLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	body := []models.Field{{Key: "ignored", Value: "yes"}}
	res := NewClient().Do(context.Background(), http.MethodGet, srv.URL, body, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotLen > 0 {
		t.Errorf("GET must not carry a body, got length %d", gotLen)
	}
}

func TestDo_TimeoutIsFailureResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(20 * time.Millisecond))
	res := c.Do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.Msg == "" {
		t.Error("expected failure message")
	}
}

func TestDo_TransportErrorIsFailureResult(t *testing.T) {
	res := NewClient().Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/none", nil, nil)
	if res.Success {
		t.Fatal("expected failure for unreachable host")
	}
}
