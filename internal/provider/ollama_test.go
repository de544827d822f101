package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOllama(baseURL string) *Ollama {
	return NewOllama(OllamaConfig{APIBase: baseURL, Logger: testLogger()})
}

func TestOllama_CompleteReturnsContent(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected /api/chat, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"Hello there"},"done":true}`)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	resp, err := gen.Complete(context.Background(), domain.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Fatalf("expected content from server, got %q", resp.Content)
	}
	if resp.LatencyMs < 0 {
		t.Fatalf("expected non-negative latency, got %d", resp.LatencyMs)
	}
	if gotReq.Model != ollamaDefaultModel {
		t.Fatalf("expected default model, got %q", gotReq.Model)
	}
	if gotReq.Stream {
		t.Fatal("expected non-streaming request")
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", gotReq.Messages)
	}
}

func TestOllama_CompleteBuildsConversation(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"message":{"content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	_, err := gen.Complete(context.Background(), domain.GenerateRequest{
		Model:  "mistral",
		System: "You are terse.",
		Prompt: "third turn",
		Images: []string{"aGVsbG8="},
		History: []domain.GenMessage{
			{Role: "user", Content: "first turn"},
			{Role: "assistant", Content: "second turn"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotReq.Model != "mistral" {
		t.Fatalf("expected request model to win, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 4 {
		t.Fatalf("expected system+history+prompt, got %d messages", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[0].Content != "You are terse." {
		t.Fatalf("expected system message first, got %+v", gotReq.Messages[0])
	}
	if gotReq.Messages[1].Content != "first turn" || gotReq.Messages[2].Content != "second turn" {
		t.Fatalf("expected history in order, got %+v", gotReq.Messages)
	}
	last := gotReq.Messages[3]
	if last.Role != "user" || last.Content != "third turn" {
		t.Fatalf("expected prompt as final user message, got %+v", last)
	}
	if len(last.Images) != 1 || last.Images[0] != "aGVsbG8=" {
		t.Fatalf("expected images on the prompt message, got %+v", last.Images)
	}
}

func TestOllama_CompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	_, err := gen.Complete(context.Background(), domain.GenerateRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error on 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestOllama_StreamDeliversFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected streaming request")
		}
		fmt.Fprintln(w, `{"message":{"content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	out := make(chan domain.Fragment, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- gen.Stream(context.Background(), domain.GenerateRequest{Prompt: "hi"}, out)
	}()

	var text strings.Builder
	sawDone := false
	for f := range out {
		if f.Done {
			sawDone = true
			continue
		}
		text.WriteString(f.Text)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text.String() != "Hello" {
		t.Fatalf("expected accumulated Hello, got %q", text.String())
	}
	if !sawDone {
		t.Fatal("expected a terminating done fragment")
	}
}

func TestOllama_StreamEndsEarlyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	out := make(chan domain.Fragment, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- gen.Stream(context.Background(), domain.GenerateRequest{Prompt: "hi"}, out)
	}()

	for range out {
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected error when stream ends without completion")
	}
}

func TestOllama_StreamClosesChannelOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	out := make(chan domain.Fragment, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- gen.Stream(context.Background(), domain.GenerateRequest{Prompt: "hi"}, out)
	}()

	for range out {
	}
	if err := <-errCh; err == nil {
		t.Fatal("expected error on HTTP 400")
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("expected /api/tags, got %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	gen := newTestOllama(srv.URL)
	if err := gen.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}

func TestOllama_HealthyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	gen := newTestOllama(srv.URL)
	if err := gen.Healthy(context.Background()); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
