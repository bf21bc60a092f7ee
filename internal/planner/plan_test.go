package planner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newChatServer returns an httptest server that replies with the given
// message content wrapped in a chat-completion envelope.
func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got %q", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chat request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("Expected response_format json_object to be requested")
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	client, err := NewClient(Config{
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Model:       "gpt-4o",
		Temperature: 0.5,
		Timeout:     5 * time.Second,
		MaxRetries:  0,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestPlanGenerate(t *testing.T) {
	reply := `{
		"action_plan_title": "Sprint Planning",
		"summary": "Discussed sprint scope.",
		"actions": [
			{
				"action_title": "Write migration",
				"description": "Add the new column",
				"due_date": "2026-09-01",
				"priority": "high",
				"status": "pending"
			}
		]
	}`
	server := newChatServer(t, reply)
	defer server.Close()

	gen := NewPlanGenerator(newTestClient(t, server.URL), testLogger(), nil)

	draft, err := gen.Generate(context.Background(), "some transcript")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if draft.Title != "Sprint Planning" {
		t.Errorf("Expected title 'Sprint Planning', got %q", draft.Title)
	}
	if draft.Summary != "Discussed sprint scope." {
		t.Errorf("Expected summary to be preserved, got %q", draft.Summary)
	}
	if len(draft.Actions) != 1 {
		t.Fatalf("Expected 1 action, got %d", len(draft.Actions))
	}

	action := draft.Actions[0]
	if action.Priority != PriorityHigh {
		t.Errorf("Expected priority HIGH after coercion, got %s", action.Priority)
	}
	if action.Status != StatusPending {
		t.Errorf("Expected status PENDING after coercion, got %s", action.Status)
	}
	if action.DueDate == nil || action.DueDate.Format("2006-01-02") != "2026-09-01" {
		t.Errorf("Expected due date 2026-09-01, got %v", action.DueDate)
	}
}

func TestPlanGenerateBracketFallback(t *testing.T) {
	reply := "Here is your plan:\n```json\n" +
		`{"action_plan_title": "Recovered Plan", "summary": "S.", "actions": []}` +
		"\n```\nHope this helps!"
	server := newChatServer(t, reply)
	defer server.Close()

	gen := NewPlanGenerator(newTestClient(t, server.URL), testLogger(), nil)

	draft, err := gen.Generate(context.Background(), "some transcript")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if draft.Title != "Recovered Plan" {
		t.Errorf("Expected title recovered via bracket extraction, got %q", draft.Title)
	}
}

func TestPlanGenerateMalformed(t *testing.T) {
	server := newChatServer(t, "I could not produce a plan, sorry.")
	defer server.Close()

	gen := NewPlanGenerator(newTestClient(t, server.URL), testLogger(), nil)

	_, err := gen.Generate(context.Background(), "some transcript")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected ErrMalformedResponse, got %v", err)
	}
}

func TestPlanGenerateTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	gen := NewPlanGenerator(newTestClient(t, server.URL), testLogger(), nil)

	_, err := gen.Generate(context.Background(), "some transcript")
	if err == nil {
		t.Fatal("Expected error for HTTP 400")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Errorf("Expected transport error, not malformed response: %v", err)
	}
}

func TestParsePlanPayload(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		expectError  bool
		usedFallback bool
	}{
		{
			name:    "clean JSON",
			content: `{"action_plan_title": "T", "summary": "S", "actions": []}`,
		},
		{
			name:         "JSON wrapped in prose",
			content:      `Sure! {"action_plan_title": "T", "summary": "S", "actions": []} Done.`,
			usedFallback: true,
		},
		{
			name:        "no braces at all",
			content:     "no json here",
			expectError: true,
		},
		{
			name:        "braces around garbage",
			content:     "{not valid json}",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, usedFallback, err := parsePlanPayload(tt.content)
			if tt.expectError {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("Expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if usedFallback != tt.usedFallback {
				t.Errorf("Expected usedFallback=%v, got %v", tt.usedFallback, usedFallback)
			}
		})
	}
}

func TestPayloadToDraftDefaults(t *testing.T) {
	payload := planPayload{
		Actions: []actionPayload{
			{DueDate: "null", Priority: "whatever", Status: ""},
		},
	}

	draft := payloadToDraft(payload)

	expectedPrefix := "Meeting Summary " + time.Now().Format("2006-01-02")
	if draft.Title != expectedPrefix {
		t.Errorf("Expected default dated title %q, got %q", expectedPrefix, draft.Title)
	}
	if draft.Summary != "No summary provided." {
		t.Errorf("Expected default summary, got %q", draft.Summary)
	}

	if len(draft.Actions) != 1 {
		t.Fatalf("Expected 1 action, got %d", len(draft.Actions))
	}
	action := draft.Actions[0]
	if action.Title != "Untitled Action" {
		t.Errorf("Expected default action title, got %q", action.Title)
	}
	if action.DueDate != nil {
		t.Errorf("Expected nil due date for 'null', got %v", action.DueDate)
	}
	if action.Priority != PriorityMedium {
		t.Errorf("Expected default priority MEDIUM, got %s", action.Priority)
	}
	if action.Status != StatusPending {
		t.Errorf("Expected default status PENDING, got %s", action.Status)
	}
}

func TestBuildPlanPrompt(t *testing.T) {
	prompt := buildPlanPrompt("the transcript text")

	if !strings.Contains(prompt, "the transcript text") {
		t.Error("Expected prompt to contain the transcript")
	}
	if !strings.Contains(prompt, "action_plan_title") {
		t.Error("Expected prompt to contain the JSON structure description")
	}
}
