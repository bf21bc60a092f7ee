package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/thtskaran/effenAi/internal/metrics"
)

const planSystemPrompt = "You are an expert meeting assistant. Your task is to summarize " +
	"transcripts and extract structured action plans in JSON format."

const planSchemaDescription = `{
  "action_plan_title": "Concise Title of the Meeting Action Plan",
  "summary": "A brief summary of the meeting discussion.",
  "actions": [
    {
      "action_title": "Specific Action Item 1",
      "description": "Optional details about the action.",
      "due_date": "YYYY-MM-DDTHH:MM:SS or null",
      "priority": "LOW | MEDIUM | HIGH",
      "status": "PENDING | IN_PROGRESS | COMPLETED"
    }
  ]
}`

// PlanGenerator converts a meeting transcript into a structured plan draft.
type PlanGenerator struct {
	client  *Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// planPayload mirrors the JSON shape requested from the model.
type planPayload struct {
	ActionPlanTitle string          `json:"action_plan_title"`
	Summary         string          `json:"summary"`
	Actions         []actionPayload `json:"actions"`
}

type actionPayload struct {
	ActionTitle string `json:"action_title"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// NewPlanGenerator creates a plan generator on top of a chat client.
// The metrics handle may be nil in tests.
func NewPlanGenerator(client *Client, logger *slog.Logger, m *metrics.Metrics) *PlanGenerator {
	return &PlanGenerator{client: client, logger: logger, metrics: m}
}

// Generate asks the model for a summary and action plan of the transcript
// and parses the reply. When the reply is not valid JSON outright, a single
// fallback extracts the substring between the first '{' and the last '}'
// and reparses it; if that also fails the error wraps ErrMalformedResponse.
func (g *PlanGenerator) Generate(ctx context.Context, transcript string) (PlanDraft, error) {
	prompt := buildPlanPrompt(transcript)

	content, err := g.client.Complete(ctx, planSystemPrompt, prompt)
	if err != nil {
		return PlanDraft{}, err
	}

	payload, usedFallback, err := parsePlanPayload(content)
	if err != nil {
		g.logger.Warn("Plan response was not parseable",
			slog.Int("response_length", len(content)),
			slog.String("error", err.Error()),
		)
		return PlanDraft{}, err
	}

	if usedFallback {
		g.logger.Warn("Plan response recovered by bracket extraction",
			slog.Int("response_length", len(content)),
		)
		if g.metrics != nil {
			g.metrics.PlanFallbackParses.Inc()
		}
	}

	draft := payloadToDraft(payload)

	g.logger.Info("Plan generated",
		slog.String("title", draft.Title),
		slog.Int("action_count", len(draft.Actions)),
	)

	return draft, nil
}

func buildPlanPrompt(transcript string) string {
	var sb strings.Builder
	sb.WriteString("Given the following meeting transcript, please perform the following tasks:\n")
	sb.WriteString("1. Provide a concise summary of the key discussion points and decisions made.\n")
	sb.WriteString("2. Identify specific, actionable tasks or follow-ups mentioned.\n")
	sb.WriteString("3. For each action item, determine a suitable title, priority (LOW, MEDIUM, HIGH), ")
	sb.WriteString("initial status (usually PENDING), and due date if explicitly mentioned or clearly implied ")
	sb.WriteString("(use YYYY-MM-DDTHH:MM:SS format or null if not specified).\n")
	sb.WriteString("4. Format the entire output STRICTLY as a single JSON object matching the structure below. ")
	sb.WriteString("Do NOT include any text outside the JSON structure.\n\n")
	sb.WriteString("Desired JSON Structure:\n")
	sb.WriteString(planSchemaDescription)
	sb.WriteString("\n\nMeeting Transcript:\n---\n")
	sb.WriteString(transcript)
	sb.WriteString("\n---\n")
	return sb.String()
}

// parsePlanPayload parses the raw model reply, applying the single
// bracket-extraction fallback on failure. The second return value reports
// whether the fallback was needed.
func parsePlanPayload(content string) (planPayload, bool, error) {
	var payload planPayload
	if err := json.Unmarshal([]byte(content), &payload); err == nil {
		return payload, false, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return planPayload{}, false, fmt.Errorf("%w: no JSON object found in reply", ErrMalformedResponse)
	}

	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return planPayload{}, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return payload, true, nil
}

// payloadToDraft converts the wire payload, applying defaults for missing
// fields and coercing enum tokens and due dates.
func payloadToDraft(payload planPayload) PlanDraft {
	draft := PlanDraft{
		Title:   strings.TrimSpace(payload.ActionPlanTitle),
		Summary: strings.TrimSpace(payload.Summary),
	}

	if draft.Title == "" {
		draft.Title = "Meeting Summary " + time.Now().Format("2006-01-02")
	}
	if draft.Summary == "" {
		draft.Summary = "No summary provided."
	}

	for _, item := range payload.Actions {
		title := strings.TrimSpace(item.ActionTitle)
		if title == "" {
			title = "Untitled Action"
		}

		draft.Actions = append(draft.Actions, ActionItem{
			Title:       title,
			Description: strings.TrimSpace(item.Description),
			DueDate:     ParseDueDate(item.DueDate),
			Priority:    ParsePriority(item.Priority),
			Status:      ParseStatus(item.Status),
		})
	}

	return draft
}
