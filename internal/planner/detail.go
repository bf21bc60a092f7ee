package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const detailSchemaDescription = `{
  "action_plan": [
    "Step 1: Understand the core requirement.",
    "Step 2: Break down the requirement into smaller sub-tasks.",
    "Step 3: Execute sub-tasks.",
    "Step 4: Review and test the result."
  ],
  "category_code": "TECH-PROJECT",
  "mermaid_workflow": "graph TD;\nA[Define Scope] --> B(Breakdown Tasks);\nB --> C[Review];"
}`

// DetailGenerator expands a plan's summary and action items into a step
// breakdown, a category code, and a mermaid workflow diagram.
type DetailGenerator struct {
	client *Client
	logger *slog.Logger
}

// detailPayload mirrors the JSON shape requested from the model. Pointer
// fields distinguish absent keys from empty values so the required-field
// check can reject incomplete replies.
type detailPayload struct {
	ActionPlan      *[]string `json:"action_plan"`
	CategoryCode    *string   `json:"category_code"`
	MermaidWorkflow *string   `json:"mermaid_workflow"`
}

// NewDetailGenerator creates a detail generator on top of a chat client
func NewDetailGenerator(client *Client, logger *slog.Logger) *DetailGenerator {
	return &DetailGenerator{client: client, logger: logger}
}

// Generate asks the model for a detailed step plan derived from the
// summary and action titles. There is no parse fallback here: any
// malformed reply is reported as an error and the caller degrades to
// empty details.
func (g *DetailGenerator) Generate(ctx context.Context, summary string, actionTitles []string) (Details, error) {
	prompt := buildDetailPrompt(summary, actionTitles)

	content, err := g.client.Complete(ctx, "", prompt)
	if err != nil {
		return Details{}, err
	}

	var payload detailPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Details{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if payload.ActionPlan == nil {
		return Details{}, fmt.Errorf("%w: missing required key action_plan", ErrMalformedResponse)
	}
	if payload.CategoryCode == nil {
		return Details{}, fmt.Errorf("%w: missing required key category_code", ErrMalformedResponse)
	}
	if payload.MermaidWorkflow == nil {
		return Details{}, fmt.Errorf("%w: missing required key mermaid_workflow", ErrMalformedResponse)
	}

	details := Details{
		Steps:        *payload.ActionPlan,
		CategoryCode: strings.TrimSpace(*payload.CategoryCode),
		Workflow:     strings.TrimSpace(*payload.MermaidWorkflow),
	}

	g.logger.Info("Plan details generated",
		slog.Int("step_count", len(details.Steps)),
		slog.String("category_code", details.CategoryCode),
	)

	return details, nil
}

func buildDetailPrompt(summary string, actionTitles []string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following meeting action plan:\n")
	sb.WriteString("Summary: ")
	sb.WriteString(summary)
	sb.WriteString("\nAction items:\n")
	for _, title := range actionTitles {
		sb.WriteString("- ")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	sb.WriteString("\nBased on this information, generate a JSON response containing the following three fields ONLY:\n")
	sb.WriteString("1. `action_plan`: A detailed, step-by-step action plan to complete the work. List steps clearly.\n")
	sb.WriteString("2. `category_code`: A concise category code representing the type of work ")
	sb.WriteString("(e.g., 'TECH-DEV', 'ADMIN-REPORT', 'SALES-LEAD', 'HR-POLICY', 'MARKETING-CAMP', 'OPS-MAINT'). ")
	sb.WriteString("Choose the most appropriate code.\n")
	sb.WriteString("3. `mermaid_workflow`: Mermaid JS syntax (using 'graph TD;' for a top-down flowchart) ")
	sb.WriteString("visualizing the high-level workflow based on the action plan. Ensure the syntax is valid Mermaid JS.\n\n")
	sb.WriteString("Output ONLY the JSON object, starting with { and ending with }. ")
	sb.WriteString("Do not include any introductory text or explanations outside the JSON structure.\n\n")
	sb.WriteString("Example JSON structure:\n")
	sb.WriteString(detailSchemaDescription)
	sb.WriteString("\n")
	return sb.String()
}
