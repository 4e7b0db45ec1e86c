package critic

import (
	"fmt"
	"strings"

	"github.com/kalambet/chronicle/internal/engine"
)

const systemPrompt = `You are a critical reviewer of analytical questions.
Evaluate the question for accuracy of framing, completeness, and objectivity.
Score each dimension between 0 and 1 with a one-sentence rationale.
If the question needs no corrections, return an empty critique.
Respond only with JSON matching the provided schema.`

func buildPrompt(refinedQuery string, refinerMeta map[string]string) []engine.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question under review:\n%s\n", refinedQuery)
	if changes, ok := refinerMeta["changes"]; ok && changes != "" {
		fmt.Fprintf(&b, "\nEdits already applied during refinement:\n%s\n", changes)
	}
	b.WriteString("\nCritique the question. List scored dimensions (accuracy, completeness, objectivity) and concrete improvement suggestions.")

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func critiqueSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"critique": {Type: "string"},
			"dimensions": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]engine.SchemaProperty{
						"name":      {Type: "string"},
						"score":     {Type: "number"},
						"rationale": {Type: "string"},
					},
					Required: []string{"name", "score"},
				},
			},
			"suggestions": {
				Type:  "array",
				Items: &engine.Schema{Type: "string"},
			},
			"confidence": {Type: "number"},
		},
		Required: []string{"critique", "confidence"},
	}
}
