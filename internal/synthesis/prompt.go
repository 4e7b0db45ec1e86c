package synthesis

import (
	"fmt"
	"strings"

	"github.com/kalambet/chronicle/internal/engine"
)

const systemPrompt = `You are the final synthesizer in a multi-agent analysis
pipeline. You receive a refined question plus the outputs of a critic and a
historian. Integrate them into one coherent analysis: name the key themes and
which agents support each, resolve conflicts between agent outputs, surface
complementary insights, and state what remains unknown.
Treat a missing critique or an empty historical record as information about
the question, not as an error.
Respond only with JSON matching the provided schema.`

func buildPrompt(in Input) []engine.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n", in.Refiner.RefinedQuery)
	fmt.Fprintf(&b, "\n## Refiner (%s, confidence %.2f)\n%s", in.Refiner.Status, in.Refiner.Confidence, in.Refiner.Render())

	if in.Critic != nil {
		fmt.Fprintf(&b, "\n## Critic (%s, confidence %.2f)\n%s", in.Critic.Status, in.Critic.Confidence, in.Critic.Render())
	}
	if in.Historian != nil {
		fmt.Fprintf(&b, "\n## Historian (%s, confidence %.2f)\n%s", in.Historian.Status, in.Historian.Confidence, in.Historian.Render())
	}
	b.WriteString("\nProduce the integrated synthesis.")

	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func synthesisSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"synthesis": {Type: "string"},
			"key_themes": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]engine.SchemaProperty{
						"theme":             {Type: "string"},
						"supporting_agents": {Type: "array", Items: &engine.Schema{Type: "string"}},
						"confidence":        {Type: "number"},
					},
					Required: []string{"theme", "confidence"},
				},
			},
			"conflicts_resolved":     {Type: "array", Items: &engine.Schema{Type: "string"}},
			"complementary_insights": {Type: "array", Items: &engine.Schema{Type: "string"}},
			"knowledge_gaps":         {Type: "array", Items: &engine.Schema{Type: "string"}},
			"meta_insights":          {Type: "array", Items: &engine.Schema{Type: "string"}},
			"confidence":             {Type: "number"},
		},
		Required: []string{"synthesis", "confidence"},
	}
}
