package historian

import (
	"fmt"
	"strings"

	"github.com/kalambet/chronicle/internal/engine"
)

const groundedSystemPrompt = `You are a historian of a personal research corpus.
Given a question and excerpts from prior notes, synthesize the historical
context: what the corpus already says about this question, recurring themes,
time periods covered, and connections between the notes.
Ground every claim in the provided excerpts. Do not invent sources.
Respond only with JSON matching the provided schema.`

const ungroundedSystemPrompt = `You are a historian of a personal research corpus.
The corpus contains nothing relevant to the question below. Briefly sketch what
general historical background a reader might want, and say plainly that it is
not drawn from the corpus.
Respond only with JSON matching the provided schema.`

func buildGroundedPrompt(refinedQuery string, sources []Source) []engine.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n\nExcerpts from prior notes:\n", refinedQuery)
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = s.SourceID
		}
		fmt.Fprintf(&b, "\n[%d] %s (relevance %.2f):\n%s\n", i+1, title, s.RelevanceScore, s.Snippet)
	}
	b.WriteString("\nSynthesize the historical context from these excerpts.")

	return []engine.Message{
		{Role: "system", Content: groundedSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func buildUngroundedPrompt(refinedQuery string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: ungroundedSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question:\n%s", refinedQuery)},
	}
}

func narrativeSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"synthesis":    {Type: "string"},
			"themes":       {Type: "array", Items: &engine.Schema{Type: "string"}},
			"time_periods": {Type: "array", Items: &engine.Schema{Type: "string"}},
			"connections":  {Type: "array", Items: &engine.Schema{Type: "string"}},
			"confidence":   {Type: "number"},
		},
		Required: []string{"synthesis", "confidence"},
	}
}
