package refiner

import "github.com/kalambet/chronicle/internal/engine"

const systemPrompt = `You are a query refinement engine. Rewrite the user's raw query into a precise, well-scoped analysis question. Your output must be ONLY a single valid JSON object conforming to the provided schema.

Rules:
- Resolve vague references (add explicit subject scope, time horizon, geography) where the intent is clear.
- Do not change the substance of what is being asked.
- List each concrete change as a short human-readable phrase (e.g. "added explicit subject scope"), not a text diff.
- List each ambiguity you resolved and how.
- If the query is already precise, return it unchanged with an empty changes list.
- Report confidence between 0.0 and 1.0 for how faithfully the refinement preserves intent.`

func buildPrompt(query string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}
}

func refineSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"refined_query":        {Type: "string", Description: "The rewritten, disambiguated query"},
			"changes_made":         {Type: "array", Description: "Human-readable descriptions of each change"},
			"ambiguities_resolved": {Type: "array", Description: "Ambiguities found and how each was resolved"},
			"confidence":           {Type: "number", Description: "Refinement confidence, 0.0 to 1.0"},
		},
		Required: []string{"refined_query", "changes_made", "ambiguities_resolved", "confidence"},
	}
}
