package engine

import "context"

// Engine abstracts the completion backend every agent calls. The pipeline
// treats it as a black box: given messages it returns text or fails, and the
// caller owns the timeout budget via ctx. The default implementation talks to
// a local Ollama server; any OpenAI-compatible server could stand in.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}
