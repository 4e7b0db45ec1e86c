package ollama

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// EnsureReady checks that Ollama is running and every required model is
// available locally, then warms up the fast model so the first pipeline run
// doesn't pay the cold-load penalty. Model names listed in missing are not
// pulled automatically; the returned error tells the operator what to pull.
func EnsureReady(ctx context.Context, c *Client, fastModel string, models []string, w io.Writer) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running. Start it with: ollama serve")
	}

	var missing []string
	for _, model := range models {
		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		missing = append(missing, model)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing models: %s. Pull them with: ollama pull <model>", strings.Join(missing, ", "))
	}

	// Keep the fast model loaded in memory for low-latency refinement calls.
	fmt.Fprintf(w, "model %s: warming up...\n", fastModel)
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Chat(warmCtx, fastModel, []Message{{Role: "user", Content: "ping"}}, nil); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", fastModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", fastModel)
	}

	return nil
}
