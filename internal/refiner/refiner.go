// Package refiner is the first pipeline stage: it disambiguates and
// normalizes the raw query before any downstream agent sees it.
package refiner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/engine"
)

const defaultTimeout = 15 * time.Second

// Confidence reported when the backend fails and the raw query is passed
// through unchanged.
const fallbackConfidence = 0.3

// Result is the refiner's stage output.
type Result struct {
	agent.Result
	RefinedQuery        string   `json:"refined_query"`
	OriginalQuery       string   `json:"original_query"`
	Changes             []string `json:"changes_made_list,omitempty"`
	AmbiguitiesResolved []string `json:"ambiguities_resolved,omitempty"`
	FallbackUsed        bool     `json:"fallback_used"`
}

// Refiner rewrites vague queries into precise ones using a fast local model.
type Refiner struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// New creates a Refiner. If timeout <= 0 the default is used.
func New(eng engine.Engine, model string, timeout time.Duration) *Refiner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Refiner{engine: eng, model: model, timeout: timeout}
}

type refineResponse struct {
	RefinedQuery        string   `json:"refined_query"`
	ChangesMade         []string `json:"changes_made"`
	AmbiguitiesResolved []string `json:"ambiguities_resolved"`
	Confidence          float64  `json:"confidence"`
}

// Refine is total: every failure (timeout, backend error, malformed JSON,
// empty refinement) maps to a fallback result carrying the original query
// unchanged. The orchestrator never sees an error from this stage.
func (r *Refiner) Refine(ctx context.Context, query string) Result {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		res := r.fallback(query, "empty_query")
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.engine.Chat(ctx, r.model, buildPrompt(query), refineSchema())
	if err != nil {
		slog.Warn("refiner: chat failed", "error", err)
		res := r.fallback(query, failureKind(ctx, err))
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	var resp refineResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		slog.Warn("refiner: malformed completion", "error", err, "response", raw)
		res := r.fallback(query, "malformed_response")
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	refined := strings.TrimSpace(resp.RefinedQuery)
	if refined == "" {
		res := r.fallback(query, "empty_refinement")
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	res := Result{
		Result: agent.Result{
			AgentName:   agent.Refiner,
			Status:      agent.StatusRefined,
			Confidence:  agent.ClampConfidence(resp.Confidence),
			ChangesMade: len(resp.ChangesMade) > 0,
		},
		RefinedQuery:        refined,
		OriginalQuery:       query,
		Changes:             resp.ChangesMade,
		AmbiguitiesResolved: resp.AmbiguitiesResolved,
	}
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

// fallback builds the degraded result: the original query passes through
// unchanged and the failure kind is recorded in metadata.
func (r *Refiner) fallback(query, kind string) Result {
	res := Result{
		Result: agent.Result{
			AgentName:  agent.Refiner,
			Status:     agent.StatusFallback,
			Confidence: fallbackConfidence,
		},
		RefinedQuery:  query,
		OriginalQuery: query,
		FallbackUsed:  true,
	}
	res.SetMeta("failure", kind)
	return res
}

func failureKind(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "backend_timeout"
	}
	if err != nil {
		return "backend_error"
	}
	return "unknown"
}

// Render serializes the result into its artifact section. All formatting
// happens here, at the stage boundary; nothing downstream ever sees an
// unserialized value.
func (res Result) Render() string {
	var b strings.Builder

	if res.FallbackUsed {
		fmt.Fprintf(&b, "Refinement was unavailable (%s); the original query was used unchanged.\n\n", res.Metadata["failure"])
		fmt.Fprintf(&b, "**Query:** %s\n", res.OriginalQuery)
		return b.String()
	}

	fmt.Fprintf(&b, "**Refined query:** %s\n", res.RefinedQuery)
	if len(res.Changes) > 0 {
		b.WriteString("\n**Changes made:**\n")
		for _, c := range res.Changes {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(res.AmbiguitiesResolved) > 0 {
		b.WriteString("\n**Ambiguities resolved:**\n")
		for _, a := range res.AmbiguitiesResolved {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}
