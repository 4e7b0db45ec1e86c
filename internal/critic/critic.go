// Package critic evaluates the refined query for completeness, bias, and
// calibration. Its terminal states are a populated critique with scored
// dimensions or an explicit "no critique" sentinel; it never crashes the run
// and never lets an unserialized backend response reach the artifact.
package critic

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

const defaultTimeout = 30 * time.Second

// One retry on a malformed response before settling on the sentinel.
const maxAttempts = 2

// Dimension is one scored aspect of the critique.
type Dimension struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Result is the critic's stage output. An empty Critique with status
// no_critique is a valid terminal outcome, not an error.
type Result struct {
	agent.Result
	Critique    string      `json:"critique_text,omitempty"`
	Dimensions  []Dimension `json:"scored_dimensions,omitempty"`
	Suggestions []string    `json:"improvement_suggestions,omitempty"`
}

// Critic reviews refined queries with a local model.
type Critic struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// New creates a Critic. If timeout <= 0 the default is used.
func New(eng engine.Engine, model string, timeout time.Duration) *Critic {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Critic{engine: eng, model: model, timeout: timeout}
}

type critiqueResponse struct {
	Critique   string `json:"critique"`
	Dimensions []struct {
		Name      string  `json:"name"`
		Score     float64 `json:"score"`
		Rationale string  `json:"rationale"`
	} `json:"dimensions"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

// Review is total: backend failures and persistently malformed responses
// collapse to the no_critique sentinel with the failure recorded in metadata.
func (c *Critic) Review(ctx context.Context, refinedQuery string, refinerMeta map[string]string) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastFailure string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.engine.Chat(ctx, c.model, buildPrompt(refinedQuery, refinerMeta), critiqueSchema())
		if err != nil {
			slog.Warn("critic: chat failed", "attempt", attempt, "error", err)
			if ctx.Err() == context.DeadlineExceeded {
				lastFailure = "backend_timeout"
				break
			}
			lastFailure = "backend_error"
			continue
		}

		var resp critiqueResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			slog.Warn("critic: malformed completion", "attempt", attempt, "error", err)
			lastFailure = "malformed_response"
			continue
		}

		res := c.fromResponse(resp)
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	res := c.noCritique(lastFailure)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

func (c *Critic) fromResponse(resp critiqueResponse) Result {
	critique := strings.TrimSpace(resp.Critique)
	if critique == "" {
		// The model judged the query fine as-is. A legitimate terminal state.
		return Result{
			Result: agent.Result{
				AgentName:  agent.Critic,
				Status:     agent.StatusNoCritique,
				Confidence: agent.ClampConfidence(resp.Confidence),
			},
		}
	}

	res := Result{
		Result: agent.Result{
			AgentName:   agent.Critic,
			Status:      agent.StatusCritiqued,
			Confidence:  agent.ClampConfidence(resp.Confidence),
			ChangesMade: len(resp.Suggestions) > 0,
		},
		Critique:    critique,
		Suggestions: resp.Suggestions,
	}
	for _, d := range resp.Dimensions {
		res.Dimensions = append(res.Dimensions, Dimension{
			Name:      d.Name,
			Score:     agent.ClampConfidence(d.Score),
			Rationale: d.Rationale,
		})
	}
	return res
}

func (c *Critic) noCritique(failure string) Result {
	res := Result{
		Result: agent.Result{
			AgentName:  agent.Critic,
			Status:     agent.StatusNoCritique,
			Confidence: 0.3,
		},
	}
	if failure != "" {
		res.SetMeta("failure", failure)
	}
	return res
}

// Render serializes the critique into its artifact section.
func (res Result) Render() string {
	if res.Status == agent.StatusNoCritique {
		if failure, ok := res.Metadata["failure"]; ok {
			return fmt.Sprintf("No critique available (%s).\n", failure)
		}
		return "No critique: the refined query required no corrections.\n"
	}

	var b strings.Builder
	b.WriteString(res.Critique)
	b.WriteString("\n")

	if len(res.Dimensions) > 0 {
		b.WriteString("\n**Scored dimensions:**\n")
		for _, d := range res.Dimensions {
			fmt.Fprintf(&b, "- %s: %.2f — %s\n", d.Name, d.Score, d.Rationale)
		}
	}
	if len(res.Suggestions) > 0 {
		b.WriteString("\n**Improvement suggestions:**\n")
		for _, s := range res.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return b.String()
}
