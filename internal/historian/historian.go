// Package historian grounds the pipeline in the corpus: it retrieves notes
// relevant to the refined query, filters them by an acceptance threshold, and
// narrates the historical context. Retrieval failing outright is a different
// terminal state from retrieval succeeding with nothing relevant, and the two
// are never conflated.
package historian

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/corpus"
	"github.com/kalambet/chronicle/internal/engine"
	"github.com/kalambet/chronicle/internal/rank"
)

const (
	defaultTimeout = 45 * time.Second

	// Retrieval fans out wider than the citation cap so the threshold has
	// candidates to reject.
	searchK         = 8
	acceptThreshold = 0.60
	maxSources      = 5
)

// Source is one accepted piece of historical context, citable by note UUID.
type Source struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"content_snippet"`
}

// Result is the historian's stage output.
type Result struct {
	agent.Result
	Sources              []Source `json:"sources,omitempty"`
	HistoricalSynthesis  string   `json:"historical_synthesis,omitempty"`
	Themes               []string `json:"themes,omitempty"`
	TimePeriods          []string `json:"time_periods,omitempty"`
	Connections          []string `json:"connections,omitempty"`
	SourcesSearched      int      `json:"sources_searched"`
	RelevantSourcesFound int      `json:"relevant_sources_found"`
	NoRelevantContext    bool     `json:"no_relevant_context"`
}

// Historian retrieves and narrates historical context.
type Historian struct {
	engine   engine.Engine
	searcher corpus.Searcher
	reranker rank.Reranker
	model    string
	timeout  time.Duration
}

// New creates a Historian. If timeout <= 0 the default is used.
func New(eng engine.Engine, searcher corpus.Searcher, reranker rank.Reranker, model string, timeout time.Duration) *Historian {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Historian{engine: eng, searcher: searcher, reranker: reranker, model: model, timeout: timeout}
}

type narrativeResponse struct {
	Synthesis   string   `json:"synthesis"`
	Themes      []string `json:"themes"`
	TimePeriods []string `json:"time_periods"`
	Connections []string `json:"connections"`
	Confidence  float64  `json:"confidence"`
}

// Lookup is total. Retrieval errors yield retrieval_unavailable; an empty
// acceptance set yields no_matches with a best-effort ungrounded narrative;
// accepted sources yield found_matches even if the narration model fails,
// in which case the narrative degrades to a mechanical snippet summary.
func (h *Historian) Lookup(ctx context.Context, refinedQuery string) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	candidates, err := h.searcher.Search(ctx, refinedQuery, searchK)
	if err != nil {
		slog.Warn("historian: retrieval unavailable", "error", err)
		res := Result{
			Result: agent.Result{
				AgentName:  agent.Historian,
				Status:     agent.StatusRetrievalUnavailable,
				Confidence: 0.0,
			},
			NoRelevantContext:   true,
			HistoricalSynthesis: "Historical context could not be consulted: the corpus store was unreachable.",
		}
		res.SetMeta("retrieval_error", err.Error())
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	candidates = h.reranker.Rerank(ctx, refinedQuery, candidates)

	accepted := make([]Source, 0, maxSources)
	for _, c := range candidates {
		if c.RelevanceScore < acceptThreshold {
			continue
		}
		accepted = append(accepted, Source{
			SourceID:       c.SourceID,
			Title:          c.Title,
			RelevanceScore: c.RelevanceScore,
			Snippet:        c.Snippet,
		})
		if len(accepted) == maxSources {
			break
		}
	}

	var res Result
	if len(accepted) == 0 {
		res = h.noMatches(ctx, refinedQuery)
	} else {
		res = h.foundMatches(ctx, refinedQuery, accepted)
	}
	res.SourcesSearched = len(candidates)
	res.RelevantSourcesFound = len(accepted)
	res.NoRelevantContext = len(accepted) == 0
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

func (h *Historian) noMatches(ctx context.Context, refinedQuery string) Result {
	res := Result{
		Result: agent.Result{
			AgentName:  agent.Historian,
			Status:     agent.StatusNoMatches,
			Confidence: 0.3,
		},
	}

	raw, err := h.engine.Chat(ctx, h.model, buildUngroundedPrompt(refinedQuery), narrativeSchema())
	if err != nil {
		slog.Warn("historian: ungrounded narration failed", "error", err)
		res.HistoricalSynthesis = "No prior notes in the corpus relate to this question."
		res.SetMeta("narration_failure", "backend_error")
		return res
	}

	var resp narrativeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || strings.TrimSpace(resp.Synthesis) == "" {
		res.HistoricalSynthesis = "No prior notes in the corpus relate to this question."
		res.SetMeta("narration_failure", "malformed_response")
		return res
	}

	res.HistoricalSynthesis = strings.TrimSpace(resp.Synthesis)
	res.Themes = resp.Themes
	res.TimePeriods = resp.TimePeriods
	res.Connections = resp.Connections
	// An ungrounded narrative never earns more than low confidence.
	if c := agent.ClampConfidence(resp.Confidence); c < res.Confidence {
		res.Confidence = c
	}
	return res
}

func (h *Historian) foundMatches(ctx context.Context, refinedQuery string, sources []Source) Result {
	res := Result{
		Result: agent.Result{
			AgentName: agent.Historian,
			Status:    agent.StatusFoundMatches,
		},
		Sources: sources,
	}

	raw, err := h.engine.Chat(ctx, h.model, buildGroundedPrompt(refinedQuery, sources), narrativeSchema())
	if err != nil {
		slog.Warn("historian: grounded narration failed", "error", err)
		res.HistoricalSynthesis = mechanicalNarrative(sources)
		res.Confidence = 0.5
		res.SetMeta("narration_failure", "backend_error")
		return res
	}

	var resp narrativeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || strings.TrimSpace(resp.Synthesis) == "" {
		res.HistoricalSynthesis = mechanicalNarrative(sources)
		res.Confidence = 0.5
		res.SetMeta("narration_failure", "malformed_response")
		return res
	}

	res.HistoricalSynthesis = strings.TrimSpace(resp.Synthesis)
	res.Themes = resp.Themes
	res.TimePeriods = resp.TimePeriods
	res.Connections = resp.Connections
	res.Confidence = agent.ClampConfidence(resp.Confidence)
	res.ChangesMade = true
	return res
}

// mechanicalNarrative lists accepted snippets verbatim. Used when retrieval
// succeeded but the narration model did not; the citations still stand.
func mechanicalNarrative(sources []Source) string {
	var b strings.Builder
	b.WriteString("Relevant prior notes (narration unavailable, raw excerpts follow):\n")
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.SourceID
		}
		fmt.Fprintf(&b, "- %s (relevance %.2f): %s\n", title, s.RelevanceScore, s.Snippet)
	}
	return b.String()
}

// Render serializes the historian output into its artifact section.
func (res Result) Render() string {
	var b strings.Builder
	b.WriteString(res.HistoricalSynthesis)
	b.WriteString("\n")

	if len(res.Themes) > 0 {
		fmt.Fprintf(&b, "\n**Themes:** %s\n", strings.Join(res.Themes, ", "))
	}
	if len(res.TimePeriods) > 0 {
		fmt.Fprintf(&b, "**Time periods:** %s\n", strings.Join(res.TimePeriods, ", "))
	}
	if len(res.Connections) > 0 {
		b.WriteString("\n**Connections:**\n")
		for _, c := range res.Connections {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(res.Sources) > 0 {
		b.WriteString("\n**Sources:**\n")
		for _, s := range res.Sources {
			title := s.Title
			if title == "" {
				title = s.SourceID
			}
			fmt.Fprintf(&b, "- %s (%s, relevance %.2f)\n", title, s.SourceID, s.RelevanceScore)
		}
	}
	fmt.Fprintf(&b, "\nSearched %d sources, %d relevant.\n", res.SourcesSearched, res.RelevantSourcesFound)
	return b.String()
}
