// Package rank re-scores retrieval candidates with a local LLM before the
// historian applies its acceptance threshold. Cosine similarity is a coarse
// signal; a small model judging (query, snippet) pairs tightens the ranking
// without touching the retrieval contract.
package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/corpus"
	"github.com/kalambet/chronicle/internal/engine"
)

const defaultConcurrency = 3

// Reranker re-scores retrieved candidates by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []corpus.Candidate) []corpus.Candidate
}

// New returns an LLMReranker if enabled, NoOpReranker otherwise.
func New(eng engine.Engine, model string, enabled bool, timeout time.Duration) Reranker {
	if !enabled {
		return &NoOpReranker{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMReranker{engine: eng, model: model, timeout: timeout}
}

// NoOpReranker returns candidates unchanged.
type NoOpReranker struct{}

func (*NoOpReranker) Rerank(_ context.Context, _ string, candidates []corpus.Candidate) []corpus.Candidate {
	return candidates
}

// LLMReranker scores (query, snippet) pairs concurrently, bounded to
// defaultConcurrency goroutines. It is total: on timeout or per-candidate
// failure the original scores survive, so reranking can only refine the
// ordering, never lose candidates.
type LLMReranker struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []corpus.Candidate) []corpus.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rescored := make([]corpus.Candidate, len(candidates))
	copy(rescored, candidates)

	sem := make(chan struct{}, defaultConcurrency)
	var wg sync.WaitGroup
	for i := range rescored {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.score(timeoutCtx, query, rescored[i].Snippet)
			if err != nil {
				if timeoutCtx.Err() == nil {
					slog.Debug("reranker: score failed, retaining retrieval score", "error", err)
				}
				return
			}
			rescored[i].RelevanceScore = score
		}(i)
	}
	wg.Wait()

	if timeoutCtx.Err() != nil && ctx.Err() == nil {
		// Hard timeout: return the retrieval ordering untouched.
		slog.Debug("reranker: timeout, keeping retrieval order")
		return candidates
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].RelevanceScore > rescored[j].RelevanceScore
	})
	return rescored
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (r *LLMReranker) score(ctx context.Context, query, snippet string) (float64, error) {
	messages := []engine.Message{
		{Role: "system", Content: "You judge how relevant a document snippet is to a query. Output ONLY a JSON object with a single \"score\" field between 0.0 (irrelevant) and 1.0 (directly on topic)."},
		{Role: "user", Content: fmt.Sprintf("Query: %s\n\nSnippet: %s", query, snippet)},
	}
	schema := &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"score": {Type: "number", Description: "Relevance of the snippet to the query, 0.0 to 1.0"},
		},
		Required: []string{"score"},
	}

	raw, err := r.engine.Chat(ctx, r.model, messages, schema)
	if err != nil {
		return 0, err
	}
	var resp scoreResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return 0, fmt.Errorf("parsing score: %w", err)
	}
	return agent.ClampConfidence(resp.Score), nil
}
