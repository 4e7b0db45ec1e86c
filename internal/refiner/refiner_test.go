package refiner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/engine"
)

type mockEngine struct {
	chatFn func(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

func (m *mockEngine) Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error) {
	return m.chatFn(ctx, model, messages, schema)
}

func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (m *mockEngine) IsRunning(ctx context.Context) bool { return true }

func TestRefine_Success(t *testing.T) {
	eng := &mockEngine{
		chatFn: func(_ context.Context, _ string, _ []engine.Message, schema *engine.Schema) (string, error) {
			if schema == nil {
				t.Error("expected a JSON schema, got nil")
			}
			return `{
				"refined_query": "Analyze the impact of climate change on global crop yields over the next decade",
				"changes_made": ["added explicit subject scope", "specified time horizon"],
				"ambiguities_resolved": ["'agriculture' interpreted as crop production"],
				"confidence": 0.88
			}`, nil
		},
	}

	r := New(eng, "fast-model", time.Second)
	res := r.Refine(context.Background(), "climate change and farming?")

	if res.Status != agent.StatusRefined {
		t.Errorf("Status = %q, want refined", res.Status)
	}
	if res.FallbackUsed {
		t.Error("FallbackUsed = true, want false")
	}
	if !res.ChangesMade || len(res.Changes) != 2 {
		t.Errorf("Changes = %v, want 2 entries with ChangesMade=true", res.Changes)
	}
	if res.Confidence != 0.88 {
		t.Errorf("Confidence = %v, want 0.88", res.Confidence)
	}
	if res.ConfidenceLevel() != agent.LevelVeryHigh {
		t.Errorf("ConfidenceLevel = %q, want very_high", res.ConfidenceLevel())
	}
	if res.OriginalQuery != "climate change and farming?" {
		t.Errorf("OriginalQuery = %q", res.OriginalQuery)
	}
	if err := res.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRefine_BackendErrorFallsBack(t *testing.T) {
	eng := &mockEngine{
		chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
			return "", errors.New("connection refused")
		},
	}

	r := New(eng, "fast-model", time.Second)
	res := r.Refine(context.Background(), "some query")

	if res.Status != agent.StatusFallback {
		t.Errorf("Status = %q, want fallback", res.Status)
	}
	if !res.FallbackUsed {
		t.Error("FallbackUsed = false, want true")
	}
	if res.RefinedQuery != res.OriginalQuery {
		t.Errorf("fallback must pass query through: refined=%q original=%q", res.RefinedQuery, res.OriginalQuery)
	}
	if res.Confidence > 0.3 {
		t.Errorf("fallback confidence = %v, want <= 0.3", res.Confidence)
	}
	if res.Metadata["failure"] != "backend_error" {
		t.Errorf("failure metadata = %q, want backend_error", res.Metadata["failure"])
	}
}

func TestRefine_TimeoutFallsBack(t *testing.T) {
	eng := &mockEngine{
		chatFn: func(ctx context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	r := New(eng, "fast-model", 20*time.Millisecond)
	res := r.Refine(context.Background(), "some query")

	if res.Status != agent.StatusFallback {
		t.Errorf("Status = %q, want fallback", res.Status)
	}
	if res.Metadata["failure"] != "backend_timeout" {
		t.Errorf("failure metadata = %q, want backend_timeout", res.Metadata["failure"])
	}
	if res.RefinedQuery != "some query" {
		t.Errorf("RefinedQuery = %q, want original", res.RefinedQuery)
	}
}

func TestRefine_MalformedJSONFallsBack(t *testing.T) {
	eng := &mockEngine{
		chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
			return "I think the query should be...", nil
		},
	}

	r := New(eng, "fast-model", time.Second)
	res := r.Refine(context.Background(), "some query")

	if res.Status != agent.StatusFallback {
		t.Errorf("Status = %q, want fallback", res.Status)
	}
	if res.Metadata["failure"] != "malformed_response" {
		t.Errorf("failure metadata = %q, want malformed_response", res.Metadata["failure"])
	}
}

func TestRefine_EmptyQueryFallsBack(t *testing.T) {
	r := New(&mockEngine{
		chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
			t.Error("backend should not be called for an empty query")
			return "", nil
		},
	}, "fast-model", time.Second)

	res := r.Refine(context.Background(), "   ")
	if res.Status != agent.StatusFallback {
		t.Errorf("Status = %q, want fallback", res.Status)
	}
}

func TestRender_SerializesAllFields(t *testing.T) {
	res := Result{
		Result: agent.Result{AgentName: agent.Refiner, Status: agent.StatusRefined, Confidence: 0.9},
		RefinedQuery:        "precise query",
		OriginalQuery:       "vague query",
		Changes:             []string{"added explicit subject scope"},
		AmbiguitiesResolved: []string{"scoped to last decade"},
	}
	out := res.Render()
	for _, want := range []string{"precise query", "added explicit subject scope", "scoped to last decade"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q", want)
		}
	}
	// No raw struct formatting may leak into the artifact.
	if strings.Contains(out, "{") || strings.Contains(out, "0x") {
		t.Errorf("rendered output contains unserialized value: %q", out)
	}
}
