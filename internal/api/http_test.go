package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/corpus"
	"github.com/kalambet/chronicle/internal/note"
	"github.com/kalambet/chronicle/internal/pipeline"
	"github.com/kalambet/chronicle/internal/synthesis"
)

type stubRunner struct {
	runFn func(ctx context.Context, query, source string) (pipeline.RunResult, error)
}

func (s *stubRunner) Run(ctx context.Context, query, source string) (pipeline.RunResult, error) {
	return s.runFn(ctx, query, source)
}

type stubStore struct {
	records  map[string]corpus.Record
	rendered map[string]string
}

func (s *stubStore) Get(id string) (corpus.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return corpus.Record{}, corpus.ErrNotFound
	}
	return rec, nil
}

func (s *stubStore) GetRendered(id string) (string, error) {
	r, ok := s.rendered[id]
	if !ok {
		return "", corpus.ErrNotFound
	}
	return r, nil
}

func (s *stubStore) List(limit int) ([]corpus.Record, error) {
	var out []corpus.Record
	for _, rec := range s.records {
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) Count() (int, error) { return len(s.records), nil }

type stubSearcher struct {
	searchFn func(ctx context.Context, query string, topK int) ([]corpus.Candidate, error)
}

func (s *stubSearcher) Search(ctx context.Context, query string, topK int) ([]corpus.Candidate, error) {
	return s.searchFn(ctx, query, topK)
}

type stubSeeder struct {
	seedFn func(title, text, source string) (note.Note, error)
}

func (s *stubSeeder) Seed(title, text, source string) (note.Note, error) {
	return s.seedFn(title, text, source)
}

func testDeps() AppDeps {
	return AppDeps{
		Runner: &stubRunner{runFn: func(_ context.Context, query, source string) (pipeline.RunResult, error) {
			n := note.New("uuid-1", time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), "Refined "+query, query, []note.Section{
				{Agent: "synthesis", Text: "Integrated view."},
			})
			n.Source = source
			return pipeline.RunResult{
				Note: n,
				Synthesis: synthesis.Result{Result: agent.Result{
					AgentName:  agent.Synthesis,
					Status:     agent.StatusIntegrated,
					Confidence: 0.8,
				}},
			}, nil
		}},
		Store: &stubStore{
			records: map[string]corpus.Record{
				"uuid-1": {UUID: "uuid-1", Title: "Stored note"},
			},
			rendered: map[string]string{
				"uuid-1": "---\ntitle: Stored note\n---\n\n# Question\n",
			},
		},
		Searcher: &stubSearcher{searchFn: func(_ context.Context, _ string, _ int) ([]corpus.Candidate, error) {
			return []corpus.Candidate{{SourceID: "uuid-1", RelevanceScore: 0.9}}, nil
		}},
		Seeder: &stubSeeder{seedFn: func(title, text, source string) (note.Note, error) {
			return note.New("seed-1", time.Now(), title, "", []note.Section{{Agent: "content", Text: text}}), nil
		}},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAnalyze(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodPost, "/analyze", `{"query": "what about trade?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var res pipeline.RunResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Note.UUID != "uuid-1" {
		t.Errorf("Note.UUID = %q", res.Note.UUID)
	}
	if res.Note.Title != "Refined what about trade?" {
		t.Errorf("Note.Title = %q", res.Note.Title)
	}
}

func TestAnalyzeSourceTag(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodPost, "/analyze", `{"query": "q", "source": "cli"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var res pipeline.RunResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Note.Source != "cli" {
		t.Errorf("Note.Source = %q, want cli", res.Note.Source)
	}

	// Omitted tag defaults to the transport.
	rr = doJSON(t, h, http.MethodPost, "/analyze", `{"query": "q"}`)
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.Note.Source != "api" {
		t.Errorf("Note.Source = %q, want api", res.Note.Source)
	}
}

func TestAnalyzeRequiresQuery(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodPost, "/analyze", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAnalyzePipelineError(t *testing.T) {
	deps := testDeps()
	deps.Runner = &stubRunner{runFn: func(_ context.Context, _, _ string) (pipeline.RunResult, error) {
		return pipeline.RunResult{}, errors.New("contract violation")
	}}
	h := NewAppHandler(deps)

	rr := doJSON(t, h, http.MethodPost, "/analyze", `{"query": "q"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestGetNote(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodGet, "/notes/uuid-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/notes/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestGetNoteRaw(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodGet, "/notes/uuid-1/raw", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "---\n") {
		t.Errorf("raw body does not start with frontmatter:\n%s", rr.Body.String())
	}
}

func TestSearch(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodGet, "/search?q=trade", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var candidates []corpus.Candidate
	if err := json.Unmarshal(rr.Body.Bytes(), &candidates); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(candidates) != 1 || candidates[0].SourceID != "uuid-1" {
		t.Errorf("candidates = %+v", candidates)
	}

	rr = doJSON(t, h, http.MethodGet, "/search", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing q: status = %d, want 400", rr.Code)
	}
}

func TestSeed(t *testing.T) {
	h := NewAppHandler(testDeps())

	rr := doJSON(t, h, http.MethodPost, "/corpus/seed", `{"title": "Doc", "content": "Some text."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["uuid"] != "seed-1" || resp["status"] != "queued" {
		t.Errorf("response = %v", resp)
	}

	rr = doJSON(t, h, http.MethodPost, "/corpus/seed", `{"title": "Doc"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing content: status = %d, want 400", rr.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	deps := testDeps()
	deps.Token = "sekrit"
	h := NewAppHandler(deps)

	rr := doJSON(t, h, http.MethodGet, "/notes", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", rr.Code)
	}

	// Health stays open regardless of token.
	rr = doJSON(t, h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d, want 200", rr.Code)
	}
}
