// Package api exposes the pipeline and corpus over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chronicle/internal/corpus"
	"github.com/kalambet/chronicle/internal/note"
	"github.com/kalambet/chronicle/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner abstracts pipeline execution for the API layer.
type Runner interface {
	Run(ctx context.Context, rawQuery, source string) (pipeline.RunResult, error)
}

// NoteStore is the read side of the corpus the API serves.
type NoteStore interface {
	Get(id string) (corpus.Record, error)
	GetRendered(id string) (string, error)
	List(limit int) ([]corpus.Record, error)
	Count() (int, error)
}

// Seeder adds external material to the corpus.
type Seeder interface {
	Seed(title, text, source string) (note.Note, error)
}

type AppDeps struct {
	Runner   Runner
	Store    NoteStore
	Searcher corpus.Searcher
	Seeder   Seeder
	Token    string
}

// NewAppHandler builds the HTTP API. An empty token leaves the API open.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/analyze", handleAnalyze(deps))
		r.Get("/notes", handleListNotes(deps))
		r.Get("/notes/{uuid}", handleGetNote(deps))
		r.Get("/notes/{uuid}/raw", handleGetNoteRaw(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/corpus/seed", handleSeed(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type AnalyzeRequest struct {
	Query  string `json:"query"`
	Source string `json:"source"`
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		res, err := deps.Runner.Run(r.Context(), req.Query, req.Source)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "pipeline failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.List(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list notes: %v", err)
			return
		}
		if records == nil {
			records = []corpus.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleGetNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uuid")

		rec, err := deps.Store.Get(id)
		if errors.Is(err, corpus.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "note not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get note: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleGetNoteRaw(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "uuid")

		rendered, err := deps.Store.GetRendered(id)
		if errors.Is(err, corpus.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "note not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get note: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(rendered))
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)

		candidates, err := deps.Searcher.Search(r.Context(), query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}
		if candidates == nil {
			candidates = []corpus.Candidate{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(candidates)
	}
}

type SeedRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

func handleSeed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SeedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		n, err := deps.Seeder.Seed(req.Title, req.Content, req.Source)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to seed corpus: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"uuid":     n.UUID,
			"filename": n.Filename,
			"status":   "queued",
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
