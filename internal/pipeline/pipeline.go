// Package pipeline orchestrates a full analysis run: refinement, then critique
// and history lookup, then synthesis, then artifact persistence. The state
// machine is linear and forward-only; stages degrade internally but never send
// the run backwards or into a cycle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/critic"
	"github.com/kalambet/chronicle/internal/historian"
	"github.com/kalambet/chronicle/internal/note"
	"github.com/kalambet/chronicle/internal/refiner"
	"github.com/kalambet/chronicle/internal/synthesis"
)

// State is a pipeline phase. Transitions only move to the next state in
// declared order; there is no path backwards.
type State string

const (
	StatePending       State = "PENDING"
	StateRefining      State = "REFINING"
	StateCritiquing    State = "CRITIQUING"
	StateHistoryLookup State = "HISTORY_LOOKUP"
	StateSynthesizing  State = "SYNTHESIZING"
	StateComplete      State = "COMPLETE"
)

var stateOrder = []State{
	StatePending,
	StateRefining,
	StateCritiquing,
	StateHistoryLookup,
	StateSynthesizing,
	StateComplete,
}

// Transition records one state change with its timestamp.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Refining rewrites the raw query.
type Refining interface {
	Refine(ctx context.Context, query string) refiner.Result
}

// Critiquing reviews the refined query.
type Critiquing interface {
	Review(ctx context.Context, refinedQuery string, refinerMeta map[string]string) critic.Result
}

// HistoryLookup retrieves historical context for the refined query.
type HistoryLookup interface {
	Lookup(ctx context.Context, refinedQuery string) historian.Result
}

// Synthesizing integrates the stage outputs.
type Synthesizing interface {
	Synthesize(ctx context.Context, in synthesis.Input) synthesis.Result
}

// Persister stores the finished artifact. *corpus.Store satisfies it.
type Persister interface {
	Put(n note.Note) error
}

// RunResult is the outcome of one completed pipeline run.
type RunResult struct {
	Note        note.Note        `json:"note"`
	Refiner     refiner.Result   `json:"refiner"`
	Critic      critic.Result    `json:"critic"`
	Historian   historian.Result `json:"historian"`
	Synthesis   synthesis.Result `json:"synthesis"`
	Transitions []Transition     `json:"transitions"`
	TotalTimeMs int64            `json:"total_time_ms"`
}

// Orchestrator drives the state machine across the four agents.
type Orchestrator struct {
	refiner     Refining
	critic      Critiquing
	historian   HistoryLookup
	synthesizer Synthesizing
	store       Persister
	domain      string
	now         func() time.Time
	newID       func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDomain sets the artifact domain written into frontmatter.
func WithDomain(domain string) Option {
	return func(o *Orchestrator) { o.domain = domain }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDSource overrides UUID generation, for tests.
func WithIDSource(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New creates an Orchestrator over the four stages and the artifact store.
func New(r Refining, c Critiquing, h HistoryLookup, s Synthesizing, store Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		refiner:     r,
		critic:      c,
		historian:   h,
		synthesizer: s,
		store:       store,
		domain:      "analysis",
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run tracks state for one pipeline execution.
type run struct {
	id          string
	state       State
	transitions []Transition
	now         func() time.Time
}

// advance moves to the next declared state. Any other target is a programming
// error and panics during development rather than corrupting a run record.
func (r *run) advance(to State) {
	for i, s := range stateOrder[:len(stateOrder)-1] {
		if s == r.state {
			if stateOrder[i+1] != to {
				panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.state, to))
			}
			r.transitions = append(r.transitions, Transition{From: r.state, To: to, At: r.now()})
			r.state = to
			return
		}
	}
	panic(fmt.Sprintf("pipeline: transition out of terminal state %s", r.state))
}

// Run executes the full pipeline for one raw query and persists the artifact.
// source tags the origin of the request ("cli", "api"); empty defaults to
// "chronicle". Stage degradation is absorbed by the stages themselves; Run
// fails on a stage contract violation, a persistence error, or cancellation
// between stages. A cancelled run never persists a note.
func (o *Orchestrator) Run(ctx context.Context, rawQuery, source string) (RunResult, error) {
	start := o.now()
	r := &run{id: o.newID(), state: StatePending, now: o.now}
	log := slog.With("run_id", r.id)
	log.Info("pipeline run started", "query_words", note.CountWords(rawQuery))

	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("run cancelled in state %s: %w", r.state, err)
	}
	r.advance(StateRefining)
	stageStart := o.now()
	refined := o.refiner.Refine(ctx, rawQuery)
	if err := refined.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("refiner contract violation: %w", err)
	}
	log.Info("stage complete", "stage", StateRefining, "status", refined.Status,
		"confidence", refined.Confidence, "elapsed", o.now().Sub(stageStart))

	// Critic and historian both depend only on the refined query, so they run
	// concurrently. The recorded states stay linear: critique is accounted
	// first, then the lookup.
	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("run cancelled in state %s: %w", r.state, err)
	}
	r.advance(StateCritiquing)
	var (
		critRes critic.Result
		histRes historian.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		critRes = o.critic.Review(gctx, refined.RefinedQuery, refined.Metadata)
		return nil
	})
	g.Go(func() error {
		histRes = o.historian.Lookup(gctx, refined.RefinedQuery)
		return nil
	})
	// Stage funcs are total; the group exists for the shared context and join.
	_ = g.Wait()

	if err := critRes.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("critic contract violation: %w", err)
	}
	log.Info("stage complete", "stage", StateCritiquing, "status", critRes.Status,
		"confidence", critRes.Confidence)

	r.advance(StateHistoryLookup)
	if err := histRes.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("historian contract violation: %w", err)
	}
	log.Info("stage complete", "stage", StateHistoryLookup, "status", histRes.Status,
		"sources_searched", histRes.SourcesSearched, "relevant", histRes.RelevantSourcesFound)

	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("run cancelled in state %s: %w", r.state, err)
	}
	r.advance(StateSynthesizing)
	stageStart = o.now()
	synRes := o.synthesizer.Synthesize(ctx, synthesis.Input{
		Refiner:   refined,
		Critic:    &critRes,
		Historian: &histRes,
	})
	if err := synRes.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("synthesis contract violation: %w", err)
	}
	log.Info("stage complete", "stage", StateSynthesizing, "status", synRes.Status,
		"confidence", synRes.Confidence, "elapsed", o.now().Sub(stageStart))

	// A cancelled run must not leave a degraded artifact in the corpus.
	if err := ctx.Err(); err != nil {
		return RunResult{}, fmt.Errorf("run cancelled in state %s: %w", r.state, err)
	}
	n := o.assembleNote(r.id, rawQuery, source, refined, critRes, histRes, synRes)
	if err := o.store.Put(n); err != nil {
		return RunResult{}, fmt.Errorf("persisting note %s: %w", n.UUID, err)
	}

	r.advance(StateComplete)
	total := o.now().Sub(start)
	log.Info("pipeline run complete", "filename", n.Filename, "status", synRes.Status,
		"elapsed", total)

	return RunResult{
		Note:        n,
		Refiner:     refined,
		Critic:      critRes,
		Historian:   histRes,
		Synthesis:   synRes,
		Transitions: r.transitions,
		TotalTimeMs: total.Milliseconds(),
	}, nil
}

// assembleNote builds the artifact: frontmatter from the stage results, body
// sections in execution order.
func (o *Orchestrator) assembleNote(id, rawQuery, source string, refined refiner.Result, critRes critic.Result, histRes historian.Result, synRes synthesis.Result) note.Note {
	sections := []note.Section{
		{Agent: string(agent.Refiner), Text: refined.Render()},
		{Agent: string(agent.Critic), Text: critRes.Render()},
		{Agent: string(agent.Historian), Text: histRes.Render()},
		{Agent: string(agent.Synthesis), Text: synRes.Render()},
	}

	if source == "" {
		source = "chronicle"
	}

	n := note.New(id, o.now(), refined.RefinedQuery, rawQuery, sections)
	n.Domain = o.domain
	n.Source = source
	n.Summary = summarize(synRes.FinalSynthesis)
	n.Topics = synRes.TopicsExtracted

	n.Agents[string(agent.Refiner)] = agentMeta(refined.Result)
	n.Agents[string(agent.Critic)] = agentMeta(critRes.Result)
	n.Agents[string(agent.Historian)] = agentMeta(histRes.Result)
	n.Agents[string(agent.Synthesis)] = agentMeta(synRes.Result)
	return n
}

func agentMeta(r agent.Result) note.AgentMeta {
	return note.AgentMeta{
		Status:           string(r.Status),
		Confidence:       r.Confidence,
		ConfidenceLevel:  string(r.ConfidenceLevel()),
		ProcessingTimeMs: r.ProcessingTimeMs,
		ChangesMade:      r.ChangesMade,
		Metadata:         r.Metadata,
	}
}

const maxSummaryLen = 280

// summarize takes the first sentence of the synthesis, truncated on a word
// boundary.
func summarize(text string) string {
	text = strings.TrimSpace(firstSentence(text))
	if len(text) <= maxSummaryLen {
		return text
	}
	// Back the cut point up to a rune boundary so a multi-byte rune is never
	// split.
	end := maxSummaryLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndexByte(cut, ' '); i > maxSummaryLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return text[:i+1]
		}
	}
	return text
}
