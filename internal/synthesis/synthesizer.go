// Package synthesis integrates the upstream stage outputs into one final
// analysis. Upstream degradation (refiner fallback, no critique, no matches)
// is material to integrate, never a reason to go to emergency mode; the
// emergency path exists solely for the synthesizer's own failure, and it
// preserves the upstream texts verbatim so no work is lost.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/chronicle/internal/agent"
	"github.com/kalambet/chronicle/internal/critic"
	"github.com/kalambet/chronicle/internal/engine"
	"github.com/kalambet/chronicle/internal/historian"
	"github.com/kalambet/chronicle/internal/note"
	"github.com/kalambet/chronicle/internal/refiner"
)

const defaultTimeout = 60 * time.Second

// KeyTheme is one integrated theme with the agents whose output supports it.
type KeyTheme struct {
	Theme            string   `json:"theme"`
	SupportingAgents []string `json:"supporting_agents,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// Input carries the upstream stage results. Critic and Historian are optional
// so the synthesizer degrades gracefully when a stage was skipped.
type Input struct {
	Refiner   refiner.Result
	Critic    *critic.Result
	Historian *historian.Result
}

// Result is the synthesizer's stage output.
type Result struct {
	agent.Result
	FinalSynthesis        string     `json:"final_synthesis"`
	KeyThemes             []KeyTheme `json:"key_themes,omitempty"`
	ConflictsResolved     []string   `json:"conflicts_resolved,omitempty"`
	ComplementaryInsights []string   `json:"complementary_insights,omitempty"`
	KnowledgeGaps         []string   `json:"knowledge_gaps,omitempty"`
	MetaInsights          []string   `json:"meta_insights,omitempty"`
	ContributingAgents    []string   `json:"contributing_agents"`
	TopicsExtracted       []string   `json:"topics_extracted,omitempty"`
	WordCount             int        `json:"word_count"`
	Degraded              bool       `json:"degraded"`
	FailureReason         string     `json:"failure_reason,omitempty"`
}

// Synthesizer produces the final integrated analysis with a deep model.
type Synthesizer struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// New creates a Synthesizer. If timeout <= 0 the default is used.
func New(eng engine.Engine, model string, timeout time.Duration) *Synthesizer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Synthesizer{engine: eng, model: model, timeout: timeout}
}

type synthesisResponse struct {
	Synthesis string `json:"synthesis"`
	KeyThemes []struct {
		Theme            string   `json:"theme"`
		SupportingAgents []string `json:"supporting_agents"`
		Confidence       float64  `json:"confidence"`
	} `json:"key_themes"`
	ConflictsResolved     []string `json:"conflicts_resolved"`
	ComplementaryInsights []string `json:"complementary_insights"`
	KnowledgeGaps         []string `json:"knowledge_gaps"`
	MetaInsights          []string `json:"meta_insights"`
	Confidence            float64  `json:"confidence"`
}

// Synthesize is total: the only path to emergency mode is the deep model
// failing or emitting unparseable output.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.engine.Chat(ctx, s.model, buildPrompt(in), synthesisSchema())
	if err != nil {
		slog.Error("synthesis: chat failed, entering emergency mode", "error", err)
		res := s.emergency(in, fmt.Sprintf("backend failure: %v", err))
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	var resp synthesisResponse
	if uerr := json.Unmarshal([]byte(raw), &resp); uerr != nil || strings.TrimSpace(resp.Synthesis) == "" {
		slog.Error("synthesis: unparseable completion, entering emergency mode", "error", uerr)
		res := s.emergency(in, "malformed synthesis response")
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	res := Result{
		Result: agent.Result{
			AgentName:   agent.Synthesis,
			Status:      agent.StatusIntegrated,
			Confidence:  agent.ClampConfidence(resp.Confidence),
			ChangesMade: true,
		},
		FinalSynthesis:        strings.TrimSpace(resp.Synthesis),
		ConflictsResolved:     resp.ConflictsResolved,
		ComplementaryInsights: resp.ComplementaryInsights,
		KnowledgeGaps:         resp.KnowledgeGaps,
		MetaInsights:          resp.MetaInsights,
		ContributingAgents:    contributingAgents(in),
	}
	for _, kt := range resp.KeyThemes {
		res.KeyThemes = append(res.KeyThemes, KeyTheme{
			Theme:            kt.Theme,
			SupportingAgents: kt.SupportingAgents,
			Confidence:       agent.ClampConfidence(kt.Confidence),
		})
	}
	res.TopicsExtracted = extractTopics(res.KeyThemes)
	res.WordCount = note.CountWords(res.FinalSynthesis)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res
}

// emergency concatenates the upstream rendered texts verbatim: the run still
// produces an artifact, clearly labeled, with nothing silently dropped.
func (s *Synthesizer) emergency(in Input, reason string) Result {
	var b strings.Builder
	b.WriteString("Synthesis unavailable. The raw agent outputs are preserved below.\n")

	fmt.Fprintf(&b, "\n--- refiner (%s) ---\n%s", in.Refiner.Status, in.Refiner.Render())
	if in.Critic != nil {
		fmt.Fprintf(&b, "\n--- critic (%s) ---\n%s", in.Critic.Status, in.Critic.Render())
	}
	if in.Historian != nil {
		fmt.Fprintf(&b, "\n--- historian (%s) ---\n%s", in.Historian.Status, in.Historian.Render())
	}

	text := b.String()
	return Result{
		Result: agent.Result{
			AgentName:  agent.Synthesis,
			Status:     agent.StatusEmergency,
			Confidence: 0.1,
		},
		FinalSynthesis:     text,
		ContributingAgents: contributingAgents(in),
		WordCount:          note.CountWords(text),
		Degraded:           true,
		FailureReason:      reason,
	}
}

func contributingAgents(in Input) []string {
	agents := []string{string(agent.Refiner)}
	if in.Critic != nil {
		agents = append(agents, string(agent.Critic))
	}
	if in.Historian != nil {
		agents = append(agents, string(agent.Historian))
	}
	agents = append(agents, string(agent.Synthesis))
	return agents
}

// extractTopics derives artifact topics from the integrated themes,
// normalized to lowercase.
func extractTopics(themes []KeyTheme) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, kt := range themes {
		t := strings.ToLower(strings.TrimSpace(kt.Theme))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	return topics
}

// Render serializes the synthesis into its artifact section.
func (r Result) Render() string {
	var b strings.Builder
	if r.Status == agent.StatusEmergency {
		fmt.Fprintf(&b, "**Emergency synthesis** (%s)\n\n", r.FailureReason)
	}
	b.WriteString(r.FinalSynthesis)
	b.WriteString("\n")

	if len(r.KeyThemes) > 0 {
		b.WriteString("\n**Key themes:**\n")
		for _, kt := range r.KeyThemes {
			fmt.Fprintf(&b, "- %s (confidence %.2f", kt.Theme, kt.Confidence)
			if len(kt.SupportingAgents) > 0 {
				fmt.Fprintf(&b, "; supported by %s", strings.Join(kt.SupportingAgents, ", "))
			}
			b.WriteString(")\n")
		}
	}
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n**%s:**\n", title)
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
	}
	writeList("Conflicts resolved", r.ConflictsResolved)
	writeList("Complementary insights", r.ComplementaryInsights)
	writeList("Knowledge gaps", r.KnowledgeGaps)
	writeList("Meta insights", r.MetaInsights)
	return b.String()
}
