// Package agent defines the result contract shared by all pipeline stages:
// agent names, closed per-agent status sets, the confidence model, and the
// base result every stage returns. Stage implementations live in their own
// packages (refiner, critic, historian, synthesis); this package only holds
// the types that cross stage boundaries.
package agent

import "fmt"

// Name identifies a pipeline stage.
type Name string

const (
	Refiner   Name = "refiner"
	Critic    Name = "critic"
	Historian Name = "historian"
	Synthesis Name = "synthesis"
)

// Status is a stage outcome. Each agent has its own closed set of valid
// statuses; anything else is rejected at the orchestrator boundary.
type Status string

const (
	// Refiner outcomes.
	StatusRefined  Status = "refined"
	StatusFallback Status = "fallback"

	// Critic outcomes.
	StatusCritiqued  Status = "critiqued"
	StatusNoCritique Status = "no_critique"

	// Historian outcomes. found_matches and no_matches describe a completed
	// search; retrieval_unavailable means the corpus could not be reached at
	// all and is deliberately distinct from no_matches.
	StatusFoundMatches         Status = "found_matches"
	StatusNoMatches            Status = "no_matches"
	StatusRetrievalUnavailable Status = "retrieval_unavailable"

	// Synthesis outcomes.
	StatusIntegrated Status = "integrated"
	StatusEmergency  Status = "emergency"
)

var validStatuses = map[Name][]Status{
	Refiner:   {StatusRefined, StatusFallback},
	Critic:    {StatusCritiqued, StatusNoCritique},
	Historian: {StatusFoundMatches, StatusNoMatches, StatusRetrievalUnavailable},
	Synthesis: {StatusIntegrated, StatusEmergency},
}

// ValidStatus reports whether s is a member of the closed status set for the
// named agent.
func ValidStatus(name Name, s Status) bool {
	for _, v := range validStatuses[name] {
		if v == s {
			return true
		}
	}
	return false
}

// Result is the base record every stage produces, exactly once per run.
// The confidence level is never stored; it is derived from Confidence via
// ConfidenceLevel so the two can never disagree.
type Result struct {
	AgentName        Name              `json:"agent_name"`
	Status           Status            `json:"status"`
	Confidence       float64           `json:"confidence"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	ChangesMade      bool              `json:"changes_made"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ConfidenceLevel returns the categorical bucket for the numeric confidence.
func (r Result) ConfidenceLevel() Level {
	return LevelFor(r.Confidence)
}

// Validate checks the closed-enum and range invariants. The orchestrator
// calls this on every stage exit; a failure here is a programming error in
// the stage, not a degraded-mode condition.
func (r Result) Validate() error {
	if _, ok := validStatuses[r.AgentName]; !ok {
		return fmt.Errorf("unknown agent name %q", r.AgentName)
	}
	if !ValidStatus(r.AgentName, r.Status) {
		return fmt.Errorf("status %q is not valid for agent %q", r.Status, r.AgentName)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range [0,1] for agent %q", r.Confidence, r.AgentName)
	}
	return nil
}

// SetMeta records a metadata note, allocating the map on first use.
func (r *Result) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}
