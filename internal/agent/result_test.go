package agent

import "testing"

func TestLevelFor_Boundaries(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Level
	}{
		{0.0, LevelLow},
		{0.49, LevelLow},
		{0.50, LevelModerate},
		{0.69, LevelModerate},
		{0.70, LevelHigh},
		{0.84, LevelHigh},
		{0.85, LevelVeryHigh},
		{1.0, LevelVeryHigh},
	}
	for _, c := range cases {
		if got := LevelFor(c.confidence); got != c.want {
			t.Errorf("LevelFor(%v) = %q, want %q", c.confidence, got, c.want)
		}
	}
}

func TestLevelFor_Monotonic(t *testing.T) {
	rank := map[Level]int{LevelLow: 0, LevelModerate: 1, LevelHigh: 2, LevelVeryHigh: 3}
	prev := LevelLow
	for i := 0; i <= 100; i++ {
		cur := LevelFor(float64(i) / 100)
		if rank[cur] < rank[prev] {
			t.Fatalf("level decreased from %q to %q at confidence %v", prev, cur, float64(i)/100)
		}
		prev = cur
	}
}

func TestValidStatus_ClosedSets(t *testing.T) {
	cases := []struct {
		name   Name
		status Status
		want   bool
	}{
		{Refiner, StatusRefined, true},
		{Refiner, StatusFallback, true},
		{Refiner, StatusFoundMatches, false},
		{Critic, StatusNoCritique, true},
		{Critic, StatusEmergency, false},
		{Historian, StatusFoundMatches, true},
		{Historian, StatusNoMatches, true},
		{Historian, StatusRetrievalUnavailable, true},
		{Historian, StatusRefined, false},
		{Synthesis, StatusIntegrated, true},
		{Synthesis, StatusEmergency, true},
		{Synthesis, Status("completed"), false},
	}
	for _, c := range cases {
		if got := ValidStatus(c.name, c.status); got != c.want {
			t.Errorf("ValidStatus(%q, %q) = %v, want %v", c.name, c.status, got, c.want)
		}
	}
}

func TestResultValidate(t *testing.T) {
	r := Result{AgentName: Historian, Status: StatusFoundMatches, Confidence: 0.8}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Status = "sort_of_found_some"
	if err := r.Validate(); err == nil {
		t.Error("expected error for free-form status, got nil")
	}

	r.Status = StatusFoundMatches
	r.Confidence = 1.2
	if err := r.Validate(); err == nil {
		t.Error("expected error for out-of-range confidence, got nil")
	}

	r = Result{AgentName: "librarian", Status: StatusFoundMatches, Confidence: 0.5}
	if err := r.Validate(); err == nil {
		t.Error("expected error for unknown agent name, got nil")
	}
}

func TestClampConfidence(t *testing.T) {
	if got := ClampConfidence(-0.5); got != 0 {
		t.Errorf("ClampConfidence(-0.5) = %v, want 0", got)
	}
	if got := ClampConfidence(1.5); got != 1 {
		t.Errorf("ClampConfidence(1.5) = %v, want 1", got)
	}
	if got := ClampConfidence(0.42); got != 0.42 {
		t.Errorf("ClampConfidence(0.42) = %v, want 0.42", got)
	}
}
