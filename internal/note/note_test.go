package note

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func sampleNote() Note {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	n := New("0b51482c-7c11-4f7d-9a17-1f2b3c4d5e6f", ts,
		"Climate Change Impact on Agriculture",
		"Analyze the impact of climate change on agriculture",
		[]Section{
			{Agent: "refiner", Text: "Refined the query to scope crop yield effects."},
			{Agent: "critic", Text: "The refined query is complete and unbiased."},
			{Agent: "historian", Text: "No prior analyses were found in the corpus."},
			{Agent: "synthesis", Text: "Climate change pressures agriculture through heat and water stress."},
		})
	n.Domain = "analysis"
	n.Source = "cli"
	n.Summary = "Climate change pressures agriculture."
	n.Topics = []string{"climate", "agriculture"}
	n.Agents["refiner"] = AgentMeta{Status: "refined", Confidence: 0.9, ConfidenceLevel: "very_high", ProcessingTimeMs: 120, ChangesMade: true}
	n.Agents["critic"] = AgentMeta{Status: "critiqued", Confidence: 0.8, ConfidenceLevel: "high", ProcessingTimeMs: 340}
	n.Agents["historian"] = AgentMeta{Status: "no_matches", Confidence: 0.4, ConfidenceLevel: "low", ProcessingTimeMs: 90}
	n.Agents["synthesis"] = AgentMeta{Status: "integrated", Confidence: 0.75, ConfidenceLevel: "high", ProcessingTimeMs: 2100}
	return n
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Climate Change Impact", "climate-change-impact"},
		{"  What's up?! ", "what-s-up"},
		{"", "untitled"},
		{"---", "untitled"},
		{"UPPER lower 123", "upper-lower-123"},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFilename_UniquePerUUID(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	a := Filename("same title", ts, "uuid-a")
	b := Filename("same title", ts, "uuid-b")
	if a == b {
		t.Errorf("identical title+timestamp produced colliding filenames: %q", a)
	}
	if !strings.HasSuffix(a, ".md") {
		t.Errorf("filename %q missing .md extension", a)
	}
}

func TestWordCountMatchesBody(t *testing.T) {
	n := sampleNote()
	want := 0
	for _, s := range n.Sections {
		want += len(strings.Fields(s.Text))
	}
	if n.WordCount != want {
		t.Errorf("WordCount = %d, want %d", n.WordCount, want)
	}
}

func TestReadingTime(t *testing.T) {
	cases := []struct{ words, want int }{
		{0, 0}, {1, 1}, {199, 1}, {200, 1}, {201, 2}, {1000, 5},
	}
	for _, c := range cases {
		if got := ReadingTime(c.words); got != c.want {
			t.Errorf("ReadingTime(%d) = %d, want %d", c.words, got, c.want)
		}
	}
}

func TestRender_FrontmatterKeySet(t *testing.T) {
	n := sampleNote()
	rendered, err := n.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	fm, err := ParseFrontmatter(rendered)
	if err != nil {
		t.Fatalf("ParseFrontmatter: %v", err)
	}

	want := []string{
		"agents", "date", "domain", "filename", "language",
		"reading_time_minutes", "source", "summary", "title",
		"topics", "uuid", "version", "word_count",
	}
	var got []string
	for k := range fm {
		got = append(got, k)
	}
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("frontmatter keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frontmatter key[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRender_AgentsEntryPerExecutedAgent(t *testing.T) {
	n := sampleNote()
	rendered, err := n.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	fm, err := ParseFrontmatter(rendered)
	if err != nil {
		t.Fatalf("ParseFrontmatter: %v", err)
	}
	agents, ok := fm["agents"].(map[string]any)
	if !ok {
		t.Fatalf("agents frontmatter is %T, want map", fm["agents"])
	}
	for _, name := range []string{"refiner", "critic", "historian", "synthesis"} {
		if _, ok := agents[name]; !ok {
			t.Errorf("frontmatter missing agents entry for %q", name)
		}
	}
}

func TestRender_BodyStructureAndOrder(t *testing.T) {
	n := sampleNote()
	rendered, err := n.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(rendered, "# Question\n\nAnalyze the impact of climate change on agriculture") {
		t.Error("rendered artifact missing question heading with raw query")
	}
	if !strings.Contains(rendered, "## Agent Responses") {
		t.Error("rendered artifact missing agent responses section")
	}

	// Subsections appear in execution order.
	idx := func(s string) int { return strings.Index(rendered, "### "+s) }
	order := []int{idx("refiner"), idx("critic"), idx("historian"), idx("synthesis")}
	for i, pos := range order {
		if pos < 0 {
			t.Fatalf("missing section %d in rendered output", i)
		}
		if i > 0 && pos < order[i-1] {
			t.Errorf("section %d appears before section %d", i, i-1)
		}
	}
}

func TestRender_WordCountFieldMatchesComputed(t *testing.T) {
	n := sampleNote()
	rendered, err := n.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	fm, err := ParseFrontmatter(rendered)
	if err != nil {
		t.Fatalf("ParseFrontmatter: %v", err)
	}

	wc, ok := fm["word_count"].(int)
	if !ok {
		t.Fatalf("word_count is %T, want int", fm["word_count"])
	}
	if wc != n.WordCount {
		t.Errorf("frontmatter word_count = %d, computed = %d", wc, n.WordCount)
	}
}
