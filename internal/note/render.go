package note

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter mirrors the exact key set of the artifact format. Field order
// matches the serialized key order (alphabetical), which yaml.v3 preserves
// for structs.
type frontmatter struct {
	Agents             map[string]AgentMeta `yaml:"agents"`
	Date               string               `yaml:"date"`
	Domain             string               `yaml:"domain"`
	Filename           string               `yaml:"filename"`
	Language           string               `yaml:"language"`
	ReadingTimeMinutes int                  `yaml:"reading_time_minutes"`
	Source             string               `yaml:"source"`
	Summary            string               `yaml:"summary"`
	Title              string               `yaml:"title"`
	Topics             []string             `yaml:"topics"`
	UUID               string               `yaml:"uuid"`
	Version            string               `yaml:"version"`
	WordCount          int                  `yaml:"word_count"`
}

// Render produces the full artifact text: frontmatter block, the echoed
// question, and one subsection per executed agent in execution order.
func (n Note) Render() (string, error) {
	fm := frontmatter{
		Agents:             n.Agents,
		Date:               n.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Domain:             n.Domain,
		Filename:           n.Filename,
		Language:           n.Language,
		ReadingTimeMinutes: n.ReadingTimeMinutes,
		Source:             n.Source,
		Summary:            n.Summary,
		Title:              n.Title,
		Topics:             n.Topics,
		UUID:               n.UUID,
		Version:            n.Version,
		WordCount:          n.WordCount,
	}
	if fm.Topics == nil {
		fm.Topics = []string{}
	}

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("marshalling frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")

	b.WriteString("# Question\n\n")
	b.WriteString(n.RawQuery)
	b.WriteString("\n\n## Agent Responses\n")

	for _, s := range n.Sections {
		fmt.Fprintf(&b, "\n### %s\n\n%s\n", s.Agent, strings.TrimRight(s.Text, "\n"))
	}

	return b.String(), nil
}

// ParseFrontmatter extracts and decodes the frontmatter block from a rendered
// artifact. Used by tests and by tooling that inspects persisted notes.
func ParseFrontmatter(rendered string) (map[string]any, error) {
	rest, ok := strings.CutPrefix(rendered, "---\n")
	if !ok {
		return nil, fmt.Errorf("missing frontmatter opening delimiter")
	}
	block, _, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return nil, fmt.Errorf("missing frontmatter closing delimiter")
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, fmt.Errorf("decoding frontmatter: %w", err)
	}
	return fm, nil
}
