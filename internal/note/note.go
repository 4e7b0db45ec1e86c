// Package note defines the persisted analysis artifact: one Note per
// completed pipeline run, rendered as a markdown file with a YAML frontmatter
// block. Notes are immutable once created and form the corpus future
// historian lookups search against.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Version is the artifact format version written into frontmatter.
const Version = "1.0"

// Words-per-minute used to derive reading_time_minutes from word_count.
const readingWPM = 200

// Section is one rendered agent response, in execution order.
type Section struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

// AgentMeta is the per-agent frontmatter entry.
type AgentMeta struct {
	Status           string            `yaml:"status" json:"status"`
	Confidence       float64           `yaml:"confidence" json:"confidence"`
	ConfidenceLevel  string            `yaml:"confidence_level" json:"confidence_level"`
	ProcessingTimeMs int64             `yaml:"processing_time_ms" json:"processing_time_ms"`
	ChangesMade      bool              `yaml:"changes_made" json:"changes_made"`
	Metadata         map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Note is the unit the corpus stores and the historian retrieves.
// Identity is the UUID plus a slug+timestamp filename that stays unique even
// for identical timestamps (a short hash of the UUID is appended).
type Note struct {
	UUID               string               `json:"uuid"`
	CreatedAt          time.Time            `json:"created_at"`
	Domain             string               `json:"domain"`
	Title              string               `json:"title"`
	Summary            string               `json:"summary"`
	Topics             []string             `json:"topics"`
	WordCount          int                  `json:"word_count"`
	ReadingTimeMinutes int                  `json:"reading_time_minutes"`
	Source             string               `json:"source"`
	Language           string               `json:"language"`
	Version            string               `json:"version"`
	Filename           string               `json:"filename"`
	RawQuery           string               `json:"raw_query"`
	Agents             map[string]AgentMeta `json:"agents"`
	Sections           []Section            `json:"sections"`
}

// New assembles a Note, deriving filename, word count, and reading time from
// the provided parts. WordCount is always computed from the body sections so
// frontmatter can never disagree with the rendered text.
func New(id string, createdAt time.Time, title, rawQuery string, sections []Section) Note {
	n := Note{
		UUID:      id,
		CreatedAt: createdAt.UTC(),
		Title:     title,
		RawQuery:  rawQuery,
		Version:   Version,
		Language:  "en",
		Sections:  sections,
		Agents:    make(map[string]AgentMeta),
	}
	n.WordCount = bodyWordCount(sections)
	n.ReadingTimeMinutes = ReadingTime(n.WordCount)
	n.Filename = Filename(title, n.CreatedAt, id)
	return n
}

// Filename builds the unique artifact filename: slug, timestamp, and a short
// hash of the UUID so two runs with identical titles and timestamps still
// produce distinct names.
func Filename(title string, createdAt time.Time, id string) string {
	return fmt.Sprintf("%s-%s-%s.md", Slug(title), createdAt.UTC().Format("20060102T150405Z"), shortHash(id))
}

const maxSlugLen = 60

// Slug lowercases the title and replaces every non-alphanumeric run with a
// single hyphen, capped at maxSlugLen.
func Slug(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}

func shortHash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}

// CountWords counts whitespace-separated tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

func bodyWordCount(sections []Section) int {
	total := 0
	for _, s := range sections {
		total += CountWords(s.Text)
	}
	return total
}

// ReadingTime converts a word count to whole minutes, rounding up with a
// floor of one minute for any non-empty body.
func ReadingTime(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + readingWPM - 1) / readingWPM
}
