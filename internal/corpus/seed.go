package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/chronicle/internal/note"
)

// Seed appends an external document to the corpus so a fresh install has
// retrievable history before any pipeline run has completed. A seed is
// stored as a note with a single "content" section and no agent results.
func (s *Store) Seed(title, text, source string) (note.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return note.Note{}, fmt.Errorf("seed content is empty")
	}
	if title == "" {
		title = firstLine(text)
	}
	if source == "" {
		source = "seed"
	}

	n := note.New(uuid.New().String(), time.Now().UTC(), title, "", []note.Section{
		{Agent: "content", Text: text},
	})
	n.Domain = "seed"
	n.Source = source
	n.Summary = snippet(text)

	if err := s.Put(n); err != nil {
		return note.Note{}, err
	}
	return n, nil
}

// SeedFile reads a document from disk and seeds it into the corpus.
func (s *Store) SeedFile(path, source string) (note.Note, error) {
	title, text, err := ExtractFile(path)
	if err != nil {
		return note.Note{}, err
	}
	return s.Seed(title, text, source)
}

// ExtractFile reads a document from disk — pdf, markdown, or plain text by
// extension — and returns its title and text content.
func ExtractFile(path string) (title, text string, err error) {
	title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
		if err != nil {
			return "", "", fmt.Errorf("extracting pdf %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("reading %s: %w", path, err)
		}
		text = string(data)
	}
	return title, text, nil
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading extracted text: %w", err)
	}
	return buf.String(), nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80]
	}
	if line == "" {
		return "untitled seed"
	}
	return line
}
