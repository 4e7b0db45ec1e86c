// Package corpus is the append-only store of analysis artifacts. Every
// completed pipeline run puts one note here; the historian searches here.
// Notes live twice: as rows in SQLite (for listing, search, and indexing)
// and as rendered markdown files on disk (the canonical artifact). Neither
// representation is ever updated after Put.
package corpus

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/chronicle/internal/note"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested note or job does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the corpus SQLite database plus the notes directory on disk.
type Store struct {
	db       *sql.DB
	notesDir string
}

// Open opens (or creates) the corpus in dataDir and runs pending migrations.
// Pass ":memory:" for an in-memory database without on-disk artifacts (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn, notesDir string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Join(dataDir, "notes"), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chronicle.db")
		notesDir = filepath.Join(dataDir, "notes")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, notesDir: notesDir}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// Record is the lightweight note representation returned by list operations.
type Record struct {
	UUID               string    `json:"uuid"`
	Filename           string    `json:"filename"`
	CreatedAt          time.Time `json:"created_at"`
	Domain             string    `json:"domain"`
	Title              string    `json:"title"`
	Summary            string    `json:"summary"`
	Topics             []string  `json:"topics"`
	WordCount          int       `json:"word_count"`
	ReadingTimeMinutes int       `json:"reading_time_minutes"`
	Source             string    `json:"source"`
}

// Put appends a note to the corpus: one row, one rendered artifact file, and
// one pending index job for the async indexer. Notes are never updated; a
// duplicate UUID is an error.
func (s *Store) Put(n note.Note) error {
	rendered, err := n.Render()
	if err != nil {
		return fmt.Errorf("rendering note %s: %w", n.UUID, err)
	}

	topicsJSON, err := json.Marshal(orEmpty(n.Topics))
	if err != nil {
		return fmt.Errorf("marshalling topics: %w", err)
	}
	agentsJSON, err := json.Marshal(n.Agents)
	if err != nil {
		return fmt.Errorf("marshalling agent results: %w", err)
	}
	sectionsJSON, err := json.Marshal(n.Sections)
	if err != nil {
		return fmt.Errorf("marshalling sections: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO notes (uuid, filename, created_at, domain, title, summary, topics,
			word_count, reading_time_minutes, source, language, version, raw_query,
			agents_json, sections_json, rendered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UUID, n.Filename, n.CreatedAt.UTC().Format(time.RFC3339), n.Domain, n.Title,
		n.Summary, string(topicsJSON), n.WordCount, n.ReadingTimeMinutes, n.Source,
		n.Language, n.Version, n.RawQuery, string(agentsJSON), string(sectionsJSON), rendered,
	)
	if err != nil {
		return fmt.Errorf("inserting note %s: %w", n.UUID, err)
	}

	if s.notesDir != "" {
		path := filepath.Join(s.notesDir, n.Filename)
		if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("writing artifact %s: %w", n.Filename, err)
		}
	}

	return s.enqueueIndexJob(n.UUID)
}

// Get returns the lightweight record for a note.
func (s *Store) Get(id string) (Record, error) {
	row := s.db.QueryRow(`
		SELECT uuid, filename, created_at, domain, title, summary, topics,
			word_count, reading_time_minutes, source
		FROM notes WHERE uuid = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading note %s: %w", id, err)
	}
	return rec, nil
}

// GetRendered returns the full rendered artifact text for a note.
func (s *Store) GetRendered(id string) (string, error) {
	var rendered string
	err := s.db.QueryRow(`SELECT rendered FROM notes WHERE uuid = ?`, id).Scan(&rendered)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading rendered note %s: %w", id, err)
	}
	return rendered, nil
}

// List returns the most recent notes, newest first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT uuid, filename, created_at, domain, title, summary, topics,
			word_count, reading_time_minutes, source
		FROM notes ORDER BY created_at DESC, uuid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of notes in the corpus.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var createdAt, topicsJSON string
	if err := row.Scan(&rec.UUID, &rec.Filename, &createdAt, &rec.Domain, &rec.Title,
		&rec.Summary, &topicsJSON, &rec.WordCount, &rec.ReadingTimeMinutes, &rec.Source); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", rec.UUID, err)
	}
	rec.CreatedAt = t
	if err := json.Unmarshal([]byte(topicsJSON), &rec.Topics); err != nil {
		return Record{}, fmt.Errorf("parsing topics for %s: %w", rec.UUID, err)
	}
	return rec, nil
}

func orEmpty(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}

// --- index job queue ---

// IndexJob is a pending request to (re)index one note's sections.
type IndexJob struct {
	ID       string
	NoteUUID string
	Attempts int
}

func (s *Store) enqueueIndexJob(noteUUID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO index_jobs (id, note_uuid, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, 3, ?, ?, ?)`,
		uuid.New().String(), noteUUID, now, now, now)
	if err != nil {
		return fmt.Errorf("enqueueing index job for %s: %w", noteUUID, err)
	}
	return nil
}

// ClaimNextIndexJob atomically claims the oldest runnable index job.
// Returns nil when no job is due.
func (s *Store) ClaimNextIndexJob() (*IndexJob, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j IndexJob
	err = tx.QueryRow(`
		SELECT id, note_uuid, attempts FROM index_jobs
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC LIMIT 1`, now).Scan(&j.ID, &j.NoteUUID, &j.Attempts)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next index job: %w", err)
	}

	res, err := tx.Exec(`UPDATE index_jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("claiming index job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking claimed rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &j, nil
}

// CompleteIndexJob marks a claimed job as done.
func (s *Store) CompleteIndexJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE index_jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailIndexJob records a failure, rescheduling with exponential backoff until
// max attempts are exhausted.
func (s *Store) FailIndexJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM index_jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE index_jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE index_jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Add(backoff).Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// noteSections returns the raw query and body sections used for indexing.
func (s *Store) noteSections(id string) (rawQuery string, sections []note.Section, err error) {
	var sectionsJSON string
	err = s.db.QueryRow(`SELECT raw_query, sections_json FROM notes WHERE uuid = ?`, id).Scan(&rawQuery, &sectionsJSON)
	if err == sql.ErrNoRows {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("loading sections for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(sectionsJSON), &sections); err != nil {
		return "", nil, fmt.Errorf("parsing sections for %s: %w", id, err)
	}
	return rawQuery, sections, nil
}

// upsertVectors writes section embeddings with deterministic IDs so that
// reindexing the same note replaces rows instead of duplicating them.
func (s *Store) upsertVectors(vectors []sectionVector) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning vector transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO note_vectors (id, note_uuid, section, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text_chunk = excluded.text_chunk,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing vector upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, v := range vectors {
		if _, err := stmt.Exec(v.ID, v.NoteUUID, v.Section, v.Text, encodeFloat32s(v.Embedding), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting vector %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

// VectorCount returns the number of section vectors in the index.
func (s *Store) VectorCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM note_vectors").Scan(&count)
	return count, err
}

type sectionVector struct {
	ID        string
	NoteUUID  string
	Section   string
	Text      string
	Embedding []float32
}
