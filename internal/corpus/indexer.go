package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Indexer consumes index jobs and embeds note sections into the vector
// table. Indexing is asynchronous and eventually consistent: a note written
// by a just-completed run becomes searchable once its job is processed, and
// reindexing the same note twice leaves the index unchanged (deterministic
// vector IDs).
type Indexer struct {
	store    *Store
	embedder *Embedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewIndexer creates an Indexer with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewIndexer(store *Store, embedder *Embedder, pollInterval time.Duration) *Indexer {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for index jobs until ctx is cancelled.
func (w *Indexer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("indexer iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Indexer) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextIndexJob()
	if err != nil {
		return false, fmt.Errorf("claiming index job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.IndexNote(ctx, job.NoteUUID); err != nil {
		w.logger.Warn("index job failed", "job_id", job.ID, "note", job.NoteUUID, "error", err)
		if failErr := w.store.FailIndexJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark index job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteIndexJob(job.ID); err != nil {
		return true, fmt.Errorf("completing index job %s: %w", job.ID, err)
	}
	return true, nil
}

// IndexNote embeds every searchable chunk of the note — the raw query plus
// each body section — and upserts the vectors. Idempotent.
func (w *Indexer) IndexNote(ctx context.Context, noteUUID string) error {
	rawQuery, sections, err := w.store.noteSections(noteUUID)
	if err != nil {
		return fmt.Errorf("loading note %s: %w", noteUUID, err)
	}

	var vectors []sectionVector
	if rawQuery != "" {
		vectors = append(vectors, sectionVector{
			ID:       noteUUID + ":query",
			NoteUUID: noteUUID,
			Section:  "query",
			Text:     rawQuery,
		})
	}
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		vectors = append(vectors, sectionVector{
			ID:       noteUUID + ":" + s.Agent,
			NoteUUID: noteUUID,
			Section:  s.Agent,
			Text:     s.Text,
		})
	}
	if len(vectors) == 0 {
		return nil
	}

	texts := make([]string, len(vectors))
	for i, v := range vectors {
		texts[i] = v.Text
	}
	embeddings, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding sections: %w", err)
	}
	for i := range vectors {
		vectors[i].Embedding = embeddings[i]
	}

	return w.store.upsertVectors(vectors)
}
