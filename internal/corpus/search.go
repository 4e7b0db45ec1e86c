package corpus

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

// Candidate is one relevance-search hit, addressed by the note it came from.
type Candidate struct {
	SourceID       string  `json:"source_id"`
	Title          string  `json:"title,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	Snippet        string  `json:"content_snippet"`
}

// Searcher is the retrieval interface the historian consumes. The contract is
// ranking plus a score in [0,1]; the scoring method behind it is an
// implementation detail.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Candidate, error)
}

const snippetLen = 240

// Index performs embedding-based relevance search over indexed note sections.
// Scoring is brute-force cosine similarity; at corpus sizes where a full scan
// hurts, swap in an ANN backend behind the same Searcher interface.
type Index struct {
	store    *Store
	embedder *Embedder
}

// NewIndex creates an Index over the given store using the given embedder.
func NewIndex(store *Store, embedder *Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// Compile-time check that Index implements Searcher.
var _ Searcher = (*Index)(nil)

// Search embeds the query and returns the top-K most relevant notes, scored
// by their best-matching section. Cosine similarity is clamped to [0,1].
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = 5
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + note + embedding, keeping each note's best chunk.
	rows, err := ix.store.db.QueryContext(ctx, `SELECT id, note_uuid, embedding FROM note_vectors`)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	type best struct {
		chunkID string
		score   float64
	}
	bestPerNote := make(map[string]best)

	var buf []float32
	for rows.Next() {
		var id, noteUUID string
		var blob []byte
		if err := rows.Scan(&id, &noteUUID, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vec, buf, queryNorm)
		if cur, ok := bestPerNote[noteUUID]; !ok || score > cur.score {
			bestPerNote[noteUUID] = best{chunkID: id, score: score}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}
	if len(bestPerNote) == 0 {
		return nil, nil
	}

	// Phase 2: top-K notes by best-chunk score.
	h := &noteScoreHeap{}
	heap.Init(h)
	for noteUUID, b := range bestPerNote {
		ns := noteScore{NoteUUID: noteUUID, ChunkID: b.chunkID, Score: b.score}
		if h.Len() < topK {
			heap.Push(h, ns)
		} else if ns.Score > (*h)[0].Score {
			(*h)[0] = ns
			heap.Fix(h, 0)
		}
	}

	winners := make([]noteScore, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(noteScore)
	}

	// Phase 3: resolve titles and snippets for the winners.
	candidates := make([]Candidate, 0, len(winners))
	for _, w := range winners {
		var title, text string
		err := ix.store.db.QueryRowContext(ctx, `
			SELECT n.title, v.text_chunk
			FROM note_vectors v JOIN notes n ON n.uuid = v.note_uuid
			WHERE v.id = ?`, w.ChunkID).Scan(&title, &text)
		if err != nil {
			return nil, fmt.Errorf("resolving candidate %s: %w", w.ChunkID, err)
		}
		candidates = append(candidates, Candidate{
			SourceID:       w.NoteUUID,
			Title:          title,
			RelevanceScore: w.Score,
			Snippet:        snippet(text),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].RelevanceScore > candidates[j].RelevanceScore
	})
	return candidates, nil
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= snippetLen {
		return text
	}
	// Back the cut point up to a rune boundary so a multi-byte rune is never
	// split.
	end := snippetLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndexByte(cut, ' '); i > snippetLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// cosine computes cosine similarity clamped to [0,1]. aNorm is the
// precomputed L2 norm of a.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	score := dot / (aNorm * bNorm)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// noteScore pairs a note with its best-chunk score during the heap phase.
type noteScore struct {
	NoteUUID string
	ChunkID  string
	Score    float64
}

// noteScoreHeap is a min-heap of noteScore ordered by Score.
type noteScoreHeap []noteScore

func (h noteScoreHeap) Len() int           { return len(h) }
func (h noteScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h noteScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *noteScoreHeap) Push(x any)        { *h = append(*h, x.(noteScore)) }
func (h *noteScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
