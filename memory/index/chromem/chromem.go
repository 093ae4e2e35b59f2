// Package chromem implements the memory.Index interface on top of
// chromem-go, a pure Go embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memorygate/memorygate-go/memory"
)

// Index stores normalized embedding vectors keyed by memory id and
// answers top-K similarity queries. It is similarity-only: trust lives
// elsewhere.
//
// chromem-go holds the vectors; a side map holds the full records plus a
// monotonic insert sequence used to break similarity ties in favor of
// the most recently inserted memory.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection

	mu      sync.RWMutex
	records map[string]*storedRecord
	seq     uint64
}

type storedRecord struct {
	rec memory.Record
	seq uint64
}

// New creates an empty in-memory index.
func New() (*Index, error) {
	db := chromem.NewDB()

	// No embedding func (callers provide embeddings), default cosine
	// distance.
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Index{
		db:      db,
		col:     col,
		records: make(map[string]*storedRecord),
	}, nil
}

// Insert stores a record, replacing any existing vector and record for
// the same id.
func (x *Index) Insert(ctx context.Context, rec *memory.Record) error {
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  map[string]string{"memory_id": rec.ID},
	}

	// The chromem vector and the side record must advance together:
	// concurrent re-inserts of the same id would otherwise leave the
	// collection ranking by one caller's vector while Get returns the
	// other's record. AddDocument is purely in-memory.
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	x.seq++
	x.records[rec.ID] = &storedRecord{rec: *rec, seq: x.seq}

	log.Printf("[CHROMEM] Stored memory %s", rec.ID)
	return nil
}

// Search returns up to k hits ranked by cosine similarity, highest
// first. Equal similarities rank the most-recently-inserted memory
// first. An empty index returns no hits and no error.
func (x *Index) Search(ctx context.Context, embedding []float32, k int) ([]memory.Hit, error) {
	x.mu.RLock()
	count := len(x.records)
	seqs := make(map[string]uint64, count)
	for id, sr := range x.records {
		seqs[id] = sr.seq
	}
	x.mu.RUnlock()

	if count == 0 || k <= 0 {
		return nil, nil
	}
	// chromem requires nResults <= collection size. Records are never
	// removed, so the side map count never exceeds it.
	if k > count {
		k = count
	}

	results, err := x.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, memory.Hit{
			MemoryID: res.ID,
			Score:    float64(res.Similarity),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return seqs[hits[i].MemoryID] > seqs[hits[j].MemoryID]
	})

	return hits, nil
}

// Get returns the record for id, or memory.ErrNotFound.
func (x *Index) Get(ctx context.Context, id string) (*memory.Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	sr, ok := x.records[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	rec := sr.rec
	return &rec, nil
}

// Count returns the number of records in the index.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Close releases resources. chromem keeps everything in memory, so there
// is nothing to release.
func (x *Index) Close() error {
	return nil
}
