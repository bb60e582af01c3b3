// Package index implements the append-only flat vector index behind the
// similarity search, together with the bidirectional article-id ↔ slot
// mapping and its on-disk persistence.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch means a vector or a persisted blob does not
	// match the dimension the index was opened with. Fatal on load.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptArtifact means a persisted artifact could not be decoded.
	ErrCorruptArtifact = errors.New("corrupt index artifact")

	// ErrMappingBlobMismatch means the vector blob and the mapping
	// document disagree: one of the pair is missing, or the mapping
	// references slots the blob does not hold. Fatal on load.
	ErrMappingBlobMismatch = errors.New("mapping and vector blob disagree")

	// ErrMappingNotBijective means forward and backward tables contradict
	// each other. Fatal on load.
	ErrMappingNotBijective = errors.New("mapping is not bijective")
)

// Hit is one nearest-neighbor result.
type Hit struct {
	ID       int64
	Slot     int
	Distance float32
}

// Index is a flat squared-L2 index. Slots are assigned monotonically and
// never reused; appends are the only mutation. A single RWMutex covers the
// vector sequence, both mapping directions and the persistence writes, so a
// reader never observes an on-disk artifact ahead of or behind memory.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   []float32 // flattened, dimension-strided
	forward   map[int64]int
	backward  map[int]int64

	blobPath    string
	mappingPath string
}

// New creates an empty in-memory index without persistence. Used by tests
// and by Open.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	return &Index{
		dimension: dimension,
		forward:   map[int64]int{},
		backward:  map[int]int64{},
	}, nil
}

func (ix *Index) Dimension() int { return ix.dimension }

func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors) / ix.dimension
}

// Append stores the vector under the next slot and records both mapping
// directions, then persists the blob and the mapping while still holding
// exclusive access. A second append for an already-indexed id is not
// rejected: it creates a second slot and the forward entry moves to it,
// the older slot stays reachable through the backward table only. The feed
// is at-least-once, so redelivery is an accepted source of such slots.
func (ix *Index) Append(id int64, vec []float32) (int, error) {
	if len(vec) != ix.dimension {
		return 0, fmt.Errorf("%w: got %d, index holds %d", ErrDimensionMismatch, len(vec), ix.dimension)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slot := len(ix.vectors) / ix.dimension
	ix.vectors = append(ix.vectors, vec...)
	ix.forward[id] = slot
	ix.backward[slot] = id

	// Blob first: a crash between the two writes leaves a trailing
	// unmapped vector, which Open drops on the next start.
	if ix.blobPath != "" {
		if err := ix.saveBlobLocked(); err != nil {
			return slot, fmt.Errorf("persist vector blob: %w", err)
		}
		if err := ix.saveMappingLocked(); err != nil {
			return slot, fmt.Errorf("persist mapping: %w", err)
		}
	}
	return slot, nil
}

// Search returns the k nearest stored vectors by squared Euclidean distance,
// nearest first, ties broken by lower slot. Fewer than k stored vectors
// yield fewer results; an empty index yields an empty slice.
func (ix *Index) Search(vec []float32, k int) ([]Hit, error) {
	if len(vec) != ix.dimension {
		return nil, fmt.Errorf("%w: got %d, index holds %d", ErrDimensionMismatch, len(vec), ix.dimension)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := len(ix.vectors) / ix.dimension
	hits := make([]Hit, 0, count)
	for slot := 0; slot < count; slot++ {
		offset := slot * ix.dimension
		var dist float32
		for i, q := range vec {
			d := ix.vectors[offset+i] - q
			dist += d * d
		}
		hits = append(hits, Hit{ID: ix.backward[slot], Slot: slot, Distance: dist})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Slot < hits[b].Slot
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Mappings returns a copy of the slot → article-id table.
func (ix *Index) Mappings() map[int]int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[int]int64, len(ix.backward))
	for slot, id := range ix.backward {
		out[slot] = id
	}
	return out
}

// SlotFor reports the forward mapping for an article id.
func (ix *Index) SlotFor(id int64) (int, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	slot, ok := ix.forward[id]
	return slot, ok
}
