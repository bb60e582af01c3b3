package index

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	commonlog "sim_server/server/common/log"
)

const (
	blobMagic   uint32 = 0x53494D31 // "SIM1"
	blobVersion uint32 = 1

	blobFileName    = "vectors.bin"
	mappingFileName = "mapping.json"
)

// mappingDocument is the on-disk form of the id ↔ slot tables. Keys are
// strings so the document survives any JSON tooling that cannot express
// integer keys.
type mappingDocument struct {
	Forward  map[string]int64 `json:"forward"`  // article id → slot
	Backward map[string]int64 `json:"backward"` // slot → article id
}

// Open loads the index artifacts from dir, validating them against the
// embedder dimension, or starts empty when neither artifact exists yet.
// Exactly one artifact present is a corruption condition and refuses to
// start. A blob holding more vectors than the mapping references is the
// footprint of a crash between the two writes of an append; the unmapped
// trailing vectors are dropped and the feed's redelivery restores them.
func Open(dir string, dimension int) (*Index, error) {
	ix, err := New(dimension)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	ix.blobPath = filepath.Join(dir, blobFileName)
	ix.mappingPath = filepath.Join(dir, mappingFileName)

	blobExists := fileExists(ix.blobPath)
	mappingExists := fileExists(ix.mappingPath)
	switch {
	case !blobExists && !mappingExists:
		return ix, nil
	case blobExists != mappingExists:
		return nil, fmt.Errorf("%w: blob present=%t mapping present=%t", ErrMappingBlobMismatch, blobExists, mappingExists)
	}

	vectors, err := loadBlob(ix.blobPath, dimension)
	if err != nil {
		return nil, err
	}
	forward, backward, err := loadMapping(ix.mappingPath)
	if err != nil {
		return nil, err
	}

	blobCount := len(vectors) / dimension
	if err := validateMapping(forward, backward, blobCount); err != nil {
		return nil, err
	}
	if orphans := blobCount - len(backward); orphans > 0 {
		commonlog.Warnf("event=index_open status=recovered orphan_slots=%d blob_count=%d mapped_count=%d", orphans, blobCount, len(backward))
		vectors = vectors[:len(backward)*dimension]
	}

	ix.vectors = vectors
	ix.forward = forward
	ix.backward = backward
	commonlog.Infof("event=index_open status=ok dimension=%d size=%d", dimension, len(backward))
	return ix, nil
}

// ArtifactPaths reports where the blob and mapping artifacts live.
func (ix *Index) ArtifactPaths() (blobPath, mappingPath string) {
	return ix.blobPath, ix.mappingPath
}

// Save persists the vector blob. Append already persists after every
// mutation; this exists for explicit flushes such as shutdown.
func (ix *Index) Save() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.blobPath == "" {
		return nil
	}
	return ix.saveBlobLocked()
}

// SaveMapping persists the mapping document.
func (ix *Index) SaveMapping() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.mappingPath == "" {
		return nil
	}
	return ix.saveMappingLocked()
}

func (ix *Index) saveBlobLocked() error {
	tmp := ix.blobPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	count := uint32(len(ix.vectors) / ix.dimension)
	for _, v := range []uint32{blobMagic, blobVersion, uint32(ix.dimension), count} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, ix.vectors); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, ix.blobPath)
}

func (ix *Index) saveMappingLocked() error {
	doc := mappingDocument{
		Forward:  make(map[string]int64, len(ix.forward)),
		Backward: make(map[string]int64, len(ix.backward)),
	}
	for id, slot := range ix.forward {
		doc.Forward[strconv.FormatInt(id, 10)] = int64(slot)
	}
	for slot, id := range ix.backward {
		doc.Backward[strconv.Itoa(slot)] = id
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := ix.mappingPath + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ix.mappingPath)
}

func loadBlob(path string, dimension int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector blob: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, version, dim, count uint32
	for _, target := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, target); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrCorruptArtifact)
		}
	}
	if magic != blobMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrCorruptArtifact, magic)
	}
	if version != blobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptArtifact, version)
	}
	if int(dim) != dimension {
		return nil, fmt.Errorf("%w: blob dimension %d, embedder dimension %d", ErrDimensionMismatch, dim, dimension)
	}

	vectors := make([]float32, int(count)*dimension)
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("%w: truncated vector data", ErrCorruptArtifact)
	}
	return vectors, nil
}

func loadMapping(path string) (map[int64]int, map[int]int64, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read mapping: %w", err)
	}
	var doc mappingDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}

	forward := make(map[int64]int, len(doc.Forward))
	for rawID, slot := range doc.Forward {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: forward key %q", ErrCorruptArtifact, rawID)
		}
		forward[id] = int(slot)
	}
	backward := make(map[int]int64, len(doc.Backward))
	for rawSlot, id := range doc.Backward {
		slot, err := strconv.Atoi(rawSlot)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: backward key %q", ErrCorruptArtifact, rawSlot)
		}
		backward[slot] = id
	}
	return forward, backward, nil
}

// validateMapping enforces the startup consistency rules: every mapped slot
// must exist in the blob, the first len(backward) slots must all be mapped,
// and every forward pair must agree with the backward table. Slots holding
// a redelivered article keep only their backward entry, so forward may be
// smaller than backward but never contradict it.
func validateMapping(forward map[int64]int, backward map[int]int64, blobCount int) error {
	if len(backward) > blobCount {
		return fmt.Errorf("%w: mapping holds %d slots, blob holds %d vectors", ErrMappingBlobMismatch, len(backward), blobCount)
	}
	for slot := 0; slot < len(backward); slot++ {
		if _, ok := backward[slot]; !ok {
			return fmt.Errorf("%w: slot %d missing from backward table", ErrMappingBlobMismatch, slot)
		}
	}
	for id, slot := range forward {
		if slot < 0 || slot >= blobCount {
			return fmt.Errorf("%w: article %d maps to slot %d beyond blob size %d", ErrMappingBlobMismatch, id, slot, blobCount)
		}
		mappedID, ok := backward[slot]
		if !ok || mappedID != id {
			return fmt.Errorf("%w: forward %d→%d, backward %d→%d", ErrMappingNotBijective, id, slot, slot, mappedID)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
