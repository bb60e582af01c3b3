package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendThenSelfSearch(t *testing.T) {
	ix, err := New(4)
	require.NoError(t, err)

	vec := []float32{0.1, 0.2, 0.3, 0.4}
	slot, err := ix.Append(7, vec)
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	hits, err := ix.Search(vec, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(7), hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
}

func TestSearchOrderingAndTies(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)

	// Slots 0 and 1 are equidistant from the probe; slot 2 is nearer.
	_, err = ix.Append(10, []float32{1, 0})
	require.NoError(t, err)
	_, err = ix.Append(11, []float32{-1, 0})
	require.NoError(t, err)
	_, err = ix.Append(12, []float32{0, 0.5})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(12), hits[0].ID)
	// Equal distances resolve to the earlier slot.
	assert.Equal(t, int64(10), hits[1].ID)
	assert.Equal(t, int64(11), hits[2].ID)
}

func TestSearchFewerThanK(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 1})
	require.NoError(t, err)
	_, err = ix.Append(2, []float32{2, 2})
	require.NoError(t, err)

	hits, err := ix.Search([]float32{0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, err := New(3)
	require.NoError(t, err)
	hits, err := ix.Search([]float32{0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAppendDimensionMismatch(t *testing.T) {
	ix, err := New(3)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMappingBijection(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)
	for id := int64(100); id < 110; id++ {
		_, err := ix.Append(id, []float32{float32(id), 0})
		require.NoError(t, err)
	}

	backward := ix.Mappings()
	assert.Len(t, backward, 10)
	for slot, id := range backward {
		got, ok := ix.SlotFor(id)
		require.True(t, ok)
		assert.Equal(t, slot, got)
	}
}

func TestDuplicateIDCreatesSecondSlot(t *testing.T) {
	ix, err := New(2)
	require.NoError(t, err)
	first, err := ix.Append(42, []float32{1, 0})
	require.NoError(t, err)
	second, err := ix.Append(42, []float32{1, 0})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	backward := ix.Mappings()
	assert.Equal(t, int64(42), backward[first])
	assert.Equal(t, int64(42), backward[second])

	// Forward follows the latest slot.
	slot, ok := ix.SlotFor(42)
	require.True(t, ok)
	assert.Equal(t, second, slot)
	assert.Equal(t, 2, ix.Size())
}

func TestOpenEmptyDirStartsEmpty(t *testing.T) {
	ix, err := Open(t.TempDir(), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, ix.Size())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 3)
	require.NoError(t, err)

	vecs := [][]float32{
		{0.5, 0.1, -0.2},
		{-1, 0.7, 0.3},
		{0.9, 0.9, 0.9},
	}
	for i, v := range vecs {
		_, err := ix.Append(int64(i+1), v)
		require.NoError(t, err)
	}

	probe := []float32{0.4, 0.1, 0}
	before, err := ix.Search(probe, 3)
	require.NoError(t, err)

	reopened, err := Open(dir, 3)
	require.NoError(t, err)
	after, err := reopened.Search(probe, 3)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, ix.Mappings(), reopened.Mappings())
}

func TestOpenRejectsDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 3)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2, 3})
	require.NoError(t, err)

	_, err = Open(dir, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpenRejectsLoneArtifact(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	require.NoError(t, err)

	_, mappingPath := ix.ArtifactPaths()

	require.NoError(t, os.Remove(mappingPath))
	_, err = Open(dir, 2)
	assert.ErrorIs(t, err, ErrMappingBlobMismatch)

	// Other way around: mapping without blob.
	dir2 := t.TempDir()
	ix2, err := Open(dir2, 2)
	require.NoError(t, err)
	_, err = ix2.Append(1, []float32{1, 2})
	require.NoError(t, err)
	blobPath2, _ := ix2.ArtifactPaths()
	require.NoError(t, os.Remove(blobPath2))
	_, err = Open(dir2, 2)
	assert.ErrorIs(t, err, ErrMappingBlobMismatch)
}

func TestOpenRejectsMappingPastBlob(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	require.NoError(t, err)

	_, mappingPath := ix.ArtifactPaths()
	doc := mappingDocument{
		Forward:  map[string]int64{"1": 0, "2": 8},
		Backward: map[string]int64{"0": 1, "8": 2},
	}
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mappingPath, payload, 0o644))

	_, err = Open(dir, 2)
	assert.ErrorIs(t, err, ErrMappingBlobMismatch)
}

func TestOpenRejectsNonBijectiveMapping(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	require.NoError(t, err)
	_, err = ix.Append(2, []float32{3, 4})
	require.NoError(t, err)

	_, mappingPath := ix.ArtifactPaths()
	doc := mappingDocument{
		Forward:  map[string]int64{"1": 0, "2": 0},
		Backward: map[string]int64{"0": 1, "1": 2},
	}
	payload, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(mappingPath, payload, 0o644))

	_, err = Open(dir, 2)
	assert.ErrorIs(t, err, ErrMappingNotBijective)
}

func TestOpenRecoversTrailingOrphanSlot(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	require.NoError(t, err)

	// Simulate a crash after the blob write of a second append but before
	// its mapping write: append in memory and flush only the blob.
	ix.mu.Lock()
	ix.vectors = append(ix.vectors, 5, 6)
	require.NoError(t, ix.saveBlobLocked())
	ix.mu.Unlock()

	reopened, err := Open(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Size())

	// The recovered index keeps appending from the mapped size.
	slot, err := reopened.Append(9, []float32{5, 6})
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
}

func TestOpenRejectsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	_, err = ix.Append(1, []float32{1, 2})
	require.NoError(t, err)

	blobPath, _ := ix.ArtifactPaths()
	require.NoError(t, os.WriteFile(blobPath, []byte("not a blob"), 0o644))

	_, err = Open(dir, 2)
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestArtifactFilesLiveInDir(t *testing.T) {
	dir := t.TempDir()
	ix, err := Open(dir, 2)
	require.NoError(t, err)
	blobPath, mappingPath := ix.ArtifactPaths()
	assert.Equal(t, dir, filepath.Dir(blobPath))
	assert.Equal(t, dir, filepath.Dir(mappingPath))
}
