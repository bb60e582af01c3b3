package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

const DefaultDimension = 512

// Local is a deterministic hash-projection model: each token is hashed onto
// a fixed number of vector components and the result is L2-normalized.
// Texts sharing tokens land close together, identical texts land exactly on
// the same point. It needs no external service, which also makes it the
// model of choice in tests.
type Local struct {
	dimension int
}

func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Local{dimension: dimension}
}

func (l *Local) Name() string { return "local-hash" }

func (l *Local) Dimension() int { return l.dimension }

func (l *Local) Embed(_ context.Context, text string) []float32 {
	vec := make([]float32, l.dimension)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec
	}
	for _, token := range tokens {
		hash := sha256.Sum256([]byte(token))
		// Spread each token over four components so single-token
		// collisions do not collapse distinct vocabularies.
		for part := 0; part < 4; part++ {
			chunk := binary.BigEndian.Uint64(hash[part*8 : part*8+8])
			idx := int(chunk % uint64(l.dimension))
			sign := float32(1)
			if chunk&(1<<63) != 0 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	normalizeL2(vec)
	return vec
}

func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
