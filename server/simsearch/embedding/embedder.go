// Package embedding converts normalized text into fixed-dimension dense
// vectors.
package embedding

import "context"

// Embedder is a text-to-vector model with a dimension fixed for the process
// lifetime.
//
// Embed never returns an error: a provider that fails internally logs the
// failure and returns the zero vector of length Dimension(), so a bad
// embedding occupies a slot instead of stalling ingestion. Operators can
// re-embed flagged documents later.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) []float32
}
