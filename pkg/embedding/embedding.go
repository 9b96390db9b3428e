package embedding

import "context"

// Embedder maps text to a fixed-size vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
