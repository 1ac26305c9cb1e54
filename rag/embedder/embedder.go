package embedder

import "context"

// Embedder converts text into vectors. Implementations live under
// contrib/embedder.
type Embedder interface {
	// Embed converts a batch of texts into vectors, one per input, in
	// input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions reports the vector width this embedder produces.
	Dimensions() int
}
