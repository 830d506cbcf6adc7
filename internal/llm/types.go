package llm

import "context"

// Embedder turns text into fixed-length vectors. Implementations must return
// vectors of the same dimensionality for every call.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments returns one vector per input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is an Embedder backed by a remote embeddings endpoint.
type Client interface {
	Embedder
	Close() error
}

// Usage reports token accounting from the provider.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
