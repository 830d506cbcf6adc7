package llm

// Request shape we send to upstream (OpenAI-style /v1/embeddings).
type providerEmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type providerEmbedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type providerEmbeddingResponse struct {
	Object string              `json:"object"`
	Data   []providerEmbedding `json:"data"`
	Model  string              `json:"model"`
	Usage  *Usage              `json:"usage,omitempty"`
}

type providerErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}
