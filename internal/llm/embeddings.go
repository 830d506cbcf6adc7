package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

const maxRequestSize = 4 * 1024 * 1024 // 4MB total JSON payload

// EmbedQuery embeds a single search query.
func (c *client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in requests of at most MaxBatchSize inputs.
func (c *client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += c.cfg.MaxBatchSize {
		hi := min(lo+c.cfg.MaxBatchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[lo:hi])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *client) embedBatch(parentCtx context.Context, input []string) ([][]float32, error) {
	start := time.Now()

	c.logger.Debug("embedding request starting",
		zap.String("model", c.cfg.Model),
		zap.Int("input_count", len(input)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(providerEmbeddingRequest{
		Model:          c.cfg.Model,
		Input:          input,
		Dimensions:     c.cfg.Dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf("embedclient: request too large (%d bytes, max %d)", len(bodyBytes), maxRequestSize)
	}

	url := c.cfg.endpoint()

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embedclient: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		c.logger.Error("embedding request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)

		var perr providerErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("embedding provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, fmt.Errorf("embedclient: upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		c.logger.Error("embedding upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, fmt.Errorf("embedclient: upstream %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var pResp providerEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("embedclient: decode upstream response: %w", err)
	}
	if len(pResp.Data) != len(input) {
		return nil, fmt.Errorf("embedclient: provider returned %d embeddings for %d inputs", len(pResp.Data), len(input))
	}

	// Providers may return data out of order; index is authoritative.
	sort.Slice(pResp.Data, func(i, j int) bool { return pResp.Data[i].Index < pResp.Data[j].Index })

	out := make([][]float32, len(pResp.Data))
	for i, d := range pResp.Data {
		if d.Index != i {
			return nil, fmt.Errorf("embedclient: missing embedding for input %d", i)
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("embedclient: embedding %d has %d dimensions, want %d", i, len(d.Embedding), c.cfg.Dimensions)
		}
		out[i] = d.Embedding
	}

	fields := []zap.Field{
		zap.String("model", pResp.Model),
		zap.Int("input_count", len(input)),
		zap.Duration("duration", time.Since(start)),
	}
	if pResp.Usage != nil {
		fields = append(fields, zap.Int("prompt_tokens", pResp.Usage.PromptTokens))
	}
	c.logger.Debug("embedding request completed", fields...)

	return out, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
