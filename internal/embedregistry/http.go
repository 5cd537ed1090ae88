package embedregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/manifold-chat/core/internal/model"
)

// httpEmbedder calls an OpenAI-compatible /embeddings endpoint, mirroring
// the request/response shapes of the teacher's internal/embeddings.go.
type httpEmbedder struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newHTTPEmbedder(spec model.EmbeddingSpec) *httpEmbedder {
	return &httpEmbedder{
		endpoint: spec.Endpoint,
		apiKey:   spec.Credentials,
		model:    spec.Model,
		client:   &http.Client{},
	}
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *httpEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed (%d): %s", resp.StatusCode, string(body))
	}
	var out embeddingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	vecs := make([][]float32, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			continue
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func (e *httpEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	return vecs[0], nil
}

// localEmbedder is a placeholder for a locally-hosted model (e.g. a
// llama.cpp embedding server reached over a unix socket or local HTTP port).
// The core never defines the model itself (§1 Non-goals); this type only
// satisfies the Embedder contract for local-provider specs.
type localEmbedder struct {
	path string
}

func (l *localEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("local embedding backend at %q not wired in this deployment", l.path)
}

func (l *localEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("local embedding backend at %q not wired in this deployment", l.path)
}
