package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/mlecarme/spendsort/internal/common"
)

// httpProvider talks to an Ollama-compatible embeddings endpoint. The model
// handle is process-wide but explicitly constructed and injected; the first
// call probes the endpoint once to learn the vector dimensionality.
type httpProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	batchSize  int

	initOnce sync.Once
	initErr  error
	dims     int
}

// NewProvider creates an HTTP embedding provider. Initialization is lazy:
// the endpoint is first contacted on first use, guarded by a single-flight
// lock.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: embedding base URL is required", common.ErrInvalidConfig)
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	return &httpProvider{
		baseURL:   cfg.BaseURL,
		model:     model,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Encode encodes a single text.
func (p *httpProvider) Encode(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch encodes texts in chunks of the configured batch size. Output
// vectors are unit-normalized.
func (p *httpProvider) EncodeBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := p.ensureInit(ctx); err != nil {
		return nil, err
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vecs, err := p.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, vec := range vecs {
			if err := validateVector(vec, p.dims); err != nil {
				return nil, err
			}
			Normalize(vec)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the vector dimensionality, or 0 before first use.
func (p *httpProvider) Dimensions() int {
	return p.dims
}

// ensureInit probes the endpoint once to discover dimensionality.
func (p *httpProvider) ensureInit(ctx context.Context) error {
	p.initOnce.Do(func() {
		vecs, err := p.embed(ctx, []string{"init"})
		if err != nil {
			p.initErr = fmt.Errorf("embedding provider init: %w", err)
			return
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			p.initErr = fmt.Errorf("embedding provider init: empty response")
			return
		}
		p.dims = len(vecs[0])
	})
	return p.initErr
}

func (p *httpProvider) embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Embeddings), len(texts))
	}

	return parsed.Embeddings, nil
}

// Normalize scales vec to unit length in place. Zero vectors are left as is.
func Normalize(vec []float64) {
	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return
	}
	floats.Scale(1/norm, vec)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors are assumed unit-normalized, so this is the dot product.
func CosineSimilarity(a, b []float64) float64 {
	return floats.Dot(a, b)
}

// CosineDistance returns 1 - cosine similarity, clamped to [0, 2].
func CosineDistance(a, b []float64) float64 {
	d := 1 - CosineSimilarity(a, b)
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}

// Centroid returns the unit-normalized mean of the given vectors.
func Centroid(vecs [][]float64) []float64 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vecs)), out)
	Normalize(out)
	return out
}
