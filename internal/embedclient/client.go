// Package embedclient implements the Embedding Client (C1): obtaining
// fixed-dimensional dense vectors for text from an external embedding
// provider. The provider itself is an external collaborator;
// this package owns batching, ordering and retry.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kart-io/assist-x/internal/model"
	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
	"github.com/kart-io/assist-x/pkg/resilience"
)

// Client is the C1 contract: embed(texts) -> [vector].
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// MaxBatch is the largest batch callers may submit per Embed call
// before the client transparently re-batches.
const MaxBatch = 100

// Config configures the HTTP embedding provider.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient calls an OpenAI-compatible embeddings endpoint.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// New creates an HTTPClient with the default retry/backoff schedule
// (base 500ms, max 30s, 5 attempts) and a circuit breaker guarding
// against a sustained upstream outage.
func New(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewCircuitBreaker("embedding", nil),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, output[i] corresponding to
// input[i]. Empty strings yield the zero vector, reserved for
// soft-deleted records.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += MaxBatch {
		end := min(start+MaxBatch, len(texts))
		batch := texts[start:end]

		nonEmptyIdx := make([]int, 0, len(batch))
		nonEmpty := make([]string, 0, len(batch))
		for i, t := range batch {
			if t == "" {
				continue
			}
			nonEmptyIdx = append(nonEmptyIdx, i)
			nonEmpty = append(nonEmpty, t)
		}

		vecs := make([][]float32, len(nonEmpty))
		if len(nonEmpty) > 0 {
			var err error
			err = resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), c.breaker, func() error {
				v, callErr := c.callOnce(ctx, nonEmpty)
				if callErr != nil {
					return callErr
				}
				vecs = v
				return nil
			})
			if err != nil {
				klog.Warnw("embedding upstream exhausted retries", "batch_size", len(nonEmpty), "error", err.Error())
				return nil, errors.ErrEmbeddingUpstream.WithCause(err)
			}
		}

		for i := range batch {
			result[start+i] = make([]float32, model.Dimension)
		}
		for j, idx := range nonEmptyIdx {
			result[start+idx] = vecs[j]
		}
	}

	return result, nil
}

// EmbedSingle embeds one string.
func (c *HTTPClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *HTTPClient) callOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			klog.Debugw("embedding upstream asked to slow down", "retry_after", retryAfter)
		}
		return nil, fmt.Errorf("embedding upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding upstream rejected request (%d): %s", resp.StatusCode, string(data))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	return vecs, nil
}
