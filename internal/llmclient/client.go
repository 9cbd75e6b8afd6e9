// Package llmclient implements the LLM Client (C2): free-form and
// JSON-schema-constrained completions against an external LLM provider
//. No prompt content is ever logged, only length, latency
// and tier.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonschema "github.com/google/jsonschema-go/jsonschema"

	"github.com/kart-io/assist-x/pkg/errors"
	"github.com/kart-io/assist-x/pkg/klog"
	"github.com/kart-io/assist-x/pkg/resilience"
)

// Mode selects free-form text vs. schema-constrained JSON output.
type Mode string

const (
	ModeFree       Mode = "free"
	ModeJSONSchema Mode = "json_schema"
)

// Tier selects the model strength/cost tier for a single call.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierStandard Tier = "standard"
	TierStrong   Tier = "strong"
)

// DefaultTimeout is the per-call LLM deadline.
const DefaultTimeout = 20 * time.Second

// maxSchemaAttempts is the total number of attempts a JSON-schema call
// gets before LLMSchema is raised.
const maxSchemaAttempts = 3

// Client is the C2 contract.
type Client interface {
	// Complete returns raw text for ModeFree, or the raw JSON text of a
	// schema-valid value for ModeJSONSchema.
	Complete(ctx context.Context, prompt string, mode Mode, tier Tier, schema []byte) (string, error)
}

// Config configures the HTTP chat-completions provider.
type Config struct {
	BaseURL string
	APIKey  string
	Models  map[Tier]string // tier -> model name
	Timeout time.Duration
}

// HTTPClient calls an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// New creates an HTTPClient.
func New(cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewCircuitBreaker("llm", nil),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	ResponseFmt *respFmt  `json:"response_format,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFmt struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
}

// Complete implements the C2 contract.
func (c *HTTPClient) Complete(ctx context.Context, prompt string, mode Mode, tier Tier, schema []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := c.cfg.Models[tier]
	if model == "" {
		model = c.cfg.Models[TierStandard]
	}

	var compiled *jsonschema.Resolved
	if mode == ModeJSONSchema {
		var err error
		compiled, err = compileSchema(schema)
		if err != nil {
			return "", errors.ErrLLMSchema.WithCause(err)
		}
	}

	start := time.Now()
	var lastErr error

	attempts := 1
	if mode == ModeJSONSchema {
		attempts = maxSchemaAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := c.callOnce(ctx, model, prompt, mode)
		if err != nil {
			lastErr = err
			continue
		}

		if mode == ModeJSONSchema {
			if verr := validateAgainst(compiled, text); verr != nil {
				lastErr = verr
				klog.Debugw("llm json schema validation failed", "attempt", attempt, "tier", string(tier))
				continue
			}
		}

		klog.Infow("llm call completed",
			"tier", string(tier), "mode", string(mode),
			"prompt_length", len(prompt), "latency_ms", time.Since(start).Milliseconds())
		return text, nil
	}

	klog.Warnw("llm call failed", "tier", string(tier), "mode", string(mode), "error", lastErr.Error())
	if mode == ModeJSONSchema {
		return "", errors.ErrLLMSchema.WithCause(lastErr)
	}
	return "", errors.ErrLLMTimeout.WithCause(lastErr)
}

func (c *HTTPClient) callOnce(ctx context.Context, model, prompt string, mode Mode) (string, error) {
	req := chatRequest{
		Model:    model,
		Messages: []chatMsg{{Role: "user", Content: prompt}},
	}
	if mode == ModeJSONSchema {
		req.ResponseFmt = &respFmt{Type: "json_object"}
	}

	var text string
	err := c.breaker.Execute(func() error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("llm upstream status %d: %s", resp.StatusCode, string(data))
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if len(out.Choices) == 0 {
			return fmt.Errorf("llm upstream returned no choices")
		}
		text = out.Choices[0].Message.Content
		return nil
	})
	return text, err
}

func compileSchema(schema []byte) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	return s.Resolve(nil)
}

func validateAgainst(schema *jsonschema.Resolved, text string) error {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
