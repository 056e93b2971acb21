// Package inference evaluates prompts against an OpenAI-compatible
// chat-completions endpoint (LiteLLM proxy, EigenAI, vLLM) with a fixed seed
// and zero temperature.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/domain"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/port/model"
	"github.com/BackTrackCo/x402r-arbiter-eigencloud/internal/resilience"
)

const maxResponseBytes = 4 << 20

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for /v1/chat/completions.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Seed        uint64    `json:"seed"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the subset of the completions response the arbiter reads.
type ChatResponse struct {
	ID                string `json:"id"`
	Model             string `json:"model"`
	SystemFingerprint string `json:"system_fingerprint"`
	Choices           []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Client is a model.Evaluator over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	breaker    *resilience.Breaker
	limiter    *rate.Limiter
}

var _ model.Evaluator = (*Client)(nil)

// Options configure a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewClient creates a new chat-completions evaluator.
func NewClient(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	c := &Client{
		baseURL:   strings.TrimRight(o.BaseURL, "/"),
		apiKey:    o.APIKey,
		model:     o.Model,
		maxTokens: o.MaxTokens,
		httpClient: &http.Client{
			Timeout: o.Timeout,
		},
	}
	if o.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
	}
	return c
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name returns the configured model identifier.
func (c *Client) Name() string { return c.model }

// Evaluate sends the prompts with seed and returns the raw content of the first choice.
func (c *Client) Evaluate(ctx context.Context, systemPrompt, userPrompt string, seed uint64) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", domain.Wrap(domain.KindTransient, "model rate limit wait", err)
		}
	}

	body, err := json.Marshal(ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Seed:        seed,
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", domain.Wrap(domain.KindTransient, "decode chat response", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Errorf(domain.KindTransient, "chat response %s has no choices", resp.ID)
	}

	slog.Debug("inference: completion",
		"model", resp.Model,
		"seed", seed,
		"fingerprint", resp.SystemFingerprint,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, nil
}

// Health checks if the endpoint answers the model listing.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/v1/models", nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.Wrap(domain.KindTransient, "model request", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return domain.Wrap(domain.KindTransient, "read model response", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return domain.Errorf(domain.KindTransient, "model API error %d: %s", resp.StatusCode, clip(data))
		case resp.StatusCode >= 400:
			return resilience.Permanent(domain.Errorf(domain.KindInvalidInput, "model API rejected request %d: %s", resp.StatusCode, clip(data)))
		}

		result = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
		var perm *resilience.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, domain.Wrap(domain.KindTransient, "model endpoint unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func clip(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
