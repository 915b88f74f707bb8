// Package oracle obtains structured JSON from a language model. The
// reflection pipeline is the only caller; everything else in the system
// works without a model.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	defaultMaxTokens  = 4096
	defaultMaxRetries = 5
	defaultInitDelay  = 1 * time.Second
)

// Request is one extraction call.
type Request struct {
	// System is the role prompt.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens caps the response length. Zero means the default.
	MaxTokens int
}

// Usage reports token consumption for the cost ledger.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is a successful extraction.
type Result struct {
	// Text is the raw response with code fences stripped.
	Text string

	// JSON is the extracted JSON payload. Callers unmarshal it into
	// their own shape.
	JSON json.RawMessage

	// Usage is the token count of the call.
	Usage Usage

	// Model is the model that answered.
	Model string
}

// Extractor is implemented by anything that can answer an extraction
// request. Tests substitute deterministic fakes.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// Disabled is the Extractor used when no oracle is configured. Every call
// fails; callers are expected to check configuration first and degrade.
type Disabled struct{}

func (Disabled) Extract(context.Context, Request) (*Result, error) {
	return nil, fmt.Errorf("oracle disabled: %w", types.ErrOracleFailure)
}

// New builds the Extractor selected by configuration.
func New(cfg *config.Config) (Extractor, error) {
	if cfg.OracleDisabled() {
		return Disabled{}, nil
	}
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider anthropic needs apiKey or ANTHROPIC_API_KEY: %w", types.ErrConfig)
		}
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q: %w", cfg.Provider, types.ErrConfig)
	}
}

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	maxRetries int
	initDelay  time.Duration
}

// AnthropicOption tweaks the client, mainly for tests.
type AnthropicOption func(*Anthropic)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) AnthropicOption {
	return func(a *Anthropic) {
		a.baseURL = url
	}
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) {
		a.client = c
	}
}

// WithRetry adjusts the retry budget and initial backoff.
func WithRetry(retries int, initDelay time.Duration) AnthropicOption {
	return func(a *Anthropic) {
		a.maxRetries = retries
		a.initDelay = initDelay
	}
}

// NewAnthropic creates a Messages API client.
func NewAnthropic(apiKey, model string, opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		apiKey:     apiKey,
		model:      model,
		baseURL:    anthropicBaseURL,
		client:     &http.Client{Timeout: 120 * time.Second},
		maxRetries: defaultMaxRetries,
		initDelay:  defaultInitDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Extract sends the request, retrying on 429 and 5xx with exponential
// backoff, and parses the JSON out of the response text.
func (a *Anthropic) Extract(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal oracle request: %w: %v", types.ErrOracleFailure, err)
	}

	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * a.initDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("oracle call canceled: %w: %v", types.ErrOracleFailure, ctx.Err())
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create oracle request: %w: %v", types.ErrOracleFailure, err)
		}
		httpReq.Header.Set("x-api-key", a.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck // already drained
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("api status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return nil, fmt.Errorf("oracle rejected request: %w: %v", types.ErrOracleFailure, lastErr)
		}

		var apiResp anthropicResponse
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, fmt.Errorf("decode oracle response: %w: %v", types.ErrOracleFailure, err)
		}
		if len(apiResp.Content) == 0 {
			return nil, fmt.Errorf("empty oracle response: %w", types.ErrOracleFailure)
		}

		text := stripFences(apiResp.Content[0].Text)
		payload, err := extractJSON(text)
		if err != nil {
			return nil, err
		}
		return &Result{
			Text:  text,
			JSON:  payload,
			Usage: Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
			Model: apiResp.Model,
		}, nil
	}

	return nil, fmt.Errorf("oracle retries exhausted: %w: %v", types.ErrOracleFailure, lastErr)
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	if idx := strings.Index(cleaned, "\n"); idx >= 0 {
		cleaned = cleaned[idx+1:]
	}
	if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[:idx]
	}
	return strings.TrimSpace(cleaned)
}

// extractJSON returns the JSON value in text. Models sometimes wrap the
// payload in prose; the fallback takes the outermost object or array.
func extractJSON(text string) (json.RawMessage, error) {
	candidate := strings.TrimSpace(text)
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(candidate, pair[0])
		end := strings.LastIndex(candidate, pair[1])
		if start >= 0 && end > start {
			inner := candidate[start : end+1]
			if json.Valid([]byte(inner)) {
				return json.RawMessage(inner), nil
			}
		}
	}
	return nil, fmt.Errorf("no JSON in oracle response: %w: %s", types.ErrOracleFailure, truncate(text, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
