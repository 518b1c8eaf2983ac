package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"grist/internal/services"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
	defaultConfidence  = 0.7
)

// Config captures the runtime settings required to talk to the model endpoint.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Client implements Capability against an OpenAI-compatible chat completions
// endpoint. It performs exactly one attempt per Infer call; the extract stage
// owns the retry budget.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an inference client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// inferEnvelope is the JSON shape the prompts demand from the model.
type inferEnvelope struct {
	ExtractedData json.RawMessage `json:"extracted_data"`
	Confidence    *float64        `json:"confidence"`
}

// Infer issues a single JSON-only completion request and decodes the
// structured envelope. All failure modes are tagged services.ErrTransient
// with a kind the extractor can log: rate_limited, timeout, or
// invalid_response.
func (c *Client) Infer(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return nil, errors.New("infer: user prompt required")
	}
	if c.cfg.BaseURL == "" {
		return nil, errors.New("infer: base url required")
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	payload := chatCompletionRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("infer: encode body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("infer: new request: %w", err)
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "", "infer", classifyTransportError(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "infer", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrTransient, "", "infer", classifyStatus(resp.StatusCode), fmt.Errorf("http %d: %s", resp.StatusCode, summarize(body)))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "infer", "invalid_response", fmt.Errorf("decode response: %w", err))
	}
	if completion.Error != nil {
		return nil, services.Wrap(services.ErrTransient, "", "infer", "invalid_response", errors.New(strings.TrimSpace(completion.Error.Message)))
	}
	content := ""
	for _, choice := range completion.Choices {
		if trimmed := strings.TrimSpace(choice.Message.Content); trimmed != "" {
			content = trimmed
			break
		}
	}
	if content == "" {
		return nil, services.Wrap(services.ErrTransient, "", "infer", "invalid_response", errors.New("empty completion content"))
	}

	var envelope inferEnvelope
	if err := DecodeModelJSON(content, &envelope); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "infer", "invalid_response", err)
	}

	result := &Result{Confidence: defaultConfidence}
	if envelope.Confidence != nil {
		result.Confidence = clampConfidence(*envelope.Confidence)
	}
	if len(envelope.ExtractedData) > 0 && string(envelope.ExtractedData) != "null" {
		result.Payload = envelope.ExtractedData
	} else {
		// Model skipped the envelope; treat the whole object as the payload.
		result.Payload = json.RawMessage(stripFences(content))
	}
	return result, nil
}

func classifyStatus(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return "timeout"
	default:
		return "invalid_response"
	}
}

func classifyTransportError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "timeout"
}

func clampConfidence(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
