package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/domain"
	"github.com/finqa-labs/finqa/internal/metrics"
)

// Client is a model provider using the OpenAI-compatible API.
// It implements both domain.Embedder and domain.Completer.
type Client struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
	dimensions     int
	provider       string
	logger         *zap.Logger
}

// Config holds the model provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimensions     int
	Provider       string
	Logger         *zap.Logger
}

// New creates an OpenAI-compatible model client.
func New(cfg *Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		chatModel:      cfg.ChatModel,
		dimensions:     cfg.Dimensions,
		provider:       cfg.Provider,
		logger:         cfg.Logger,
	}
}

// Embed implements domain.Embedder. The whole batch goes out in one request
// and comes back in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          c.embeddingModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	model := string(c.embeddingModel)
	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues(c.provider, model, "embed", "error").Inc()
		return nil, parseAPIError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		metrics.ModelRequestsTotal.WithLabelValues(c.provider, model, "embed", "error").Inc()
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrModelCall)
	}

	metrics.ModelRequestsTotal.WithLabelValues(c.provider, model, "embed", "success").Inc()
	metrics.ModelRequestDuration.WithLabelValues(c.provider, model, "embed").Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.ModelTokensTotal.WithLabelValues(c.provider, model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.ModelTokensTotal.WithLabelValues(c.provider, model, "total").Add(float64(resp.Usage.TotalTokens))
	}

	// Restore input order by Index: the API does not guarantee ordering.
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range: %w", d.Index, domain.ErrModelCall)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// ChatJSON implements domain.Completer. The user message instructs the model
// to answer with JSON matching schema; a non-JSON reply gets up to two
// brace-extraction repair attempts before being wrapped as {"raw": content}.
func (c *Client) ChatJSON(ctx context.Context, system, user, schema string) (map[string]any, error) {
	prompt := fmt.Sprintf(
		"You MUST respond ONLY with valid JSON. Schema: %s. If unsure, output an empty JSON object matching schema keys.\nUser Query: %s",
		schema, user,
	)

	req := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues(c.provider, c.chatModel, "chat", "error").Inc()
		return nil, parseAPIError("chat", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ModelRequestsTotal.WithLabelValues(c.provider, c.chatModel, "chat", "error").Inc()
		return nil, fmt.Errorf("empty chat response: %w", domain.ErrModelCall)
	}

	metrics.ModelRequestsTotal.WithLabelValues(c.provider, c.chatModel, "chat", "success").Inc()
	metrics.ModelRequestDuration.WithLabelValues(c.provider, c.chatModel, "chat").Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.ModelTokensTotal.WithLabelValues(c.provider, c.chatModel, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.ModelTokensTotal.WithLabelValues(c.provider, c.chatModel, "total").Add(float64(resp.Usage.TotalTokens))
	}

	return parseJSONContent(resp.Choices[0].Message.Content), nil
}

// parseJSONContent parses the model reply as a JSON object. On failure it
// retries twice on the substring between the first '{' and the last '}',
// then gives up and returns the raw text under the "raw" key.
func parseJSONContent(content string) map[string]any {
	repaired := false
	for range 2 {
		var out map[string]any
		if err := json.Unmarshal([]byte(content), &out); err == nil {
			if repaired {
				metrics.ModelRepairsTotal.Inc()
			}
			return out
		}
		open := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if open < 0 || end <= open {
			break
		}
		content = content[open : end+1]
		repaired = true
	}
	return map[string]any{"raw": content}
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrModelCall for correct 502 mapping.
func parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, reqErr.HTTPStatusCode, string(reqErr.Body), domain.ErrModelCall)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			op, apiErr.HTTPStatusCode, apiErr.Message, domain.ErrModelCall)
	}

	return fmt.Errorf("%s request failed: %w", op, domain.ErrModelCall)
}
