package pollinations

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/metrics"
)

// GenerateText is the native text-generation call: one prompt in, the
// generated text out. params may be nil.
func (c *Client) GenerateText(parentCtx context.Context, prompt string, params *TextParams) (string, error) {
	start := time.Now()

	req, err := nativeChatRequest(prompt, params)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	body, err := marshalChatPayload(req, false)
	if err != nil {
		return "", err
	}

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.postJSON(ctx, c.cfg.TextBaseURL, body)
	})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("text", "transport_error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RequestsTotal.WithLabelValues("text", "api_error").Inc()
		return "", c.errorFromResponse(resp, req.Model)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("text", "transport_error").Inc()
		return "", err
	}

	metrics.RequestsTotal.WithLabelValues("text", "ok").Inc()
	c.logger.Info("text request completed",
		zap.String("model", req.Model),
		zap.Duration("duration", time.Since(start)),
	)
	return string(raw), nil
}

// GenerateTextStream is the streaming form of GenerateText. The returned
// channel follows the same contract as Chat.Completions.CreateStream.
func (c *Client) GenerateTextStream(ctx context.Context, prompt string, params *TextParams) (<-chan StreamResult, error) {
	req, err := nativeChatRequest(prompt, params)
	if err != nil {
		return nil, err
	}
	return c.Chat.Completions.CreateStream(ctx, req)
}

// nativeChatRequest folds the native prompt/system parameters into a chat
// request the way the service expects them.
func nativeChatRequest(prompt string, params *TextParams) (*ChatRequest, error) {
	if prompt == "" {
		return nil, &ConfigurationError{Field: "prompt", Reason: "prompt must not be empty"}
	}
	if params == nil {
		params = &TextParams{}
	}

	messages := make([]ChatMessage, 0, 2)
	if params.System != "" {
		messages = append(messages, ChatMessage{Role: RoleSystem, Content: params.System})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})

	return &ChatRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Seed:        params.Seed,
		JSONMode:    params.JSONMode,
	}, nil
}
