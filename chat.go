package pollinations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/metrics"
)

// ChatService groups the OpenAI-compatible chat surface.
type ChatService struct {
	Completions *CompletionsService
}

type CompletionsService struct {
	client *Client
}

// Create issues a non-streaming chat completion. The response body may be a
// full completion object or, on the public endpoint, bare generated text;
// both are shaped into a ChatCompletion.
func (s *CompletionsService) Create(parentCtx context.Context, req *ChatRequest) (*ChatCompletion, error) {
	c := s.client
	start := time.Now()

	if req == nil {
		return nil, &ConfigurationError{Field: "request", Reason: "request is nil"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debug("chat request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	body, err := marshalChatPayload(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.postJSON(ctx, c.cfg.ChatURL, body)
	})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("chat", "transport_error").Inc()
		c.logger.Error("chat request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RequestsTotal.WithLabelValues("chat", "api_error").Inc()
		return nil, c.errorFromResponse(resp, req.Model)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("chat", "transport_error").Inc()
		return nil, err
	}

	out := shapeCompletion(raw, req.Model)
	metrics.RequestsTotal.WithLabelValues("chat", "ok").Inc()

	c.logger.Info("chat request completed",
		zap.String("model", out.Model),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// marshalChatPayload encodes the outbound request body, forcing the stream
// flag and folding the JSON-mode shorthand into response_format.
func marshalChatPayload(req *ChatRequest, stream bool) ([]byte, error) {
	payload := *req
	payload.Stream = stream
	if payload.JSONMode && payload.ResponseFormat == nil {
		payload.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return json.Marshal(&payload)
}

// postJSON builds and issues one POST attempt.
func (c *Client) postJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.applyAuth(httpReq)
	return c.httpClient.Do(httpReq)
}

// shapeCompletion wraps a complete response body into the chat-completion
// schema. A body that is not a completion object (the public endpoint
// answers with plain text) becomes a single assistant message with finish
// reason "stop".
func shapeCompletion(raw []byte, model string) *ChatCompletion {
	var out ChatCompletion
	if err := json.Unmarshal(raw, &out); err == nil && len(out.Choices) > 0 {
		if out.ID == "" {
			out.ID = newCompletionID()
		}
		if out.Object == "" {
			out.Object = "chat.completion"
		}
		if out.Created == 0 {
			out.Created = time.Now().Unix()
		}
		if out.Model == "" {
			out.Model = model
		}
		for i := range out.Choices {
			if out.Choices[i].Message.Role == "" {
				out.Choices[i].Message.Role = RoleAssistant
			}
			if out.Choices[i].FinishReason == "" {
				out.Choices[i].FinishReason = FinishStop
			}
		}
		return &out
	}

	return &ChatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:    RoleAssistant,
					Content: strings.TrimRight(string(raw), "\n"),
				},
				FinishReason: FinishStop,
			},
		},
	}
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
