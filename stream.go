package pollinations

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/metrics"
)

// streamState is the per-stream state machine: AwaitingFirstChunk until the
// role marker has gone out, Streaming until a finish reason or the [DONE]
// sentinel is seen, then Finished. It is owned by a single stream and never
// reused.
type streamState struct {
	roleEmitted bool
	finished    bool
}

// CreateStream issues a streaming chat completion and returns a channel of
// results. The channel is closed when the stream ends; a transport or
// upstream error is delivered as the final result. Once drained, the
// channel yields nothing further. Cancel the context to abandon the stream
// early.
func (s *CompletionsService) CreateStream(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	c := s.client

	if req == nil {
		return nil, &ConfigurationError{Field: "request", Reason: "request is nil"}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debug("chat stream starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)

	body, err := marshalChatPayload(req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ChatURL, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Accept", "text/event-stream")
			c.applyAuth(httpReq)
			return c.httpClient.Do(httpReq)
		})
		if err != nil {
			metrics.RequestsTotal.WithLabelValues("chat_stream", "transport_error").Inc()
			c.logger.Error("chat stream connect failed",
				zap.String("model", req.Model),
				zap.Error(err),
			)
			results <- StreamResult{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			metrics.RequestsTotal.WithLabelValues("chat_stream", "api_error").Inc()
			results <- StreamResult{Err: c.errorFromResponse(resp, req.Model)}
			return
		}

		if err := c.relayEvents(ctx, resp.Body, results, req.Model); err != nil {
			metrics.RequestsTotal.WithLabelValues("chat_stream", "stream_error").Inc()
			return
		}
		metrics.RequestsTotal.WithLabelValues("chat_stream", "ok").Inc()
	}()

	return results, nil
}

// eventPayload is the wire shape of one SSE data event.
type eventPayload struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		Delta        Delta  `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

var doneSentinel = []byte("[DONE]")

// relayEvents reads the SSE line stream and pushes one shaped chunk per
// valid data event. Malformed events are counted and skipped so one corrupt
// line cannot abort the rest of the stream; read failures are delivered to
// the consumer at the point of failure and returned.
func (c *Client) relayEvents(ctx context.Context, body io.Reader, results chan<- StreamResult, model string) error {
	reader := bufio.NewReader(body)
	st := &streamState{}
	streamID := newCompletionID()
	created := time.Now().Unix()
	chunkCount := 0

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("chat stream cancelled",
				zap.String("model", model),
				zap.Int("chunks", chunkCount),
				zap.Error(ctx.Err()),
			)
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Normal end of stream without an explicit [DONE].
				c.logger.Info("chat stream completed (EOF)",
					zap.String("model", model),
					zap.Int("chunks", chunkCount),
				)
				return nil
			}
			results <- StreamResult{Err: fmt.Errorf("pollinations: read event stream: %w", err)}
			return err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		const prefix = "data: "
		if !bytes.HasPrefix(line, []byte(prefix)) {
			// Ignore comments and other non-data SSE lines.
			continue
		}
		payload := bytes.TrimSpace(line[len(prefix):])

		if bytes.Equal(payload, doneSentinel) {
			c.logger.Info("chat stream received [DONE]",
				zap.String("model", model),
				zap.Int("chunks", chunkCount),
			)
			return nil
		}

		var ev eventPayload
		if err := json.Unmarshal(payload, &ev); err != nil {
			// Availability over strictness: drop the event, keep the stream.
			metrics.StreamDroppedEventsTotal.Inc()
			c.logger.Debug("dropped malformed stream event",
				zap.String("model", model),
				zap.Error(err),
			)
			continue
		}

		chunk := st.shapeChunk(&ev, streamID, created, model)
		chunkCount++
		metrics.StreamChunksTotal.Inc()

		select {
		case <-ctx.Done():
			c.logger.Info("chat stream cancelled while sending chunk",
				zap.String("model", model),
				zap.Int("chunks", chunkCount),
				zap.Error(ctx.Err()),
			)
			return ctx.Err()
		case results <- StreamResult{Chunk: chunk}:
		}

		if st.finished {
			c.logger.Info("chat stream finished",
				zap.String("model", model),
				zap.Int("chunks", chunkCount),
				zap.String("finish_reason", chunk.FinishReason()),
			)
			return nil
		}
	}
}

// shapeChunk converts one wire event into a ChatChunk, emitting the
// assistant role marker on the first chunk only and latching the finished
// state when the event carries a finish reason.
func (st *streamState) shapeChunk(ev *eventPayload, streamID string, created int64, model string) *ChatChunk {
	chunk := &ChatChunk{
		ID:      ev.ID,
		Object:  ev.Object,
		Created: ev.Created,
		Model:   ev.Model,
	}
	if chunk.ID == "" {
		chunk.ID = streamID
	}
	if chunk.Object == "" {
		chunk.Object = "chat.completion.chunk"
	}
	if chunk.Created == 0 {
		chunk.Created = created
	}
	if chunk.Model == "" {
		chunk.Model = model
	}

	if len(ev.Choices) == 0 {
		// Data-bearing event with no choices still yields a chunk so the
		// consumer sees every event the server sent.
		chunk.Choices = []ChunkChoice{{Index: 0}}
	} else {
		chunk.Choices = make([]ChunkChoice, 0, len(ev.Choices))
		for _, ch := range ev.Choices {
			cc := ChunkChoice{
				Index:        ch.Index,
				Delta:        ch.Delta,
				FinishReason: ch.FinishReason,
			}
			cc.Delta.Role = ""
			chunk.Choices = append(chunk.Choices, cc)
			if ch.FinishReason != "" {
				st.finished = true
			}
		}
	}

	if !st.roleEmitted {
		chunk.Choices[0].Delta.Role = RoleAssistant
		st.roleEmitted = true
	}

	return chunk
}
