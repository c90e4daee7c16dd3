package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations"
	"github.com/gpt4free/pollinations/pkg/logging"
)

// ChatHandler serves /v1/chat/completions backed by the Pollinations client.
type ChatHandler struct {
	Client *pollinations.Client
}

func NewChatHandler(client *pollinations.Client) *ChatHandler {
	return &ChatHandler{Client: client}
}

// ChatCompletion handles POST /v1/chat/completions, proxying either a
// complete response or an SSE stream of chunks.
func (h *ChatHandler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req pollinations.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Stream {
		h.streamCompletion(w, r, &req)
		return
	}

	resp, err := h.Client.Chat.Completions.Create(ctx, &req)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("chat completion proxied",
		zap.String("model", req.Model),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	writeJSON(w, resp)
}

// streamCompletion relays chunks to the caller as server-sent events.
func (h *ChatHandler) streamCompletion(w http.ResponseWriter, r *http.Request, req *pollinations.ChatRequest) {
	ctx := r.Context()
	logger := logging.L(ctx)

	stream, err := h.Client.Chat.Completions.CreateStream(ctx, req)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		logger.Error("sse unsupported", zap.Error(err))
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chunkCount := 0
	for res := range stream {
		if res.Err != nil {
			// Headers are already out; the best we can do is report the
			// failure in-band and stop.
			logger.Error("stream relay failed",
				zap.Int("chunks", chunkCount),
				zap.Error(res.Err),
			)
			_ = sse.writeEvent([]byte(`{"error":"upstream_stream_error"}`))
			return
		}

		payload, err := json.Marshal(res.Chunk)
		if err != nil {
			logger.Warn("marshal chunk failed", zap.Error(err))
			continue
		}
		if err := sse.writeEvent(payload); err != nil {
			logger.Warn("client went away", zap.Error(err))
			return
		}
		chunkCount++
	}

	_ = sse.writeDone()
	logger.Info("stream relay completed", zap.Int("chunks", chunkCount))
}

// writeError maps client errors onto HTTP statuses.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusBadGateway

	var cfgErr *pollinations.ConfigurationError
	var notFound *pollinations.ModelNotFoundError
	var apiErr *pollinations.APIError

	switch {
	case errors.As(err, &cfgErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
	}

	logger.Warn("request failed", zap.Int("status", status), zap.Error(err))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": err.Error()},
	})
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
