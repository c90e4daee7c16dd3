package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations"
	"github.com/gpt4free/pollinations/pkg/logging"
)

// imageGenerationRequest is the OpenAI images.generate request body subset
// the gateway accepts.
type imageGenerationRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

// ImageGeneration handles POST /v1/images/generations. The response carries
// the generation URL; no asset bytes pass through the gateway.
func (h *ChatHandler) ImageGeneration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req imageGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	resp, err := h.Client.Images.Generate(ctx, &pollinations.ImageRequest{
		Prompt: req.Prompt,
		Model:  req.Model,
		N:      req.N,
		Size:   req.Size,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}

	logger.Info("image generation served",
		zap.String("model", req.Model),
	)
	writeJSON(w, resp)
}
