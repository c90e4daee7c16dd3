package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/pkg/logging"
)

type modelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ListModels handles GET /v1/models, answering the OpenAI model-list shape
// from the text model listing. ?refresh=true bypasses the cache.
func (h *ChatHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	force := r.URL.Query().Get("refresh") == "true"

	models, err := h.Client.TextModels(ctx, force)
	if err != nil {
		writeError(w, logger, err)
		return
	}

	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(models))}
	for _, m := range models {
		out.Data = append(out.Data, modelEntry{ID: m.Name, Object: "model"})
	}

	logger.Info("model list served",
		zap.Int("models", len(out.Data)),
		zap.Bool("forced_refresh", force),
	)
	writeJSON(w, out)
}
