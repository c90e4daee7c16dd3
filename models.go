package pollinations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/modelcache"
)

const (
	serviceImage = "image"
	serviceText  = "text"
)

// ImageModels lists the available image generation models. Results are
// served from the client-owned cache until its TTL expires or forceRefresh
// is set.
func (c *Client) ImageModels(ctx context.Context, forceRefresh bool) ([]string, error) {
	raw, err := c.fetchModels(ctx, serviceImage, c.cfg.ImageBaseURL+"/models", forceRefresh)
	if err != nil {
		return nil, err
	}

	var models []string
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("pollinations: decode image model list: %w", err)
	}
	return models, nil
}

// TextModels lists the available text generation models.
func (c *Client) TextModels(ctx context.Context, forceRefresh bool) ([]TextModel, error) {
	raw, err := c.fetchModels(ctx, serviceText, c.cfg.TextBaseURL+"/models", forceRefresh)
	if err != nil {
		return nil, err
	}

	var models []TextModel
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("pollinations: decode text model list: %w", err)
	}
	return models, nil
}

// fetchModels returns the raw model listing for a service, consulting the
// cache first. Refresh happens only here, never in the background.
func (c *Client) fetchModels(parentCtx context.Context, service, target string, forceRefresh bool) ([]byte, error) {
	if !forceRefresh {
		entry, ok, err := c.models.Get(parentCtx, service)
		if err != nil {
			// Cache is best effort; log and fall through to the fetch.
			c.logger.Warn("model cache get failed",
				zap.String("service", service),
				zap.Error(err),
			)
		} else if ok {
			c.logger.Debug("model list served from cache",
				zap.String("service", service),
				zap.Time("fetched_at", entry.FetchedAt),
			)
			return entry.Payload, nil
		}
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		c.applyAuth(httpReq)
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.errorFromResponse(resp, "")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pollinations: read model list: %w", err)
	}

	if err := c.models.Set(parentCtx, service, modelcache.Entry{
		Payload:   raw,
		FetchedAt: time.Now(),
	}); err != nil {
		c.logger.Warn("model cache set failed",
			zap.String("service", service),
			zap.Error(err),
		)
	}

	return raw, nil
}

// validateImageModel checks a model name against the advertised image
// model list.
func (c *Client) validateImageModel(ctx context.Context, model string) error {
	available, err := c.ImageModels(ctx, false)
	if err != nil {
		return err
	}
	for _, m := range available {
		if m == model {
			return nil
		}
	}
	return &ModelNotFoundError{Model: model, Available: available}
}
