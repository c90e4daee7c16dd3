package pollinations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/metrics"
)

// ImageService is the OpenAI-compatible image surface.
type ImageService struct {
	client *Client
}

// ImageRequest enumerates every option of the image endpoint. Width/Height
// and Size ("WxH") are alternatives; Size wins when both are set.
type ImageRequest struct {
	Prompt string
	Model  string
	Width  int
	Height int
	Size   string
	Seed   *int64
	N      int // only 0 or 1 accepted

	NoLogo         bool
	Private        bool
	Enhance        bool
	NegativePrompt string
	Quality        string // "low", "medium", "high" or "hd"
	Transparent    bool
	GuidanceScale  float64
	NoFeed         bool
	Safe           bool
	Image          string // reference image URL(s) for image-to-image

	// Video-model options.
	Duration    int
	AspectRatio string // "16:9" or "9:16"
	Audio       bool

	// ValidateModel checks the model against the advertised list before
	// building the URL.
	ValidateModel bool
}

type ImageData struct {
	URL string `json:"url"`
}

// ImageResponse mirrors the images.generate response schema. Data always
// holds exactly one entry.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageURL builds the generation URL for a request. This is a pure
// transform: the URL itself is the generated asset, no network call is
// made here.
func (c *Client) ImageURL(req *ImageRequest) (string, error) {
	if req == nil || req.Prompt == "" {
		return "", &ConfigurationError{Field: "prompt", Reason: "prompt must not be empty"}
	}

	width, height, err := req.dimensions()
	if err != nil {
		return "", err
	}

	// The authenticated endpoint takes /{prompt}, the public one /prompt/{prompt}.
	base := c.cfg.ImageBaseURL + "/"
	if c.cfg.APIKey == "" {
		base += "prompt/"
	}
	target := base + url.PathEscape(req.Prompt)

	q := url.Values{}
	if req.Model != "" {
		q.Set("model", req.Model)
	}
	if width > 0 {
		q.Set("width", strconv.Itoa(width))
	}
	if height > 0 {
		q.Set("height", strconv.Itoa(height))
	}
	if req.Seed != nil {
		q.Set("seed", strconv.FormatInt(*req.Seed, 10))
	}
	if req.NoLogo {
		q.Set("nologo", "true")
	}
	if req.Private {
		q.Set("private", "true")
	}
	if req.Enhance {
		q.Set("enhance", "true")
	}
	if req.NegativePrompt != "" {
		q.Set("negative_prompt", req.NegativePrompt)
	}
	if req.Quality != "" {
		q.Set("quality", req.Quality)
	}
	if req.Transparent {
		q.Set("transparent", "true")
	}
	if req.GuidanceScale > 0 {
		q.Set("guidance_scale", strconv.FormatFloat(req.GuidanceScale, 'f', -1, 64))
	}
	if req.NoFeed {
		q.Set("nofeed", "true")
	}
	if req.Safe {
		q.Set("safe", "true")
	}
	if req.Image != "" {
		q.Set("image", req.Image)
	}
	if req.Duration > 0 {
		q.Set("duration", strconv.Itoa(req.Duration))
	}
	if req.AspectRatio != "" {
		q.Set("aspectRatio", req.AspectRatio)
	}
	if req.Audio {
		q.Set("audio", "true")
	}

	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	return target, nil
}

// Generate shapes an image request into the images.generate response
// schema. The service produces one asset per prompt, so requesting more
// than one is a configuration error.
func (s *ImageService) Generate(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	c := s.client

	if req != nil && req.N > 1 {
		return nil, &ConfigurationError{Field: "n", Reason: "only n=1 is supported"}
	}
	if req != nil && req.Model != "" && req.ValidateModel {
		if err := c.validateImageModel(ctx, req.Model); err != nil {
			return nil, err
		}
	}

	target, err := c.ImageURL(req)
	if err != nil {
		return nil, err
	}

	metrics.RequestsTotal.WithLabelValues("image", "ok").Inc()
	return &ImageResponse{
		Created: time.Now().Unix(),
		Data:    []ImageData{{URL: target}},
	}, nil
}

// DownloadImage generates an image and persists it to outputPath,
// returning the path written.
func (c *Client) DownloadImage(parentCtx context.Context, req *ImageRequest, outputPath string) (string, error) {
	if outputPath == "" {
		return "", &ConfigurationError{Field: "output_path", Reason: "output path must not be empty"}
	}

	target, err := c.ImageURL(req)
	if err != nil {
		return "", err
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
		metrics.RequestsTotal.WithLabelValues("image", "transport_error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RequestsTotal.WithLabelValues("image", "api_error").Inc()
		return "", c.errorFromResponse(resp, req.Model)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("pollinations: read image body: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("pollinations: save image to %s: %w", outputPath, err)
	}

	c.logger.Info("image downloaded",
		zap.String("path", outputPath),
		zap.Int("bytes", len(data)),
	)
	return outputPath, nil
}

// dimensions resolves Width/Height, letting a "WxH" Size override them.
func (r *ImageRequest) dimensions() (int, int, error) {
	if r.Size == "" {
		return r.Width, r.Height, nil
	}

	w, h, ok := strings.Cut(strings.ToLower(r.Size), "x")
	if ok {
		width, werr := strconv.Atoi(strings.TrimSpace(w))
		height, herr := strconv.Atoi(strings.TrimSpace(h))
		if werr == nil && herr == nil && width > 0 && height > 0 {
			return width, height, nil
		}
	}
	return 0, 0, &ConfigurationError{Field: "size", Reason: fmt.Sprintf("expected WxH, got %q", r.Size)}
}
