// Package pollinations is a client for the Pollinations AI text and image
// generation APIs. It exposes the native convenience surface
// (GenerateText, ImageURL, DownloadImage, model listings) alongside an
// OpenAI-compatible surface (Chat.Completions, Images).
package pollinations

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gpt4free/pollinations/internal/modelcache"
)

// Public endpoints, used when no API key is configured.
const (
	publicTextURL  = "https://text.pollinations.ai"
	publicImageURL = "https://image.pollinations.ai"
	publicChatURL  = "https://text.pollinations.ai/openai"
)

// Authenticated endpoint family (gen.pollinations.ai), used with an API key.
const (
	genTextURL  = "https://gen.pollinations.ai/text"
	genImageURL = "https://gen.pollinations.ai/image"
	genChatURL  = "https://gen.pollinations.ai/v1/chat/completions"
)

type Config struct {
	// APIKey selects the authenticated endpoint family and is sent as a
	// bearer token. Empty means the public endpoints.
	APIKey string

	Timeout     time.Duration // whole-request timeout (default: 600s)
	MaxRetries  int           // connect retry attempts (default: 2)
	BaseBackoff time.Duration // initial retry backoff (default: 100ms)

	// Endpoint overrides, mainly for tests. When empty the endpoint is
	// chosen from APIKey presence.
	TextBaseURL  string
	ImageBaseURL string
	ChatURL      string

	// Model-list cache settings.
	CacheBackend string        // "memory" (default) or "redis"
	CacheTTL     time.Duration // default: 5m
	RedisClient  *redis.Client // required for the redis backend

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// WithDefaults returns a copy of Config with defaults applied and the
// endpoints resolved from APIKey presence.
func (c *Config) WithDefaults() Config {
	cfg := *c

	if cfg.Timeout <= 0 {
		cfg.Timeout = 600 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	if cfg.TextBaseURL == "" {
		if cfg.APIKey != "" {
			cfg.TextBaseURL = genTextURL
		} else {
			cfg.TextBaseURL = publicTextURL
		}
	}
	if cfg.ImageBaseURL == "" {
		if cfg.APIKey != "" {
			cfg.ImageBaseURL = genImageURL
		} else {
			cfg.ImageBaseURL = publicImageURL
		}
	}
	if cfg.ChatURL == "" {
		if cfg.APIKey != "" {
			cfg.ChatURL = genChatURL
		} else {
			cfg.ChatURL = publicChatURL
		}
	}

	cfg.TextBaseURL = strings.TrimRight(cfg.TextBaseURL, "/")
	cfg.ImageBaseURL = strings.TrimRight(cfg.ImageBaseURL, "/")
	cfg.ChatURL = strings.TrimRight(cfg.ChatURL, "/")

	return cfg
}

// Client talks to the Pollinations service. All configuration is read-only
// after construction; a Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	models     modelcache.Store

	Chat   *ChatService
	Images *ImageService
}

// New creates a Client. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if cfg.CacheBackend == "redis" && cfg.RedisClient == nil {
		return nil, &ConfigurationError{Field: "cache", Reason: "redis backend requires a redis client"}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: defaultTransport(cfg),
		}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("pollinations"),
		models: modelcache.New(modelcache.Config{
			Backend: cfg.CacheBackend,
			TTL:     cfg.CacheTTL,
			Prefix:  "pollinations",
		}, cfg.RedisClient),
	}

	c.Chat = &ChatService{Completions: &CompletionsService{client: c}}
	c.Images = &ImageService{client: c}

	return c, nil
}

// defaultTransport creates an HTTP transport with connection pooling and
// reasonable timeouts.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// applyAuth sets the bearer token header when an API key is configured.
func (c *Client) applyAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.models.Close()
}

// serviceErrorBody is the error envelope some endpoints return.
type serviceErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// errorFromResponse turns a non-2xx response into a typed error. A 404 on a
// model-scoped call becomes ModelNotFoundError.
func (c *Client) errorFromResponse(resp *http.Response, model string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode == http.StatusNotFound && model != "" {
		return &ModelNotFoundError{Model: model}
	}

	var svcErr serviceErrorBody
	if err := json.Unmarshal(body, &svcErr); err == nil && svcErr.Error.Message != "" {
		c.logger.Warn("upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", svcErr.Error.Type),
			zap.String("error_message", svcErr.Error.Message),
		)
		return &APIError{StatusCode: resp.StatusCode, Message: svcErr.Error.Message}
	}

	c.logger.Warn("upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(body), 200)),
	)
	return &APIError{StatusCode: resp.StatusCode, Message: truncate(strings.TrimSpace(string(body)), 200)}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
