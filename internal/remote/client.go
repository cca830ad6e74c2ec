package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/engine"
)

var ErrUnavailable = errors.New("recognition service unavailable")

// Config holds the configuration for the recognition service client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns a Config pointing at a local recognition service
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5005",
		Timeout: 60 * time.Second,
	}
}

// Client is an engine.Transport that forwards requests to a recognition service over HTTP.
// The service reads the image and gallery from the shared paths in the request.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     *zap.Logger
}

func NewClient(config Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
		logger: logger.Named("remote"),
	}
}

// Call sends POST /recognize or POST /enroll. Requests are not retried:
// a repeated enroll could add the same face twice.
func (c *Client) Call(ctx context.Context, req engine.Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/" + string(req.Op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("recognition service replied",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(respBody)),
	)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("recognition service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Health calls GET /health and reports whether the service answered with 2xx.
func (c *Client) Health(ctx context.Context) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
