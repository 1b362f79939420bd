// Package embedding implements the image embedding port against an HTTP
// vector service. The client rate-limits itself and retries throttled or
// transient responses with bounded exponential backoff.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"filesearch/internal/application/common/retry"
	"filesearch/internal/config"
	"filesearch/internal/port/outbound"
)

const (
	embedPath  = "/v1/embeddings"
	healthPath = "/healthz"
)

// Client calls the embedding service over HTTP.
type Client struct {
	cfg     config.EmbeddingConfig
	http    *http.Client
	limiter *rate.Limiter
	retrier *retry.Executor
}

// retryableEmbedding retries everything except errors the service has
// explicitly classified as permanent.
type retryableEmbedding struct{}

func (retryableEmbedding) IsRetryable(err error) bool {
	var embErr *outbound.EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Retryable
	}
	return true
}

// NewClient builds a rate-limited embedding client.
func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		retrier: retry.NewExecutor(&retry.Config{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  cfg.InitialBackoff,
			MaxDelay:      cfg.MaxBackoff,
			BackoffFactor: 2.0,
			Jitter:        true,
		}, retryableEmbedding{}),
	}
}

type embedRequest struct {
	Model       string `json:"model"`
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedImage returns a vector for the image, retrying throttled and
// transient failures up to the configured budget.
func (c *Client) EmbedImage(ctx context.Context, image []byte, contentType string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:       c.cfg.Model,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	var vector []float32
	err = c.retrier.Execute(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := c.embedOnce(ctx, body)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

func (c *Client) embedOnce(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "TRANSPORT",
			Message:   "request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "TRANSPORT",
			Message:   "failed to read response",
			Retryable: true,
			Cause:     err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, payload)
	}

	var decoded embedResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &outbound.EmbeddingError{
			Code:      "BAD_RESPONSE",
			Message:   "undecodable response body",
			Retryable: false,
			Cause:     err,
		}
	}
	if decoded.Error != nil {
		return nil, &outbound.EmbeddingError{
			Code:      decoded.Error.Code,
			Message:   decoded.Error.Message,
			Retryable: decoded.Error.Code == "RATE_LIMITED" || decoded.Error.Code == "OVERLOADED",
		}
	}
	if len(decoded.Embedding) != c.cfg.Dimensions {
		return nil, &outbound.EmbeddingError{
			Code:    "DIMENSION_MISMATCH",
			Message: fmt.Sprintf("service returned %d dimensions, expected %d", len(decoded.Embedding), c.cfg.Dimensions),
		}
	}
	return decoded.Embedding, nil
}

func statusError(status int, payload []byte) *outbound.EmbeddingError {
	var decoded embedResponse
	code := fmt.Sprintf("HTTP_%d", status)
	message := http.StatusText(status)
	if json.Unmarshal(payload, &decoded) == nil && decoded.Error != nil {
		code = decoded.Error.Code
		message = decoded.Error.Message
	}
	return &outbound.EmbeddingError{
		Code:      code,
		Message:   message,
		Retryable: status == http.StatusTooManyRequests || status >= http.StatusInternalServerError,
	}
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
