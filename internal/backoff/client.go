// Package backoff 实现了带重试与指数退避的下游 HTTP 请求执行器
package backoff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	wait "github.com/cenkalti/backoff/v4"

	"github.com/faasify-official/websocket-server/internal/logger"
)

const maxResponseBytes = 1 << 20

type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

type Response struct {
	Status int
	Body   []byte
}

// StatusError 表示下游返回的非 2xx 状态
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned status %d", e.Status)
}

// Retryable reports whether the status indicates a server-side fault.
// Client faults (4xx) must surface immediately without another attempt.
func (e *StatusError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError
}

// ExhaustedError 表示所有重试均失败，携带最后一次的原因
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("downstream call failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Client executes downstream requests with bounded retries, exponential
// delay between attempts and a per-attempt timeout.
type Client struct {
	http *http.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Client{
		http: &http.Client{},
		cfg:  cfg,
	}
}

// Do issues the request, retrying server faults and network failures.
// A 4xx response is returned together with a *StatusError without retry.
func (c *Client) Do(ctx context.Context, method string, url string, headers map[string]string, body []byte) (*Response, error) {
	schedule := wait.NewExponentialBackOff()
	schedule.InitialInterval = c.cfg.BaseDelay
	schedule.MaxInterval = c.cfg.MaxDelay
	schedule.MaxElapsedTime = 0
	schedule.RandomizationFactor = 0.1

	policy := wait.WithContext(wait.WithMaxRetries(schedule, uint64(c.cfg.MaxAttempts-1)), ctx)

	var resp *Response
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		result, err := c.attempt(ctx, method, url, headers, body)
		if err != nil {
			lastErr = err
			logger.WarnF("%s %s attempt %d/%d failed, details: %v", method, url, attempts, c.cfg.MaxAttempts, err)
			return err
		}

		if result.Status >= http.StatusBadRequest {
			statusErr := &StatusError{Status: result.Status}
			lastErr = statusErr
			if !statusErr.Retryable() {
				// 客户端错误不重试，直接上抛
				resp = result
				return wait.Permanent(statusErr)
			}
			logger.WarnF("%s %s attempt %d/%d failed, details: %v", method, url, attempts, c.cfg.MaxAttempts, statusErr)
			return statusErr
		}

		resp = result
		return nil
	}

	err := wait.Retry(operation, policy)
	if err == nil {
		return resp, nil
	}

	var statusErr *StatusError
	if resp != nil && errors.As(err, &statusErr) && !statusErr.Retryable() {
		return resp, statusErr
	}
	return nil, &ExhaustedError{Attempts: attempts, Cause: lastErr}
}

func (c *Client) attempt(ctx context.Context, method string, url string, headers map[string]string, body []byte) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("error occured while building request, details: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("error occured while reading response body, details: %v", err)
	}

	logger.DebugF("%s %s -> %d (%v)", method, url, httpResp.StatusCode, elapsed)
	return &Response{Status: httpResp.StatusCode, Body: data}, nil
}
