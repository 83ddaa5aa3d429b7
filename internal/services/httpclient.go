package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trobanga/hermes/internal/lib"
)

// HTTPClient wraps the standard http.Client with retry logic and configuration.
// Transient statuses (408/429/5xx) and network errors are retried with
// exponential backoff; permanent error responses are returned to the caller
// so it can classify the body.
type HTTPClient struct {
	client *http.Client
	policy lib.RetryPolicy
	logger *lib.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry policy
func NewHTTPClient(timeout time.Duration, policy lib.RetryPolicy, logger *lib.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		policy: policy,
		logger: logger,
	}
}

// PostJSON performs an HTTP POST with a JSON body and optional extra headers
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.Do(req)
}

// Do executes an HTTP request, retrying transient failures per the policy
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var lastErr error

	// Request bodies can only be read once, keep a copy for retries
	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 && bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		lib.LogServiceCall(c.logger, req.URL.Host, req.URL.Path, req.Method)

		startTime := time.Now()
		resp, lastErr = c.client.Do(req)
		duration := time.Since(startTime)

		if lastErr == nil {
			lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)

			if resp.StatusCode < 400 || !lib.IsTransientHTTPStatus(resp.StatusCode) {
				// Success, or a permanent error the caller must classify
				return resp, nil
			}

			statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			lastErr = statusErr
			_ = resp.Body.Close()

			if attempt == c.policy.MaxAttempts-1 {
				break
			}
			lib.LogRetry(c.logger, req.URL.String(), attempt, c.policy.MaxAttempts, statusErr)
		} else {
			if !lib.IsNetworkError(lastErr) {
				return nil, lastErr
			}
			if attempt == c.policy.MaxAttempts-1 {
				break
			}
			lib.LogRetry(c.logger, req.URL.String(), attempt, c.policy.MaxAttempts, lastErr)
		}

		select {
		case <-req.Context().Done():
			return nil, fmt.Errorf("request canceled: %w", req.Context().Err())
		case <-time.After(c.policy.Backoff(attempt)):
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}
