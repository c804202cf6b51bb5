package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Fallback produces a substitute response when every attempt failed.
type Fallback func(ctx context.Context, req *http.Request, err error) (*http.Response, error)

// HTTPClient wraps an http.Client with retries, exponential backoff and
// an optional circuit breaker. Channel push clients share one instance
// per remote host.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Fallback    Fallback
}

// NewHTTPClient returns a wrapped client with conservative defaults.
// Outbound requests carry client spans via otelhttp.
func NewHTTPClient(breaker *Breaker) *HTTPClient {
	return &HTTPClient{
		Client:      tracedClient(),
		Breaker:     breaker,
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
		Timeout:     10 * time.Second,
	}
}

func tracedClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Do issues the request with retries. A response with status >= 500 is
// treated as a failure and retried; 4xx responses return immediately
// since repeating them cannot help.
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.Client == nil {
		c.Client = tracedClient()
	}
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	body, err := ensureReplayableBody(req)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.Breaker != nil && !c.Breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}

		resp, err := c.doOnce(ctx, req, body)
		success := err == nil && resp.StatusCode < http.StatusInternalServerError
		if c.Breaker != nil {
			c.Breaker.Report(ctx, success)
		}
		if success {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("resilience: upstream returned %d", resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(Backoff(c.BaseBackoff, attempt, c.Jitter)):
		}
	}

	if c.Fallback != nil {
		return c.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (c *HTTPClient) doOnce(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	attempt := cloneRequestWithContext(ctx, req, body)
	return c.Client.Do(attempt)
}

// ensureReplayableBody drains the body once so retries can resend it.
func ensureReplayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func cloneRequestWithContext(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
