package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

const maxHTTPRetries = 3

// retryableError indicates a transient failure that can be retried.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// transientStatus reports whether an API response is worth another attempt.
// Everything else, auth and quota 4xx included, surfaces to the caller
// immediately.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// retryDelay grows quadratically per attempt plus up to 50% jitter.
func retryDelay(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * time.Second
	return base + time.Duration(rand.Int63n(int64(base/2 + 1)))
}

// doWithRetry executes an HTTP request, rebuilding it via buildReq for each
// attempt, and retries transient failures (network errors, 5xx, 429) with
// backoff. The context bounds the whole exchange, backoff sleeps included.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxHTTPRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed after %d retries: %w", maxHTTPRetries, err)
			logger.Warn("request failed", "attempt", attempt+1, "err", err)
			continue
		}

		if transientStatus(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server error after %d retries: %w", maxHTTPRetries,
				&retryableError{statusCode: resp.StatusCode, body: string(body)})
			logger.Warn("server error", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}
