package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const maxRetries = 3

// retryableError carries a response the caller may see again on retry.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("status %d from backend: %s", e.statusCode, e.body)
}

// transientStatus reports whether a status code is worth retrying.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// backoffDelay grows quadratically with jitter. A Retry-After hint from the
// backend overrides the computed delay when it is longer.
func backoffDelay(attempt int, hint time.Duration) time.Duration {
	quad := time.Second * time.Duration(attempt*attempt)
	delay := quad + time.Duration(rand.Int64N(int64(quad/2+1)))
	if hint > delay {
		return hint
	}
	return delay
}

// parseRetryAfter reads a seconds-valued Retry-After header. Zero when
// absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// DoWithRetry executes an HTTP request with exponential backoff for
// transient failures: network errors, 5xx responses, and 429 rate limits.
// buildReq is called once per attempt so the request body can be re-created.
func DoWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error
	var retryAfter time.Duration

	for attempt := range maxRetries + 1 {
		if attempt > 0 {
			delay := backoffDelay(attempt, retryAfter)
			logger.Warn("retry scheduled", "attempt", attempt+1, "wait", delay)
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
			lastErr = err
			retryAfter = 0
			if attempt < maxRetries {
				logger.Warn("request error, retrying", "error", err)
				continue
			}
			return nil, fmt.Errorf("gave up after %d retries: %w", maxRetries, err)
		}

		if transientStatus(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			retryAfter = parseRetryAfter(resp)
			if attempt < maxRetries {
				logger.Warn("backend error, retrying",
					"status", resp.StatusCode, "body", string(body))
				continue
			}
			return nil, fmt.Errorf("backend error after %d retries: %w", maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
