package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	maxRetryAfter = 5 * time.Minute
	maxBackoff    = 60 * time.Second
)

// hintedBackOff uses a server-provided wait, when there is one, in place of
// the next exponential interval. The retry budget is still consumed.
type hintedBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > 0 {
		next, b.hint = b.hint, 0
	}
	return next
}

func (c *client) retryPolicy() *hintedBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.BaseBackoff
	exp.RandomizationFactor = 1
	exp.MaxInterval = maxBackoff
	exp.MaxElapsedTime = 0
	return &hintedBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(c.cfg.MaxRetries))}
}

// doWithRetry makes up to MaxRetries+1 attempts. Transient network errors,
// 408, 429 and 5xx are retried; Retry-After is honored. Any other response,
// error or context cancellation ends the loop.
func (c *client) doWithRetry(
	ctx context.Context,
	body []byte,
	do func(ctx context.Context, body []byte) (*http.Response, error),
) (*http.Response, error) {
	policy := c.retryPolicy()
	attempts := 0

	op := func() (*http.Response, error) {
		attempts++
		start := time.Now()
		resp, err := do(ctx, body)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Debug("embedding upstream attempt",
			zap.Int("attempt", attempts),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)

		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !isTransientNetError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		case !shouldRetryStatus(status):
			return resp, nil
		default:
			// Read Retry-After before the body is closed.
			policy.hint = parseRetryAfter(resp)
			if resp.Body != nil {
				resp.Body.Close()
			}
			return nil, fmt.Errorf("upstream status %d", status)
		}
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Info("retrying embedding request", zap.Duration("wait", wait), zap.Error(err))
	}

	resp, err := backoff.RetryNotifyWithData(op, backoff.WithContext(policy, ctx), notify)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil || attempts <= c.cfg.MaxRetries {
		return nil, err
	}

	c.logger.Warn("embedding request exhausted all retries",
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return nil, fmt.Errorf("embedclient: max retries (%d) exceeded: %w", attempts, err)
}

// isTransientNetError reports whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial", "read", "write":
			return true
		}
	}

	// Wrapped errors sometimes only keep the message.
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "temporary failure"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func shouldRetryStatus(status int) bool {
	return status == 0 ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= 500 && status <= 599
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, capped at
// maxRetryAfter. Returns 0 when absent or invalid.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter)
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}
