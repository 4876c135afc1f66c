// Package retry wraps fallible operations with bounded exponential
// backoff and error classification tuned for AI backend calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures the backoff schedule and which failures retry.
type Policy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Factor            float64
	RetryableStatuses map[int]bool
}

// DefaultPolicy matches the broker's stock behavior: 3 retries, 1s
// initial delay doubling to a 10s cap, ±20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Factor:       2,
		RetryableStatuses: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

// StatusError is an error carrying an HTTP status code, so backends can
// report status without the classifier scraping message text.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Message)
}

var statusPattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)

var networkTerms = []string{
	"network", "timeout", "timed out", "connection", "econnreset",
	"econnrefused", "socket hang up", "temporarily unavailable", "dns",
	"unreachable", "broken pipe",
}

// Size and token-limit failures are permanent even when their message
// also mentions the network; retrying a too-large request never helps.
var limitTerms = []string{
	"token limit", "tokens exceed", "too many tokens", "context length",
	"maximum context", "content too large", "payload too large",
	"request entity too large", "size limit",
}

// Retryable classifies err under the policy.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return p.RetryableStatuses[se.Code]
	}

	text := strings.ToLower(err.Error())
	for _, term := range limitTerms {
		if strings.Contains(text, term) {
			return false
		}
	}
	for _, m := range statusPattern.FindAllString(text, -1) {
		code, _ := strconv.Atoi(m)
		if p.RetryableStatuses[code] {
			return true
		}
	}
	for _, term := range networkTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// Do runs op, retrying classified-retryable failures up to
// p.MaxRetries additional attempts. The last error is returned once
// attempts are exhausted; non-retryable errors propagate immediately.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Factor
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !p.Retryable(err) || attempt >= p.MaxRetries {
			return zero, err
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
