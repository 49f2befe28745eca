package gateway

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy retries outbound deliveries (reminder notifications) with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows 3 attempts starting at 1s, doubling up to 30s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var (
	transientMarkers = []string{
		"connection refused",
		"connection reset",
		"timeout",
		"too many requests",
		"temporary failure",
	}
	permanentMarkers = []string{
		"invalid",
		"unauthorized",
		"forbidden",
		"chat not found",
		"no delivery target",
	}
	// Telegram's flood control reply: "Too Many Requests: retry after 7".
	retryAfterRe = regexp.MustCompile(`retry after (\d+)`)
)

// ShouldRetry reports whether attempt (1-indexed) may be followed by another.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt <= p.MaxAttempts && retryable(err)
}

// retryable classifies err. Permanent-wrapped errors, cancellation and
// auth or addressing failures are final; transient network errors, rate
// limits and anything unrecognised are retried.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, transientMarkers) {
		return true
	}
	return !containsAny(msg, permanentMarkers)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// NextDelay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	return min(time.Duration(d), p.MaxDelay)
}

// delayAfter honours a server-provided "retry after N" hint when it asks
// for longer than the backoff, still capped at MaxDelay.
func (p *RetryPolicy) delayAfter(err error, attempt int) time.Duration {
	d := p.NextDelay(attempt)
	m := retryAfterRe.FindStringSubmatch(strings.ToLower(err.Error()))
	if m == nil {
		return d
	}
	secs, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return d
	}
	return min(max(d, time.Duration(secs)*time.Second), p.MaxDelay)
}

// Execute calls fn until it succeeds, fails permanently, runs out of
// attempts or ctx ends. It returns fn's last error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) || attempt == p.MaxAttempts {
			return err
		}
		t := time.NewTimer(p.delayAfter(err, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
