// Package retry wraps outbound calls to external APIs with classification-aware
// retries and exponential backoff with jitter.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	apperrors "github.com/allisson/syncbridge/internal/errors"
)

// Policy configures the retry behavior of a Caller.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the backoff delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff delay before jitter is applied.
	MaxDelay time.Duration
}

// DefaultPolicy returns the retry policy used for all remote systems:
// 3 retries, 1s base delay, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
		MaxDelay:   10000 * time.Millisecond,
	}
}

// Attempt is the ephemeral record of one call attempt. It exists only for the
// lifetime of one Do invocation and is surfaced through Error when all
// attempts are exhausted.
type Attempt struct {
	// Number is the 1-based attempt number.
	Number int
	// Delay is the backoff delay that preceded this attempt (zero for the first).
	Delay time.Duration
	// Err is the attempt's failure, nil on success.
	Err error
	// Retryable is the classification verdict for Err.
	Retryable bool
}

// Error is returned when a call fails terminally, either because the last
// error was not retryable or because all attempts were exhausted.
type Error struct {
	// Attempts is the total number of attempts performed.
	Attempts int
	// Delays lists the backoff delay applied before each retry.
	Delays []time.Duration
	// Messages lists each attempt's error message in order.
	Messages []string
	// Retryable is the classification verdict for the final error.
	Retryable bool
	// Last is the final attempt's error.
	Last error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf(
		"call failed after %d attempt(s) (retryable=%t): %s [attempt errors: %s]",
		e.Attempts, e.Retryable, e.Last, strings.Join(e.Messages, "; "),
	)
}

// Unwrap exposes the final error so callers can classify with errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Last
}

// Caller executes operations with retries. Safe for concurrent use.
type Caller struct {
	policy Policy
	logger *slog.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller with the given policy.
func NewCaller(policy Policy, logger *slog.Logger) *Caller {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy().BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy().MaxDelay
	}
	return &Caller{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Do executes op, retrying on retryable failures per the policy. On terminal
// failure it returns an *Error carrying per-attempt metadata. The per-call
// wall-clock budget is enforced by the caller through ctx cancellation.
func (c *Caller) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	var delays []time.Duration
	var messages []string

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		retryable := apperrors.Retryable(err)
		messages = append(messages, err.Error())

		if !retryable || attempt >= c.policy.MaxRetries {
			return &Error{
				Attempts:  attempt + 1,
				Delays:    delays,
				Messages:  messages,
				Retryable: retryable,
				Last:      err,
			}
		}

		delay := c.backoff(attempt)
		delays = append(delays, delay)

		if c.logger != nil {
			c.logger.Warn("retrying remote call",
				slog.String("operation", operation),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("category", string(apperrors.Classify(err))),
				slog.Any("error", err),
			)
		}

		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			messages = append(messages, sleepErr.Error())
			return &Error{
				Attempts:  attempt + 1,
				Delays:    delays,
				Messages:  messages,
				Retryable: false,
				Last:      sleepErr,
			}
		}
	}
}

// backoff returns min(base * 2^attempt, maxDelay) jittered by ±25%.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay << uint(attempt)
	if delay > c.policy.MaxDelay || delay <= 0 {
		delay = c.policy.MaxDelay
	}

	// Jitter in [0.75, 1.25] of the capped delay.
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * factor)
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
