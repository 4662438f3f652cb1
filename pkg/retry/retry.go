// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// BaseDelay is the wait before the first retry. Retry n waits
	// BaseDelay * 2^(n-1).
	BaseDelay time.Duration

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Jitter spreads each wait by up to ±10%.
	Jitter bool

	// RetryableErrors restricts retries to errors whose message contains
	// one of these substrings (case-insensitive). Empty retries every
	// error except context and permanent errors.
	RetryableErrors []string
}

// DefaultConfig returns two retries at 1s and 2s, no jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryError reports an operation that failed on every attempt.
type RetryError struct {
	Operation   string
	Attempts    int
	LastError   error
	IsExhausted bool
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryer executes operations with retries.
type Retryer struct {
	config  Config
	onRetry func(operation string, attempt int, err error)
}

// Option configures a Retryer.
type Option func(*Retryer)

// WithOnRetry registers a hook called before each retry wait.
func WithOnRetry(fn func(operation string, attempt int, err error)) Option {
	return func(r *Retryer) {
		r.onRetry = fn
	}
}

// New creates a Retryer. Non-positive delays take the defaults; a
// negative MaxRetries means no retries.
func New(cfg Config, opts ...Option) *Retryer {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	r := &Retryer{config: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Retryer) Config() Config {
	return r.config
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// exhausts its attempts. Exhaustion returns *RetryError. Context
// cancellation returns the context error, including during a wait.
func (r *Retryer) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Retryer.Do for operations returning a value.
func Do[T any](ctx context.Context, r *Retryer, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := r.config.MaxRetries + 1

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if !r.retryable(ctx, err) {
			slog.Debug("Non-retryable error", "operation", operation, "attempt", attempt, "error", err)
			return zero, err
		}

		if attempt >= attempts {
			slog.Warn("Retries exhausted", "operation", operation, "attempts", attempt, "error", err)
			return zero, &RetryError{
				Operation:   operation,
				Attempts:    attempt,
				LastError:   err,
				IsExhausted: true,
			}
		}

		delay := r.Delay(attempt)
		slog.Debug("Retrying operation",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err)
		if r.onRetry != nil {
			r.onRetry(operation, attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (r *Retryer) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.config.BaseDelay
	for i := 1; i < attempt && delay < r.config.MaxDelay; i++ {
		delay *= 2
	}

	if r.config.Jitter {
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}

	if delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay
}

func (r *Retryer) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	var retryErr *RetryError
	if errors.As(err, &retryErr) && retryErr.IsExhausted {
		return false
	}

	if len(r.config.RetryableErrors) == 0 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range r.config.RetryableErrors {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
