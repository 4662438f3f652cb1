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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	var retried []int
	r := New(fastConfig(), WithOnRetry(func(_ string, attempt int, _ error) {
		retried = append(retried, attempt)
	}))

	got, err := Do(context.Background(), r, "search", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	boom := errors.New("backend down")
	r := New(fastConfig())

	err := r.Do(context.Background(), "query_doc_tool", func(context.Context) error {
		calls++
		return boom
	})

	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, retryErr.Attempts)
	assert.True(t, retryErr.IsExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "query_doc_tool failed after 3 attempts: backend down", err.Error())
}

func TestDo_NotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", Permanent(errors.New("bad input"))},
		{"canceled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
		{"exhausted", &RetryError{Operation: "inner", Attempts: 3, LastError: errors.New("x"), IsExhausted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := New(fastConfig()).Do(context.Background(), "op", func(context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDo_RetryablePatterns(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = []string{"503"}

	calls := 0
	err := New(cfg).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("status 400")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	calls = 0
	err = New(cfg).Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errors.New("status 503")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_CancelDuringWait(t *testing.T) {
	r := New(Config{MaxRetries: 2, BaseDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Do(ctx, "op", func(context.Context) error { return errors.New("fail") })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDelay(t *testing.T) {
	r := New(Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second})

	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))
	assert.Equal(t, 5*time.Second, r.Delay(4))
	assert.Equal(t, 5*time.Second, r.Delay(10))
}

func TestDelay_Jitter(t *testing.T) {
	r := New(Config{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true})
	for i := 0; i < 50; i++ {
		d := r.Delay(2)
		assert.GreaterOrEqual(t, d, 1800*time.Millisecond)
		assert.LessOrEqual(t, d, 2200*time.Millisecond)
	}
}
