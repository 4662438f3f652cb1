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

package agent

import (
	"context"
	"fmt"
	"time"
)

// ToolExecutionError is returned when a tool call still fails after its
// retries.
type ToolExecutionError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a run exceeds its wall-clock limit. It
// matches context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Timeout time.Duration
	Elapsed time.Duration

	// Iterations completed before the deadline.
	Iterations int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %s (limit %s, %d iterations)",
		e.Elapsed.Round(time.Millisecond), e.Timeout, e.Iterations)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// CompletionError wraps a failed LLM call.
type CompletionError struct {
	Model     string
	Iteration int
	Err       error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed (model %s, iteration %d): %v", e.Model, e.Iteration, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}
