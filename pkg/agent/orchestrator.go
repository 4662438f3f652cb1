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

// Package agent runs the reasoning/acting loop that answers a question
// by calling document tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/docqa/pkg/llm"
	"github.com/kadirpekel/docqa/pkg/react"
	"github.com/kadirpekel/docqa/pkg/retry"
	"github.com/kadirpekel/docqa/pkg/tools"
)

// Defaults.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultMaxIterations = 8
	DefaultConcurrency   = 4
)

// ToolCall is one executed tool call.
type ToolCall struct {
	Tool        string `json:"tool"`
	Input       string `json:"input"`
	Observation string `json:"observation"`
}

// Result is the outcome of a run.
type Result struct {
	Answer     string     `json:"answer"`
	Sources    []string   `json:"sources"`
	ToolTrace  []ToolCall `json:"tool_trace"`
	State      State      `json:"state"`
	Iterations int        `json:"iterations"`

	// Degraded is set when the answer came from the fallback ladder
	// rather than a Final Answer.
	Degraded bool `json:"degraded,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds a whole run. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithMaxIterations bounds the number of LLM turns.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithRetryer sets the retry policy applied to each tool call.
func WithRetryer(r *retry.Retryer) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.retryer = r
		}
	}
}

// WithConcurrency bounds the tool calls of one turn running at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithInstructions appends text to the system prompt.
func WithInstructions(s string) Option {
	return func(o *Orchestrator) {
		o.instructions = s
	}
}

// Orchestrator drives the LLM through Thought / Action / Observation
// turns until it produces a final answer.
type Orchestrator struct {
	model         llm.Model
	retryer       *retry.Retryer
	timeout       time.Duration
	maxIterations int
	concurrency   int
	instructions  string
}

// New creates an orchestrator around model.
func New(model llm.Model, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:         model,
		retryer:       retry.New(retry.DefaultConfig()),
		timeout:       DefaultTimeout,
		maxIterations: DefaultMaxIterations,
		concurrency:   DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Timeout returns the wall-clock limit of a run. Zero means none.
func (o *Orchestrator) Timeout() time.Duration {
	return o.timeout
}

// run is the per-query state.
type run struct {
	query      string
	state      State
	iterations int
	trace      []ToolCall
	transcript strings.Builder
}

func (r *run) transition(to State) {
	if r.state == to {
		return
	}
	if !CanTransition(r.state, to) {
		slog.Warn("Unexpected agent state transition", "from", r.state, "to", to)
	}
	slog.Debug("Agent state", "from", r.state, "to", to, "iteration", r.iterations)
	r.state = to
}

// Run answers query with the tools in box.
func (o *Orchestrator) Run(ctx context.Context, query string, box tools.Toolbox) (*Result, error) {
	start := time.Now()
	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	r := &run{query: query, state: StateIdle}
	system := SystemPrompt(box.Tools(), o.instructions)
	messages := []llm.Message{llm.User("Question: " + query)}

	for r.iterations < o.maxIterations {
		r.iterations++
		r.transition(StateReasoning)

		text, err := llm.Collect(runCtx, o.model, system, messages)
		if err != nil {
			return nil, o.fail(ctx, runCtx, r, start, &CompletionError{Model: o.model.Name(), Iteration: r.iterations, Err: err})
		}

		turn := react.Parse(text)
		if len(turn.Steps) == 0 {
			if turn.HasFinal && turn.FinalAnswer != "" {
				return o.answer(r, box, turn.FinalAnswer, false, start), nil
			}
			slog.Debug("Agent turn has no actions", "iteration", r.iterations)
			return o.answer(r, box, react.ExtractAnswer(text), true, start), nil
		}

		r.transition(StateExecutingTool)
		calls, err := o.dispatch(runCtx, box, turn.Steps)
		if err != nil {
			return nil, o.fail(ctx, runCtx, r, start, err)
		}
		r.trace = append(r.trace, calls...)

		assistant := renderActions(turn.Steps)
		observations := renderObservations(calls)
		r.transcript.WriteString(assistant)
		r.transcript.WriteString("\n")
		r.transcript.WriteString(observations)
		r.transcript.WriteString("\n")

		if turn.HasFinal {
			if turn.FinalAnswer != "" {
				return o.answer(r, box, turn.FinalAnswer, false, start), nil
			}
			return o.answer(r, box, react.ExtractAnswer(r.transcript.String()), true, start), nil
		}

		messages = append(messages, llm.Assistant(assistant), llm.User(observations))
	}

	slog.Warn("Agent reached iteration limit", "iterations", r.iterations, "tool_calls", len(r.trace))
	return o.answer(r, box, react.ExtractAnswer(strings.TrimSpace(r.transcript.String())), true, start), nil
}

// dispatch executes the steps of one turn concurrently and returns their
// calls in step order.
func (o *Orchestrator) dispatch(ctx context.Context, box tools.Toolbox, steps []react.Step) ([]ToolCall, error) {
	calls := make([]ToolCall, len(steps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, step := range steps {
		g.Go(func() error {
			obs, err := o.execute(gctx, box, step)
			if err != nil {
				return err
			}
			calls[i] = ToolCall{Tool: step.Action, Input: step.RawInput, Observation: obs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return calls, nil
}

// execute runs one step with retries. Unknown tools become an
// observation telling the model what it can call instead.
func (o *Orchestrator) execute(ctx context.Context, box tools.Toolbox, step react.Step) (string, error) {
	attempts := 0
	obs, err := retry.Do(ctx, o.retryer, "tool "+step.Action, func(ctx context.Context) (string, error) {
		attempts++
		out, err := box.Invoke(ctx, step.Action, step.Args)
		if tools.IsNotFound(err) {
			return "", retry.Permanent(err)
		}
		return out, err
	})
	if err == nil {
		return obs, nil
	}

	if tools.IsNotFound(err) {
		return unknownToolObservation(step.Action, box.Tools()), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var retryErr *retry.RetryError
	if errors.As(err, &retryErr) {
		return "", &ToolExecutionError{Tool: step.Action, Attempts: retryErr.Attempts, Err: retryErr.LastError}
	}
	return "", &ToolExecutionError{Tool: step.Action, Attempts: attempts, Err: err}
}

func (o *Orchestrator) answer(r *run, box tools.Toolbox, answer string, degraded bool, start time.Time) *Result {
	r.transition(StateAnswered)
	res := &Result{
		Answer:     strings.TrimSpace(answer),
		Sources:    sources(box, r.trace),
		ToolTrace:  r.trace,
		State:      r.state,
		Iterations: r.iterations,
		Degraded:   degraded,
	}
	if res.ToolTrace == nil {
		res.ToolTrace = []ToolCall{}
	}
	slog.Info("Agent answered",
		"iterations", r.iterations,
		"tool_calls", len(r.trace),
		"sources", len(res.Sources),
		"degraded", degraded,
		"duration", time.Since(start))
	return res
}

// fail classifies err. A run whose deadline expired, its own or the
// caller's, reports a TimeoutError; cancellation by the caller is
// returned as is.
func (o *Orchestrator) fail(parent, runCtx context.Context, r *run, start time.Time, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		r.transition(StateFailed)
		return parent.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.transition(StateTimedOut)
		timeoutErr := &TimeoutError{Timeout: o.timeout, Elapsed: time.Since(start), Iterations: r.iterations}
		slog.Warn("Agent timed out", "elapsed", timeoutErr.Elapsed, "iterations", r.iterations)
		return timeoutErr
	}
	r.transition(StateFailed)
	slog.Error("Agent failed", "iterations", r.iterations, "error", err)
	return err
}

// sources returns the documents of the recorded calls in first-use order.
func sources(box tools.Toolbox, trace []ToolCall) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, call := range trace {
		path, ok := box.DocumentPath(call.Tool)
		if !ok || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

func renderActions(steps []react.Step) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("\n")
		}
		if s.Thought != "" {
			fmt.Fprintf(&b, "Thought: %s\n", s.Thought)
		}
		fmt.Fprintf(&b, "Action: %s\nAction Input: %s\n", s.Action, s.RawInput)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderObservations(calls []ToolCall) string {
	parts := make([]string, len(calls))
	for i, c := range calls {
		parts[i] = "Observation: " + c.Observation
	}
	return strings.Join(parts, "\n\n")
}

func unknownToolObservation(name string, available []tools.Tool) string {
	names := make([]string, len(available))
	for i, t := range available {
		names[i] = t.Name()
	}
	return fmt.Sprintf("Error: tool %q does not exist. Available tools: %s", name, strings.Join(names, ", "))
}
