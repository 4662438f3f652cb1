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

package llm

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kadirpekel/docqa/pkg/observability"
)

type staticModel struct{ out string }

func (m staticModel) Name() string { return "static" }
func (m staticModel) Complete(context.Context, string, []Message) (string, error) {
	return m.out, nil
}

type streamModel struct {
	staticModel
	deltas []string
	err    error
}

func (m streamModel) Stream(context.Context, string, []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, d := range m.deltas {
			if !yield(d, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

type recordingMetrics struct {
	observability.NoopMetrics
	calls []error
}

func (r *recordingMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, err error) {
	r.calls = append(r.calls, err)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	out, err := Collect(ctx, staticModel{out: "plain"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = Collect(ctx, streamModel{deltas: []string{"Final ", "Answer: ", "yes"}}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Final Answer: yes", out)

	boom := errors.New("connection reset")
	_, err = Collect(ctx, streamModel{deltas: []string{"partial"}, err: boom}, "", nil)
	assert.ErrorIs(t, err, boom)
}

func TestInstrument(t *testing.T) {
	metrics := &recordingMetrics{}
	tracer := noop.NewTracerProvider().Tracer("test")

	m := Instrument(streamModel{deltas: []string{"a", "b"}}, tracer, metrics)
	out, err := m.Complete(context.Background(), "sys", []Message{User("q")})
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
	assert.Equal(t, "static", m.Name())

	boom := errors.New("unavailable")
	failing := Instrument(streamModel{err: boom}, tracer, metrics)
	_, err = failing.Complete(context.Background(), "sys", nil)
	assert.ErrorIs(t, err, boom)

	require.Len(t, metrics.calls, 2)
	assert.NoError(t, metrics.calls[0])
	assert.ErrorIs(t, metrics.calls[1], boom)
}
