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

// Package llm defines the language model interface the agent talks to.
package llm

import (
	"context"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/docqa/pkg/observability"
)

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Model completes a transcript.
type Model interface {
	Name() string
	Complete(ctx context.Context, system string, transcript []Message) (string, error)
}

// StreamingModel can also yield a completion incrementally.
type StreamingModel interface {
	Model
	Stream(ctx context.Context, system string, transcript []Message) iter.Seq2[string, error]
}

// Collect returns the full completion, streaming when m supports it.
func Collect(ctx context.Context, m Model, system string, transcript []Message) (string, error) {
	sm, ok := m.(StreamingModel)
	if !ok {
		return m.Complete(ctx, system, transcript)
	}

	var sb strings.Builder
	for delta, err := range sm.Stream(ctx, system, transcript) {
		if err != nil {
			return "", err
		}
		sb.WriteString(delta)
	}
	return sb.String(), nil
}

// instrumented wraps a Model with a span and metrics per call.
type instrumented struct {
	Model
	tracer  trace.Tracer
	metrics observability.Metrics
}

// Instrument records a span and a metric for every Complete call on m.
func Instrument(m Model, tracer trace.Tracer, metrics observability.Metrics) Model {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &instrumented{Model: m, tracer: tracer, metrics: metrics}
}

func (m *instrumented) Complete(ctx context.Context, system string, transcript []Message) (string, error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, m.Name()),
			attribute.Int("llm.messages", len(transcript)),
		))
	defer span.End()

	out, err := Collect(ctx, m.Model, system, transcript)
	m.metrics.RecordLLMCall(ctx, m.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}
