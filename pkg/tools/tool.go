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

// Package tools holds the tools the agent can call: one search tool per
// document plus auxiliary tools such as query planning and web search.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrToolNotFound is returned when a tool name is not registered or not
// visible in the current scope.
var ErrToolNotFound = errors.New("tool not found")

// Input is a normalized tool input.
type Input struct {
	Query string `json:"query"`

	// Args holds the original object input, when there was one.
	Args map[string]any `json:"args,omitempty"`
}

// Tool is something the agent can call.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, in Input) (string, error)
}

// DocumentTool is a tool that searches exactly one document.
type DocumentTool interface {
	Tool
	DocumentPath() string
	DisplayName() string
}

// Toolbox is the set of tools visible to one query.
type Toolbox interface {
	Tools() []Tool
	Invoke(ctx context.Context, name string, raw any) (string, error)
	DocumentPath(name string) (string, bool)
}

// RegistryError reports a failed registration.
type RegistryError struct {
	Action  string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[tools:%s] %s: %v", e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[tools:%s] %s", e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}
