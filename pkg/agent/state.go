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

// State is the lifecycle state of one run.
type State string

const (
	StateIdle          State = "idle"
	StateReasoning     State = "reasoning"
	StateExecutingTool State = "executing_tool"
	StateAnswered      State = "answered"
	StateTimedOut      State = "timed_out"
	StateFailed        State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateAnswered, StateTimedOut, StateFailed:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateIdle:          {StateReasoning, StateTimedOut, StateFailed},
	StateReasoning:     {StateExecutingTool, StateAnswered, StateTimedOut, StateFailed},
	StateExecutingTool: {StateReasoning, StateAnswered, StateTimedOut, StateFailed},
}

// CanTransition reports whether from → to is a valid transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
