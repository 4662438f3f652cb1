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

// Package react parses the free-form turns of a reasoning/acting agent.
//
// A turn is a sequence of line-anchored, case-insensitive segments:
//
//	Thought: ...
//	Action: <tool name>
//	Action Input: <JSON object, JSON string or bare text>
//	Observation: ...
//	Final Answer: ...
//
// Each segment runs until the next marker line. Everything after the first
// Final Answer marker is the answer. Malformed turns never fail to parse;
// the worst case is a Turn with no steps and no answer.
package react

import (
	"regexp"
	"strings"
)

// MinObservationAnswer is the length an observation must exceed before
// ExtractAnswer will return it as the answer.
const MinObservationAnswer = 50

// Step is one Action / Action Input pair with the thought before it and
// the observation after it, when present.
type Step struct {
	Thought  string
	Action   string
	RawInput string
	Args     map[string]any

	// Observation is nil until one follows the action.
	Observation *string
}

// Turn is the parsed form of one agent turn or of a whole transcript.
type Turn struct {
	Steps []Step

	// Thought is the last thought not followed by an action.
	Thought string

	// Observations holds every observation in order, including ones not
	// attached to a step.
	Observations []string

	FinalAnswer string
	HasFinal    bool
}

type kind int

const (
	kindText kind = iota
	kindThought
	kindAction
	kindInput
	kindObservation
	kindFinal
)

var markerPattern = regexp.MustCompile(`(?i)^[ \t]*(?:[*_]{0,2})(thought|action[ \t]+input|action|observation|final[ \t]+answer)(?:[*_]{0,2})[ \t]*:(?:[*_]{0,2})(.*)$`)

type segment struct {
	kind kind
	text string
}

func markerKind(name string) kind {
	name = strings.Join(strings.Fields(strings.ToLower(name)), " ")
	switch name {
	case "thought":
		return kindThought
	case "action":
		return kindAction
	case "action input":
		return kindInput
	case "observation":
		return kindObservation
	default:
		return kindFinal
	}
}

// tokenize splits text into segments. A final answer segment swallows the
// rest of the text.
func tokenize(text string) []segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var (
		segs []segment
		cur  = segment{kind: kindText}
		body []string
	)
	flush := func() {
		cur.text = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.kind != kindText || cur.text != "" {
			segs = append(segs, cur)
		}
	}

	for i, line := range lines {
		m := markerPattern.FindStringSubmatch(line)
		if m == nil {
			body = append(body, line)
			continue
		}
		flush()
		cur = segment{kind: markerKind(m[1])}
		body = []string{m[2]}
		if cur.kind == kindFinal {
			body = append(body, lines[i+1:]...)
			break
		}
	}
	flush()
	return segs
}

// Parse parses one turn (or a concatenation of turns).
func Parse(text string) Turn {
	var (
		turn     Turn
		thought  string
		current  = -1
		hasInput bool
	)

	for _, seg := range tokenize(text) {
		switch seg.kind {
		case kindText, kindThought:
			if thought != "" && seg.text != "" {
				thought += "\n" + seg.text
			} else if seg.text != "" {
				thought = seg.text
			}
		case kindAction:
			name := cleanAction(seg.text)
			if name == "" {
				current = -1
				continue
			}
			turn.Steps = append(turn.Steps, Step{Thought: thought, Action: name, Args: map[string]any{}})
			current = len(turn.Steps) - 1
			hasInput = false
			thought = ""
		case kindInput:
			if current < 0 || hasInput {
				continue
			}
			raw, args := ParseInput(seg.text)
			turn.Steps[current].RawInput = raw
			turn.Steps[current].Args = args
			hasInput = true
		case kindObservation:
			obs := seg.text
			turn.Observations = append(turn.Observations, obs)
			if current >= 0 && turn.Steps[current].Observation == nil {
				turn.Steps[current].Observation = &obs
			}
			current = -1
		case kindFinal:
			turn.FinalAnswer = seg.text
			turn.HasFinal = true
		}
	}
	turn.Thought = thought
	return turn
}

// cleanAction strips the decoration models put around tool names.
func cleanAction(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t`*\"'[]")
	if i := strings.IndexByte(s, '('); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ExtractAnswer returns the best answer text contains: the final answer
// when there is one, else the last observation if it is longer than
// MinObservationAnswer characters, else text itself unchanged.
func ExtractAnswer(text string) string {
	turn := Parse(text)
	if turn.HasFinal && turn.FinalAnswer != "" {
		return turn.FinalAnswer
	}
	if n := len(turn.Observations); n > 0 {
		last := turn.Observations[n-1]
		if len([]rune(last)) > MinObservationAnswer {
			return last
		}
	}
	return text
}
