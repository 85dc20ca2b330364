// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package instructions builds the system instructions for a study leader
// assistant from a topic and a learning goal.
package instructions

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/studyleader/pkg/sanitize"
)

// Placeholder tokens in Template.
const (
	TopicToken = "[insert topic]"
	GoalToken  = "[insert goal]"
)

// Template is the authored instruction text. It is not user input and is
// never sanitized; only the substituted values are.
const Template = `You are an AI Study Leader named Daan-GPT.

ROLE
Guide students during study sessions without providing direct answers. Ask
questions that lead the student to the answer, check their reasoning, and
point out where it goes wrong.

RULES
- Never hand over a complete solution, even when asked repeatedly.
- Break problems into small steps and confirm each step before moving on.
- Use the code interpreter for calculations or examples, then ask the
  student to explain the result.
- Keep answers short and end with a question for the student.

TOPIC
Your topic is ` + TopicToken + `

GOAL
By the end of the session the student wants to: ` + GoalToken + `
`

// MissingParameterError reports a required input that was empty.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s is required to create a session", e.Param)
}

// Build returns the instructions for a new study leader.
//
// # Description
//
// Both inputs must be non-empty after trimming. The topic is checked
// before the goal, so when both are missing the error names "topic".
// Each placeholder is replaced once with the sanitized value in a single
// pass; a value that itself contains a placeholder token is not expanded.
//
// # Outputs
//
//   - string: The instruction text.
//   - error: *MissingParameterError when an input is empty.
func Build(topic, goal string) (string, error) {
	topic = strings.TrimSpace(topic)
	goal = strings.TrimSpace(goal)

	if topic == "" {
		return "", &MissingParameterError{Param: "topic"}
	}
	if goal == "" {
		return "", &MissingParameterError{Param: "goal"}
	}

	r := strings.NewReplacer(
		TopicToken, sanitize.String(topic),
		GoalToken, sanitize.String(goal),
	)
	return r.Replace(Template), nil
}
