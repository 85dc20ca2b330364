// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistants

import "strings"

// =============================================================================
// Roles and Tools
// =============================================================================

// Message roles as reported by the remote service.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCodeInterpreter is the code-execution capability attached to study
// leader agents.
const ToolCodeInterpreter = "code_interpreter"

// =============================================================================
// Run Status
// =============================================================================

// RunStatus is the remote status of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further status change will occur.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled,
		RunStatusExpired, RunStatusIncomplete:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the run finished with an answer.
func (s RunStatus) Succeeded() bool {
	return s == RunStatusCompleted
}

// =============================================================================
// Entities
// =============================================================================

// AgentSpec describes an agent to create.
type AgentSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []string
}

// Agent is a configured remote assistant.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Instructions string   `json:"instructions"`
	Tools        []string `json:"tools"`
}

// Thread is a remote conversation container. Messages live remotely.
type Thread struct {
	ID string `json:"id"`
}

// Deletion is the remote acknowledgement of a delete call. Deleted=false
// is a valid outcome, not an error.
type Deletion struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ContentPart is one piece of a message body.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is an immutable thread entry.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	Role      string         `json:"role"`
	Content   []ContentPart  `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RunID     string         `json:"runId,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Content {
		b.WriteString(part.Text)
	}
	return b.String()
}

// RunError is the remote explanation of a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one asynchronous invocation of an agent over a thread.
type Run struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadId"`
	AssistantID string    `json:"assistantId"`
	Status      RunStatus `json:"status"`
	LastError   *RunError `json:"lastError,omitempty"`
}
