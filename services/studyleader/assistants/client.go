// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistants is the gateway to the remote assistants service.
//
// # Description
//
// Client exposes each remote operation as a single blocking call that
// honours its context. The gateway is stateless: it never caches agents,
// threads or messages, and it never retries. Every failure surfaces as a
// *CallError tagged with the operation name.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
package assistants

import (
	"context"
	"errors"
	"fmt"
)

// Operation names used to tag CallError and telemetry.
const (
	OpCreateAgent   = "create_agent"
	OpDeleteAgent   = "delete_agent"
	OpCreateThread  = "create_thread"
	OpDeleteThread  = "delete_thread"
	OpListMessages  = "list_messages"
	OpAppendMessage = "append_message"
	OpStartRun      = "start_run"
	OpRunStatus     = "run_status"
)

// Client defines the remote operations a study session needs.
type Client interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (Agent, error)
	DeleteAgent(ctx context.Context, agentID string) (Deletion, error)
	CreateThread(ctx context.Context) (Thread, error)
	DeleteThread(ctx context.Context, threadID string) (Deletion, error)

	// ListMessages returns every message of the thread, newest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	// AppendMessage adds a user message. metadata may be nil.
	AppendMessage(ctx context.Context, threadID, content string, metadata map[string]string) (Message, error)

	StartRun(ctx context.Context, threadID, agentID string) (Run, error)
	RunStatus(ctx context.Context, threadID, runID string) (Run, error)
}

// CallError is a remote failure passed through verbatim.
type CallError struct {
	Op  string
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("assistants %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsCallError reports whether err came from a remote call, and which one.
func IsCallError(err error) (string, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Op, true
	}
	return "", false
}
