// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the HTTP request and response bodies of the
// study leader service.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxMessageLength bounds a posted question, in characters. Keep in sync
// with the validate tag on PostMessageRequest.Message.
const MaxMessageLength = 32 * 1024

var sessionValidate = validator.New()

// =============================================================================
// Requests
// =============================================================================

// StartSessionRequest is the body of POST /session.
//
// Topic and goal are checked by the instructions builder so the error can
// name the missing parameter.
type StartSessionRequest struct {
	Topic string `json:"topic"`
	Goal  string `json:"goal"`
}

// PostMessageRequest is the body of POST /session/:assistantId/thread/:threadId.
type PostMessageRequest struct {
	Message string `json:"message" validate:"required,max=32768"`
	User    string `json:"user,omitempty" validate:"max=256"`
}

// Validate checks the request against its validate tags.
func (r *PostMessageRequest) Validate() error {
	return sessionValidate.Struct(r)
}

// SessionParams are the path parameters shared by the per-session routes.
type SessionParams struct {
	AssistantID string `uri:"assistantId" validate:"required"`
	ThreadID    string `uri:"threadId" validate:"required"`
}

// Validate checks that both IDs are present.
func (p *SessionParams) Validate() error {
	return sessionValidate.Struct(p)
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ActivePolls int    `json:"activePolls"`
}
