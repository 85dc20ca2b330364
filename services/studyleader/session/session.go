// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session composes the remote assistant calls into the four study
// session operations: start, post, history and end.
//
// # Description
//
// A session is one remote agent configured with study-leader instructions
// plus one thread holding the conversation. The service keeps no session
// state of its own; the IDs returned by Start are the session handle and
// every later call passes them back in.
//
// # Thread Safety
//
// Service is safe for concurrent use. Sessions share nothing.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/instructions"
	"github.com/AleutianAI/studyleader/services/studyleader/observability"
	"github.com/AleutianAI/studyleader/services/studyleader/poller"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrCreateSession       = errors.New("unable to create session")
	ErrListMessages        = errors.New("unable to retrieve messages for thread")
	ErrAppendMessage       = errors.New("unable to add message")
	ErrStartRun            = errors.New("unable to run assistant")
	ErrDeleteThread        = errors.New("unable to delete thread and assistant")
	ErrDeleteAssistant     = errors.New("unable to delete assistant")
	ErrAssistantNotDeleted = errors.New("assistant was not deleted")
)

// =============================================================================
// Types
// =============================================================================

// Awaiter waits for a run to finish. *poller.Poller implements it.
type Awaiter interface {
	Await(ctx context.Context, key poller.Key) (poller.Result, error)
}

// Config holds the agent template and the public base URL.
type Config struct {
	// PublicURL prefixes the session URL returned by Start.
	PublicURL string

	// AssistantName is the remote agent's display name.
	AssistantName string

	// Model is the remote model identifier.
	Model string
}

// StartResult is the handle for a new session.
type StartResult struct {
	ThreadID    string `json:"threadId"`
	AssistantID string `json:"assistantId"`
	URL         string `json:"url"`
}

// EndResult reports what End removed.
type EndResult struct {
	ThreadDeleted    bool `json:"threadDeleted"`
	AssistantDeleted bool `json:"assistantDeleted"`
}

// Service runs study sessions against a remote assistants API.
type Service struct {
	client  assistants.Client
	awaiter Awaiter
	config  Config
	metrics *observability.SessionMetrics
}

// NewService creates a Service. metrics may be nil.
func NewService(client assistants.Client, awaiter Awaiter, cfg Config, metrics *observability.SessionMetrics) *Service {
	return &Service{
		client:  client,
		awaiter: awaiter,
		config:  cfg,
		metrics: metrics,
	}
}

// SessionURL builds the public URL of a session.
func SessionURL(publicURL, assistantID, threadID string) string {
	return strings.TrimRight(publicURL, "/") + "/session/" + assistantID + "/thread/" + threadID
}

// =============================================================================
// Operations
// =============================================================================

// Start creates an agent for topic and goal and a thread to talk to it in.
//
// # Description
//
// Instructions are built first, so a missing topic or goal fails before
// any remote call. If the thread cannot be created the agent that was just
// created is deleted best-effort.
//
// # Outputs
//
//   - StartResult: thread ID, agent ID and session URL.
//   - error: *instructions.MissingParameterError or ErrCreateSession
//     wrapping the remote failure.
func (s *Service) Start(ctx context.Context, topic, goal string) (result StartResult, err error) {
	defer func() { s.metrics.RecordOperation(observability.OperationStart, err == nil) }()

	text, err := instructions.Build(topic, goal)
	if err != nil {
		return StartResult{}, err
	}

	slog.Info("Creating assistant", "name", s.config.AssistantName, "model", s.config.Model)
	agent, err := s.client.CreateAgent(ctx, assistants.AgentSpec{
		Name:         s.config.AssistantName,
		Model:        s.config.Model,
		Instructions: text,
		Tools:        []string{assistants.ToolCodeInterpreter},
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %w", ErrCreateSession, err)
	}

	slog.Info("Creating thread session", "assistant_id", agent.ID)
	thread, err := s.client.CreateThread(ctx)
	if err != nil {
		s.discardAgent(ctx, agent.ID)
		return StartResult{}, fmt.Errorf("%w: %w", ErrCreateSession, err)
	}

	return StartResult{
		ThreadID:    thread.ID,
		AssistantID: agent.ID,
		URL:         SessionURL(s.config.PublicURL, agent.ID, thread.ID),
	}, nil
}

func (s *Service) discardAgent(ctx context.Context, agentID string) {
	// The caller's ctx may already be done; the agent still has to go.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.client.DeleteAgent(ctx, agentID); err != nil {
		slog.Error("Failed to delete assistant after thread creation failed",
			"assistant_id", agentID, "error", err)
		s.metrics.AssistantOrphaned()
	}
}

// Post appends message to the thread, runs the agent and waits for the
// answer.
//
// # Inputs
//
//   - threadID, assistantID: The session handle from Start.
//   - message: The student's question.
//   - user: Optional submitter identifier, stored as message metadata.
//
// # Outputs
//
//   - poller.Result: Question, answer and the full message list.
//   - error: ErrAppendMessage or ErrStartRun wrapping the remote failure,
//     or any error from the awaiter unchanged.
func (s *Service) Post(ctx context.Context, threadID, assistantID, message, user string) (result poller.Result, err error) {
	defer func() { s.metrics.RecordOperation(observability.OperationPost, err == nil) }()

	logger := slog.With("thread_id", threadID, "assistant_id", assistantID)

	var metadata map[string]string
	if user != "" {
		metadata = map[string]string{"user": user}
	}

	logger.Info("Adding message", "length", len(message))
	if _, err := s.client.AppendMessage(ctx, threadID, message, metadata); err != nil {
		return poller.Result{}, fmt.Errorf("%w: %w", ErrAppendMessage, err)
	}

	logger.Info("Running assistant")
	run, err := s.client.StartRun(ctx, threadID, assistantID)
	if err != nil {
		return poller.Result{}, fmt.Errorf("%w: %w", ErrStartRun, err)
	}

	return s.awaiter.Await(ctx, poller.Key{ThreadID: threadID, RunID: run.ID})
}

// History returns every message on the thread, newest first.
func (s *Service) History(ctx context.Context, threadID string) (msgs []assistants.Message, err error) {
	defer func() { s.metrics.RecordOperation(observability.OperationHistory, err == nil) }()

	slog.Info("Retrieving messages", "thread_id", threadID)
	msgs, err = s.client.ListMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListMessages, err)
	}
	return msgs, nil
}

// End deletes the thread and then the agent.
//
// # Description
//
// The agent is only deleted once the remote service confirms the thread
// is gone. If the thread delete fails nothing else is attempted. If it
// succeeds but reports Deleted=false, End returns without error and
// without touching the agent. A failed agent delete after the thread is
// gone leaves an orphaned agent; it is logged and counted, not retried.
//
// # Outputs
//
//   - EndResult: Which resources were removed.
//   - error: ErrDeleteThread, ErrDeleteAssistant or ErrAssistantNotDeleted.
func (s *Service) End(ctx context.Context, threadID, assistantID string) (result EndResult, err error) {
	defer func() { s.metrics.RecordOperation(observability.OperationEnd, err == nil) }()

	logger := slog.With("thread_id", threadID, "assistant_id", assistantID)

	logger.Info("Deleting thread session")
	thread, err := s.client.DeleteThread(ctx, threadID)
	if err != nil {
		return EndResult{}, fmt.Errorf("%w: %w", ErrDeleteThread, err)
	}
	if !thread.Deleted {
		logger.Warn("Thread not deleted; leaving assistant in place")
		return EndResult{}, nil
	}
	result.ThreadDeleted = true

	logger.Info("Deleting assistant session")
	agent, err := s.client.DeleteAgent(ctx, assistantID)
	if err != nil {
		logger.Error("Assistant orphaned after thread deletion", "error", err)
		s.metrics.AssistantOrphaned()
		return result, fmt.Errorf("%w %s (thread %s already deleted): %w", ErrDeleteAssistant, assistantID, threadID, err)
	}
	if !agent.Deleted {
		logger.Error("Assistant orphaned after thread deletion", "error", ErrAssistantNotDeleted)
		s.metrics.AssistantOrphaned()
		return result, fmt.Errorf("%w: %s", ErrAssistantNotDeleted, assistantID)
	}
	result.AssistantDeleted = true

	logger.Info("Thread and assistant deleted")
	return result, nil
}
