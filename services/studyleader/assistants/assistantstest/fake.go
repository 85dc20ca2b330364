// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistantstest provides an in-memory assistants.Client for tests.
//
// # Description
//
// Fake records every call, lets tests inject per-operation failures and
// scripts the status sequence each run reports. When a run first reports
// "completed" the fake appends an assistant answer to the thread, so the
// message list looks exactly like the remote service after a run.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package assistantstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
)

type fakeRun struct {
	run      assistants.Run
	script   []assistants.RunStatus
	next     int
	answered bool
	question string
}

// Fake is an in-memory assistants.Client.
type Fake struct {
	mu sync.Mutex

	seq       int
	agents    map[string]assistants.Agent
	threads   map[string][]assistants.Message // oldest first
	runs      map[string]*fakeRun
	calls     map[string]int
	errs      map[string]error
	script    []assistants.RunStatus
	runErr    *assistants.RunError
	threadDel bool
	agentDel  bool
	answer    func(question string) string
}

// NewFake returns a Fake whose runs report queued, in_progress, completed.
func NewFake() *Fake {
	return &Fake{
		agents:    make(map[string]assistants.Agent),
		threads:   make(map[string][]assistants.Message),
		runs:      make(map[string]*fakeRun),
		calls:     make(map[string]int),
		errs:      make(map[string]error),
		script:    []assistants.RunStatus{assistants.RunStatusQueued, assistants.RunStatusInProgress, assistants.RunStatusCompleted},
		threadDel: true,
		agentDel:  true,
		answer:    func(q string) string { return "answer to: " + q },
	}
}

// =============================================================================
// Configuration
// =============================================================================

// SetError makes every call of op fail with err. A nil err clears it.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// SetRunScript sets the status sequence for runs started afterwards. The
// last status repeats once the script is exhausted.
func (f *Fake) SetRunScript(statuses ...assistants.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append([]assistants.RunStatus(nil), statuses...)
}

// SetRunError sets the LastError reported by runs in a failure status.
func (f *Fake) SetRunError(code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = &assistants.RunError{Code: code, Message: message}
}

// SetDeleteResults sets the Deleted flag returned by DeleteThread and
// DeleteAgent.
func (f *Fake) SetDeleteResults(threadDeleted, agentDeleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadDel = threadDeleted
	f.agentDel = agentDeleted
}

// SetAnswer replaces the function producing assistant answers.
func (f *Fake) SetAnswer(fn func(question string) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = fn
}

// SeedMessage appends a message to a thread without counting a call.
func (f *Fake) SeedMessage(threadID, role, text string) assistants.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(threadID, role, text, nil, "")
}

// =============================================================================
// Inspection
// =============================================================================

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// HasAgent reports whether the agent exists.
func (f *Fake) HasAgent(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.agents[id]
	return ok
}

// HasThread reports whether the thread exists.
func (f *Fake) HasThread(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.threads[id]
	return ok
}

// Agent returns the stored agent.
func (f *Fake) Agent(id string) (assistants.Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	return a, ok
}

// =============================================================================
// assistants.Client
// =============================================================================

func (f *Fake) begin(ctx context.Context, op string) error {
	f.calls[op]++
	if err := ctx.Err(); err != nil {
		return &assistants.CallError{Op: op, Err: err}
	}
	if err := f.errs[op]; err != nil {
		return &assistants.CallError{Op: op, Err: err}
	}
	return nil
}

func (f *Fake) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *Fake) CreateAgent(ctx context.Context, spec assistants.AgentSpec) (assistants.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpCreateAgent); err != nil {
		return assistants.Agent{}, err
	}
	agent := assistants.Agent{
		ID:           f.id("asst"),
		Name:         spec.Name,
		Model:        spec.Model,
		Instructions: spec.Instructions,
		Tools:        append([]string(nil), spec.Tools...),
	}
	f.agents[agent.ID] = agent
	return agent, nil
}

func (f *Fake) DeleteAgent(ctx context.Context, agentID string) (assistants.Deletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpDeleteAgent); err != nil {
		return assistants.Deletion{}, err
	}
	if f.agentDel {
		delete(f.agents, agentID)
	}
	return assistants.Deletion{ID: agentID, Deleted: f.agentDel}, nil
}

func (f *Fake) CreateThread(ctx context.Context) (assistants.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpCreateThread); err != nil {
		return assistants.Thread{}, err
	}
	thread := assistants.Thread{ID: f.id("thread")}
	f.threads[thread.ID] = nil
	return thread, nil
}

func (f *Fake) DeleteThread(ctx context.Context, threadID string) (assistants.Deletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpDeleteThread); err != nil {
		return assistants.Deletion{}, err
	}
	if f.threadDel {
		delete(f.threads, threadID)
	}
	return assistants.Deletion{ID: threadID, Deleted: f.threadDel}, nil
}

func (f *Fake) ListMessages(ctx context.Context, threadID string) ([]assistants.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpListMessages); err != nil {
		return nil, err
	}
	msgs := f.threads[threadID]
	out := make([]assistants.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *Fake) AppendMessage(ctx context.Context, threadID, content string, metadata map[string]string) (assistants.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpAppendMessage); err != nil {
		return assistants.Message{}, err
	}
	var meta map[string]any
	if len(metadata) > 0 {
		meta = make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}
	return f.appendLocked(threadID, assistants.RoleUser, content, meta, ""), nil
}

func (f *Fake) StartRun(ctx context.Context, threadID, agentID string) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpStartRun); err != nil {
		return assistants.Run{}, err
	}
	var question string
	if msgs := f.threads[threadID]; len(msgs) > 0 {
		question = msgs[len(msgs)-1].Text()
	}
	run := assistants.Run{
		ID:          f.id("run"),
		ThreadID:    threadID,
		AssistantID: agentID,
		Status:      assistants.RunStatusQueued,
	}
	f.runs[run.ID] = &fakeRun{
		run:      run,
		script:   append([]assistants.RunStatus(nil), f.script...),
		question: question,
	}
	return run, nil
}

func (f *Fake) RunStatus(ctx context.Context, threadID, runID string) (assistants.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(ctx, assistants.OpRunStatus); err != nil {
		return assistants.Run{}, err
	}
	fr, ok := f.runs[runID]
	if !ok || fr.run.ThreadID != threadID {
		return assistants.Run{}, &assistants.CallError{Op: assistants.OpRunStatus, Err: fmt.Errorf("no run %s on thread %s", runID, threadID)}
	}

	status := assistants.RunStatusQueued
	if len(fr.script) > 0 {
		idx := fr.next
		if idx >= len(fr.script) {
			idx = len(fr.script) - 1
		}
		status = fr.script[idx]
		fr.next++
	}
	fr.run.Status = status

	switch {
	case status.Succeeded() && !fr.answered:
		fr.answered = true
		f.appendLocked(threadID, assistants.RoleAssistant, f.answer(fr.question), nil, runID)
	case status.Terminal() && !status.Succeeded() && f.runErr != nil:
		e := *f.runErr
		fr.run.LastError = &e
	}
	return fr.run, nil
}

func (f *Fake) appendLocked(threadID, role, text string, meta map[string]any, runID string) assistants.Message {
	msg := assistants.Message{
		ID:        f.id("msg"),
		ThreadID:  threadID,
		Role:      role,
		Content:   []assistants.ContentPart{{Type: "text", Text: text}},
		Metadata:  meta,
		RunID:     runID,
		CreatedAt: int64(f.seq),
	}
	f.threads[threadID] = append(f.threads[threadID], msg)
	return msg
}

var _ assistants.Client = (*Fake)(nil)
