// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package poller waits for assistant runs to finish.
//
// # Description
//
// A run is started remotely and then checked at a fixed interval until it
// reaches a terminal status. Each wait owns its own ticker and context and
// is tracked in a registry keyed by (thread, run), so concurrent waits on
// different runs never share or cancel each other's timers, and a second
// wait on the same run is refused while the first is in flight.
//
//	Await(key)
//	   │
//	   ├─► register key ──(already present)──► ErrPollInFlight
//	   │
//	   ├─► every Interval: RunStatus
//	   │        ├─ non-terminal ─► wait for next tick
//	   │        ├─ failed/cancelled/expired/incomplete ─► *RunFailedError
//	   │        └─ completed ─► stop ticker, ListMessages, Shape
//	   │
//	   ├─► Timeout elapsed ─► ErrRunTimeout
//	   ├─► caller ctx done ─► ctx error
//	   │
//	   └─► deregister key (every exit path)
//
// # Thread Safety
//
// Poller is safe for concurrent use.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/observability"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPollInFlight is returned when the run is already being awaited.
	ErrPollInFlight = errors.New("poller: run is already being polled")

	// ErrRunTimeout is returned when a run does not finish within Timeout.
	ErrRunTimeout = errors.New("poller: run did not finish in time")

	// ErrShutdown is returned for polls cancelled by Shutdown and for any
	// Await issued afterwards.
	ErrShutdown = errors.New("poller: shutting down")

	// ErrUnexpectedMessageOrder is returned when the newest two messages are
	// not an assistant answer preceded by a user question.
	ErrUnexpectedMessageOrder = errors.New("poller: unexpected message order")

	// ErrInvalidKey is returned when the thread or run ID is empty.
	ErrInvalidKey = errors.New("poller: thread and run IDs are required")
)

// RunFailedError describes a run that ended without an answer.
type RunFailedError struct {
	Key     Key
	Status  assistants.RunStatus
	Code    string
	Message string
}

func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("run %s on thread %s ended with status %s", e.Key.RunID, e.Key.ThreadID, e.Status)
	if e.Code != "" || e.Message != "" {
		msg += fmt.Sprintf(" (%s: %s)", e.Code, e.Message)
	}
	return msg
}

// =============================================================================
// Types
// =============================================================================

// Key identifies one run.
type Key struct {
	ThreadID string
	RunID    string
}

// Result is the shaped outcome of a completed run.
type Result struct {
	Question assistants.Message   `json:"question"`
	Answer   assistants.Message   `json:"answer"`
	Messages []assistants.Message `json:"messages"`
}

// RunReader is the subset of assistants.Client the poller needs.
type RunReader interface {
	RunStatus(ctx context.Context, threadID, runID string) (assistants.Run, error)
	ListMessages(ctx context.Context, threadID string) ([]assistants.Message, error)
}

// Config controls polling cadence.
type Config struct {
	// Interval between status checks. Default: 5s.
	Interval time.Duration

	// Timeout bounds the whole wait. Default: 5m.
	Timeout time.Duration
}

// DefaultConfig returns a 5 second interval and a 5 minute ceiling.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

type activePoll struct {
	cancel  context.CancelCauseFunc
	started time.Time
}

// Poller awaits runs.
type Poller struct {
	reader  RunReader
	config  Config
	metrics *observability.SessionMetrics

	mu     sync.Mutex
	active map[Key]*activePoll
	closed bool
}

// New creates a Poller. Zero Config fields take DefaultConfig values.
// metrics may be nil.
func New(reader RunReader, cfg Config, metrics *observability.SessionMetrics) *Poller {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Poller{
		reader:  reader,
		config:  cfg,
		metrics: metrics,
		active:  make(map[Key]*activePoll),
	}
}

// =============================================================================
// Await
// =============================================================================

// Await blocks until the run identified by key is terminal.
//
// # Description
//
// The first status check happens one Interval after the call. On
// completion the thread's messages are listed exactly once and shaped
// into a Result. On a failure status no messages are listed.
//
// # Inputs
//
//   - ctx: Usually the HTTP request context. Cancelling it stops polling.
//   - key: The run to wait for.
//
// # Outputs
//
//   - Result: Question, answer and the full newest-first message list.
//   - error: *RunFailedError, ErrRunTimeout, ErrPollInFlight, ErrShutdown,
//     ErrUnexpectedMessageOrder, a *assistants.CallError, or the ctx error.
func (p *Poller) Await(ctx context.Context, key Key) (Result, error) {
	if key.ThreadID == "" || key.RunID == "" {
		return Result{}, ErrInvalidKey
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := p.register(key, cancel); err != nil {
		return Result{}, err
	}
	defer p.deregister(key)

	ctx, stop := context.WithTimeoutCause(ctx, p.config.Timeout, ErrRunTimeout)
	defer stop()

	logger := slog.With("thread_id", key.ThreadID, "run_id", key.RunID)
	p.metrics.PollStarted()
	start := time.Now()

	result, outcome, err := p.await(ctx, key, logger)

	p.metrics.PollFinished(outcome, time.Since(start))
	if err != nil {
		logger.Warn("Run did not produce an answer", "outcome", outcome, "error", err)
		return Result{}, err
	}
	logger.Info("Run completed", "messages", len(result.Messages), "waited", time.Since(start).String())
	return result, nil
}

func (p *Poller) await(ctx context.Context, key Key, logger *slog.Logger) (Result, string, error) {
	run, err := p.waitTerminal(ctx, key, logger)
	if err != nil {
		return Result{}, p.outcomeFor(ctx, err), err
	}

	if !run.Status.Succeeded() {
		failed := &RunFailedError{Key: key, Status: run.Status}
		if run.LastError != nil {
			failed.Code = run.LastError.Code
			failed.Message = run.LastError.Message
		}
		return Result{}, observability.OutcomeFailed, failed
	}

	msgs, err := p.reader.ListMessages(ctx, key.ThreadID)
	if err != nil {
		if ctx.Err() != nil {
			err = p.ctxError(ctx, key)
		}
		return Result{}, p.outcomeFor(ctx, err), err
	}
	result, err := Shape(msgs)
	if err != nil {
		return Result{}, observability.OutcomeError, err
	}
	return result, observability.OutcomeCompleted, nil
}

// waitTerminal owns the ticker. It is stopped when this returns, before
// any message is fetched.
func (p *Poller) waitTerminal(ctx context.Context, key Key, logger *slog.Logger) (assistants.Run, error) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return assistants.Run{}, p.ctxError(ctx, key)
		case <-ticker.C:
		}

		run, err := p.reader.RunStatus(ctx, key.ThreadID, key.RunID)
		if err != nil {
			if ctx.Err() != nil {
				return assistants.Run{}, p.ctxError(ctx, key)
			}
			return assistants.Run{}, err
		}

		p.metrics.PollTick(string(run.Status))
		logger.Debug("Checking status", "status", run.Status, "tick", tick)

		if run.Status.Terminal() {
			return run, nil
		}
	}
}

func (p *Poller) ctxError(ctx context.Context, key Key) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrRunTimeout) {
		return fmt.Errorf("%w: run %s on thread %s still pending after %s",
			ErrRunTimeout, key.RunID, key.ThreadID, p.config.Timeout)
	}
	return cause
}

func (p *Poller) outcomeFor(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrRunTimeout):
		return observability.OutcomeTimeout
	case ctx.Err() != nil:
		return observability.OutcomeAborted
	default:
		return observability.OutcomeError
	}
}

// =============================================================================
// Registry
// =============================================================================

func (p *Poller) register(key Key, cancel context.CancelCauseFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrShutdown
	}
	if _, ok := p.active[key]; ok {
		return fmt.Errorf("%w: run %s on thread %s", ErrPollInFlight, key.RunID, key.ThreadID)
	}
	p.active[key] = &activePoll{cancel: cancel, started: time.Now()}
	return nil
}

func (p *Poller) deregister(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, key)
}

// Active returns the number of runs currently being polled.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Shutdown cancels every in-flight poll with ErrShutdown and refuses new
// ones. It does not wait for the cancelled Await calls to return.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for key, poll := range p.active {
		slog.Info("Cancelling poll for shutdown",
			"thread_id", key.ThreadID,
			"run_id", key.RunID,
			"running_for", time.Since(poll.started).String(),
		)
		poll.cancel(ErrShutdown)
	}
}

// =============================================================================
// Shaping
// =============================================================================

// Shape turns a newest-first message list into a Result.
//
// # Description
//
// The remote service lists newest first, so after a completed run the
// list must start with the assistant's answer followed by the user's
// question. Anything else is reported rather than mismatched.
func Shape(msgs []assistants.Message) (Result, error) {
	if len(msgs) < 2 {
		return Result{}, fmt.Errorf("%w: need at least 2 messages, got %d", ErrUnexpectedMessageOrder, len(msgs))
	}
	if msgs[0].Role != assistants.RoleAssistant {
		return Result{}, fmt.Errorf("%w: newest message has role %q, want %q",
			ErrUnexpectedMessageOrder, msgs[0].Role, assistants.RoleAssistant)
	}
	if msgs[1].Role != assistants.RoleUser {
		return Result{}, fmt.Errorf("%w: second newest message has role %q, want %q",
			ErrUnexpectedMessageOrder, msgs[1].Role, assistants.RoleUser)
	}
	return Result{
		Question: msgs[1],
		Answer:   msgs[0],
		Messages: msgs,
	}, nil
}
