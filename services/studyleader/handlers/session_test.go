// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/assistants/assistantstest"
	"github.com/AleutianAI/studyleader/services/studyleader/datatypes"
	"github.com/AleutianAI/studyleader/services/studyleader/instructions"
	"github.com/AleutianAI/studyleader/services/studyleader/middleware"
	"github.com/AleutianAI/studyleader/services/studyleader/poller"
	"github.com/AleutianAI/studyleader/services/studyleader/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	fake   *assistantstest.Fake
	poller *poller.Poller
	router *gin.Engine
}

func newTestEnv(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()
	fake := assistantstest.NewFake()
	p := poller.New(fake, poller.Config{Interval: 2 * time.Millisecond, Timeout: timeout}, nil)
	t.Cleanup(p.Shutdown)
	svc := session.NewService(fake, p, session.Config{
		PublicURL:     "http://localhost:3000",
		AssistantName: "Daan-GPT",
		Model:         "gpt-4",
	}, nil)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/health", HealthCheck(p.Active))
	router.POST("/session", StartSession(svc))
	router.GET("/session/:assistantId/thread/:threadId", GetMessages(svc))
	router.POST("/session/:assistantId/thread/:threadId", PostMessage(svc))
	router.DELETE("/session/:assistantId/thread/:threadId", EndSession(svc))

	return &testEnv{fake: fake, poller: p, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) start(t *testing.T) session.StartResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/session", datatypes.StartSessionRequest{Topic: "Algebra", Goal: "solve for x"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res session.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func sessionPath(s session.StartResult) string {
	return fmt.Sprintf("/session/%s/thread/%s", s.AssistantID, s.ThreadID)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) datatypes.ErrorResponse {
	t.Helper()
	var body datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// =============================================================================
// POST /session
// =============================================================================

func TestStartSession_OK(t *testing.T) {
	env := newTestEnv(t, time.Second)

	res := env.start(t)

	assert.NotEmpty(t, res.ThreadID)
	assert.NotEmpty(t, res.AssistantID)
	assert.Equal(t, "http://localhost:3000"+sessionPath(res), res.URL)
}

func TestStartSession_MissingParameter(t *testing.T) {
	env := newTestEnv(t, time.Second)

	w := env.do(t, http.MethodPost, "/session", datatypes.StartSessionRequest{Goal: "learn"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "topic")

	w = env.do(t, http.MethodPost, "/session", datatypes.StartSessionRequest{Topic: "Algebra"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "goal")

	assert.Zero(t, env.fake.Calls(assistants.OpCreateAgent))
}

func TestStartSession_BadJSON(t *testing.T) {
	env := newTestEnv(t, time.Second)

	w := env.do(t, http.MethodPost, "/session", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.fake.Calls(assistants.OpCreateAgent))
}

func TestStartSession_RemoteFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	env.fake.SetError(assistants.OpCreateAgent, errors.New("quota"))

	w := env.do(t, http.MethodPost, "/session", datatypes.StartSessionRequest{Topic: "a", Goal: "b"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgCreateSession, decodeError(t, w).Error)
}

// =============================================================================
// GET /session/:assistantId/thread/:threadId
// =============================================================================

func TestGetMessages(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)

	w := env.do(t, http.MethodGet, sessionPath(s), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	env.fake.SeedMessage(s.ThreadID, assistants.RoleUser, "hello")
	w = env.do(t, http.MethodGet, sessionPath(s), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var msgs []assistants.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text())
}

func TestGetMessages_RemoteFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	env.fake.SetError(assistants.OpListMessages, errors.New("boom"))

	w := env.do(t, http.MethodGet, "/session/asst_1/thread/thread_1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unable to retrieve messages for thread", decodeError(t, w).Error)
}

// =============================================================================
// POST /session/:assistantId/thread/:threadId
// =============================================================================

func TestPostMessage_OK(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)

	w := env.do(t, http.MethodPost, sessionPath(s), datatypes.PostMessageRequest{Message: "What is x?", User: "u1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res poller.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "What is x?", res.Question.Text())
	assert.Equal(t, "answer to: What is x?", res.Answer.Text())
	assert.Len(t, res.Messages, 2)
	assert.Equal(t, 0, env.poller.Active())
}

func TestPostMessage_InvalidBody(t *testing.T) {
	env := newTestEnv(t, time.Second)

	w := env.do(t, http.MethodPost, "/session/asst_1/thread/thread_1", datatypes.PostMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/session/asst_1/thread/thread_1", "[")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, env.fake.Calls(assistants.OpAppendMessage))
}

func TestPostMessage_AppendFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	env.fake.SetError(assistants.OpAppendMessage, errors.New("boom"))

	w := env.do(t, http.MethodPost, "/session/asst_1/thread/thread_1", datatypes.PostMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unable to add message", decodeError(t, w).Error)
	assert.Zero(t, env.fake.Calls(assistants.OpStartRun))
}

func TestPostMessage_StartRunFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)
	env.fake.SetError(assistants.OpStartRun, errors.New("boom"))

	w := env.do(t, http.MethodPost, sessionPath(s), datatypes.PostMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unable to run assistant", decodeError(t, w).Error)
	assert.Zero(t, env.fake.Calls(assistants.OpRunStatus))
}

func TestPostMessage_RunFailed(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)
	env.fake.SetRunScript(assistants.RunStatusFailed)
	env.fake.SetRunError("rate_limit_exceeded", "slow down")

	w := env.do(t, http.MethodPost, sessionPath(s), datatypes.PostMessageRequest{Message: "hi"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, msgRunFailed, body.Error)
	assert.Equal(t, "failed", body.Status)
	assert.Equal(t, "slow down", body.Detail)
}

func TestPostMessage_Timeout(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond)
	s := env.start(t)
	env.fake.SetRunScript(assistants.RunStatusInProgress)

	w := env.do(t, http.MethodPost, sessionPath(s), datatypes.PostMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, 0, env.poller.Active())
}

func TestSessionRoutes_RejectUnsafeIDs(t *testing.T) {
	env := newTestEnv(t, time.Second)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		w := env.do(t, method, "/session/asst%20x/thread/thread_1", datatypes.PostMessageRequest{Message: "hi"})
		assert.Equal(t, http.StatusBadRequest, w.Code, method)
	}
	assert.Zero(t, env.fake.Calls(assistants.OpListMessages))
	assert.Zero(t, env.fake.Calls(assistants.OpAppendMessage))
	assert.Zero(t, env.fake.Calls(assistants.OpDeleteThread))
}

// =============================================================================
// DELETE /session/:assistantId/thread/:threadId
// =============================================================================

func TestEndSession_OK(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)

	w := env.do(t, http.MethodDelete, sessionPath(s), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Thread and Assistant deleted"}`, w.Body.String())
	assert.False(t, env.fake.HasAgent(s.AssistantID))
}

func TestEndSession_ThreadNotDeleted(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)
	env.fake.SetDeleteResults(false, true)

	w := env.do(t, http.MethodDelete, sessionPath(s), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Thread not deleted; nothing further to clean up"}`, w.Body.String())
	assert.True(t, env.fake.HasAgent(s.AssistantID))
}

func TestEndSession_ThreadDeleteFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)
	env.fake.SetError(assistants.OpDeleteThread, errors.New("boom"))

	w := env.do(t, http.MethodDelete, sessionPath(s), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unable to delete thread and assistant", decodeError(t, w).Error)
	assert.Zero(t, env.fake.Calls(assistants.OpDeleteAgent))
}

func TestEndSession_AssistantDeleteFailure(t *testing.T) {
	env := newTestEnv(t, time.Second)
	s := env.start(t)
	env.fake.SetError(assistants.OpDeleteAgent, errors.New("boom"))

	w := env.do(t, http.MethodDelete, sessionPath(s), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	msg := decodeError(t, w).Error
	assert.Contains(t, msg, "Unable to delete assistant")
	assert.Contains(t, msg, s.AssistantID)
	assert.Contains(t, msg, s.ThreadID)
}

// =============================================================================
// GET /health
// =============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, time.Second)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","activePolls":0}`, w.Body.String())
}

func TestHealthCheck_NilCounter(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// StatusFor
// =============================================================================

func TestStatusFor(t *testing.T) {
	callErr := &assistants.CallError{Op: assistants.OpCreateThread, Err: errors.New("x")}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing parameter", &instructions.MissingParameterError{Param: "topic"}, http.StatusBadRequest},
		{"poll in flight", fmt.Errorf("wrapped: %w", poller.ErrPollInFlight), http.StatusConflict},
		{"timeout", poller.ErrRunTimeout, http.StatusGatewayTimeout},
		{"unexpected order", poller.ErrUnexpectedMessageOrder, http.StatusBadGateway},
		{"run failed", &poller.RunFailedError{Status: assistants.RunStatusExpired}, http.StatusInternalServerError},
		{"shutdown", poller.ErrShutdown, http.StatusServiceUnavailable},
		{"create session", fmt.Errorf("%w: %w", session.ErrCreateSession, callErr), http.StatusInternalServerError},
		{"delete thread", session.ErrDeleteThread, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"bare call error", callErr, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, body := StatusFor(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestWriteError_ClientGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/session/a/thread/t", nil).WithContext(ctx)

	writeError(c, fmt.Errorf("poll: %w", context.Canceled))
	assert.True(t, c.IsAborted())
	assert.Zero(t, w.Body.Len())
}
