// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func newTestClient(t *testing.T, mux *http.ServeMux) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	return client
}

// =============================================================================
// Construction
// =============================================================================

func TestNewOpenAIClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewOpenAIClient_Limiter(t *testing.T) {
	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", RequestsPerSecond: 2})
	require.NoError(t, err)
	require.NotNil(t, client.limiter)
	assert.Equal(t, 1, client.limiter.Burst())

	client, err = NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Nil(t, client.limiter)
}

// =============================================================================
// Operations
// =============================================================================

func TestCreateAgent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/assistants", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4", req["model"])
		assert.Equal(t, "Daan-GPT", req["name"])
		assert.Equal(t, "be helpful", req["instructions"])
		tools := req["tools"].([]any)
		require.Len(t, tools, 1)
		assert.Equal(t, "code_interpreter", tools[0].(map[string]any)["type"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "asst_1", "object": "assistant", "model": "gpt-4",
			"name": "Daan-GPT", "instructions": "be helpful",
			"tools": []map[string]any{{"type": "code_interpreter"}},
		})
	})
	client := newTestClient(t, mux)

	agent, err := client.CreateAgent(context.Background(), AgentSpec{
		Name: "Daan-GPT", Model: "gpt-4", Instructions: "be helpful",
		Tools: []string{ToolCodeInterpreter},
	})
	require.NoError(t, err)
	assert.Equal(t, Agent{
		ID: "asst_1", Name: "Daan-GPT", Model: "gpt-4",
		Instructions: "be helpful", Tools: []string{"code_interpreter"},
	}, agent)
}

func TestDeleteThreadAndAgent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "deleted": false})
	})
	mux.HandleFunc("DELETE /v1/assistants/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "deleted": true})
	})
	client := newTestClient(t, mux)

	thread, err := client.DeleteThread(context.Background(), "thread_1")
	require.NoError(t, err)
	assert.Equal(t, Deletion{ID: "thread_1", Deleted: false}, thread)

	agent, err := client.DeleteAgent(context.Background(), "asst_1")
	require.NoError(t, err)
	assert.Equal(t, Deletion{ID: "asst_1", Deleted: true}, agent)
}

func TestAppendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user", req["role"])
		assert.Equal(t, "What is a matrix?", req["content"])
		assert.Equal(t, map[string]any{"user": "student-7"}, req["metadata"])

		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "msg_1", "thread_id": r.PathValue("id"), "role": "user", "created_at": 100,
			"content":  []map[string]any{{"type": "text", "text": map[string]any{"value": "What is a matrix?"}}},
			"metadata": map[string]any{"user": "student-7"},
		})
	})
	client := newTestClient(t, mux)

	msg, err := client.AppendMessage(context.Background(), "thread_1", "What is a matrix?",
		map[string]string{"user": "student-7"})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "thread_1", msg.ThreadID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "What is a matrix?", msg.Text())
	assert.Equal(t, int64(100), msg.CreatedAt)
}

func TestStartRunAndRunStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "asst_1", req["assistant_id"])
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": "run_1", "thread_id": r.PathValue("id"), "assistant_id": "asst_1", "status": "queued",
		})
	})
	mux.HandleFunc("GET /v1/threads/{id}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id": r.PathValue("run"), "thread_id": r.PathValue("id"), "assistant_id": "asst_1",
			"status":     "failed",
			"last_error": map[string]any{"code": "rate_limit_exceeded", "message": "slow down"},
		})
	})
	client := newTestClient(t, mux)

	run, err := client.StartRun(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)
	assert.Equal(t, Run{ID: "run_1", ThreadID: "thread_1", AssistantID: "asst_1", Status: RunStatusQueued}, run)

	run, err = client.RunStatus(context.Background(), "thread_1", "run_1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Equal(t, "rate_limit_exceeded", run.LastError.Code)
	assert.Equal(t, "slow down", run.LastError.Message)
}

func TestListMessages_FollowsPagination(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		text := func(v string) []map[string]any {
			return []map[string]any{{"type": "text", "text": map[string]any{"value": v}}}
		}
		if r.URL.Query().Get("after") == "" {
			writeJSON(t, w, http.StatusOK, map[string]any{
				"object": "list", "has_more": true, "last_id": "msg_2",
				"data": []map[string]any{
					{"id": "msg_3", "role": "assistant", "content": text("answer"), "run_id": "run_1"},
					{"id": "msg_2", "role": "user", "content": text("question")},
				},
			})
			return
		}
		assert.Equal(t, "msg_2", r.URL.Query().Get("after"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "list", "has_more": false, "last_id": "msg_1",
			"data": []map[string]any{
				{"id": "msg_1", "role": "user", "content": text("hello")},
			},
		})
	})
	client := newTestClient(t, mux)

	msgs, err := client.ListMessages(context.Background(), "thread_1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"msg_3", "msg_2", "msg_1"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, "run_1", msgs[0].RunID)
	assert.Equal(t, "answer", msgs[0].Text())
	assert.Equal(t, int32(2), calls.Load())
}

// =============================================================================
// Failures
// =============================================================================

func TestCall_RemoteErrorIsTaggedAndPassedThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{"message": "upstream exploded", "type": "server_error"},
		})
	})
	client := newTestClient(t, mux)

	_, err := client.CreateThread(context.Background())
	require.Error(t, err)

	op, ok := IsCallError(err)
	assert.True(t, ok)
	assert.Equal(t, OpCreateThread, op)

	var apiErr *openai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatusCode)
	assert.Contains(t, apiErr.Message, "upstream exploded")
}

func TestCall_CancelledContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/threads/{id}/runs/{run}", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	client := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.RunStatus(ctx, "thread_1", "run_1")
	require.Error(t, err)
	op, ok := IsCallError(err)
	assert.True(t, ok)
	assert.Equal(t, OpRunStatus, op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	pending := []RunStatus{RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction, RunStatusCancelling}
	for _, s := range pending {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, RunStatusCompleted.Succeeded())
	assert.False(t, RunStatusFailed.Succeeded())
}
