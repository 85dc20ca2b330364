// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package studyleader

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/assistants/assistantstest"
	"github.com/AleutianAI/studyleader/services/studyleader/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		PublicURL: "http://study.test",
		Poll:      PollConfig{Interval: 2 * time.Millisecond, Timeout: 2 * time.Second},
		Telemetry: TelemetryConfig{TracesExporter: "none", MetricsExporter: "prometheus"},
	}
}

func newTestService(t *testing.T, fake *assistantstest.Fake, lis net.Listener) Service {
	t.Helper()
	svc, err := New(context.Background(), testConfig(), &Options{
		Client:   fake,
		Registry: prometheus.NewRegistry(),
		Listener: lis,
	})
	require.NoError(t, err)
	return svc
}

func TestNew_RequiresAPIKeyWithoutInjectedClient(t *testing.T) {
	_, err := New(context.Background(), testConfig(), &Options{Registry: prometheus.NewRegistry()})
	assert.ErrorIs(t, err, assistants.ErrMissingAPIKey)
}

func TestNew_BuildsOpenAIClient(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = "sk-test"
	svc, err := New(context.Background(), cfg, &Options{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	assert.NotNil(t, svc.Router())
}

func TestNew_UnknownExporter(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.TracesExporter = "zipkin"
	_, err := New(context.Background(), cfg, &Options{Client: assistantstest.NewFake(), Registry: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	fake := assistantstest.NewFake()
	router := newTestService(t, fake, nil).Router()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/session", `{"topic":"Geometry","goal":"prove Pythagoras"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	var start struct {
		ThreadID    string `json:"threadId"`
		AssistantID string `json:"assistantId"`
		URL         string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &start))
	path := "/session/" + start.AssistantID + "/thread/" + start.ThreadID
	assert.Equal(t, "http://study.test"+path, start.URL)

	w = do(http.MethodPost, path, `{"message":"Where do I begin?","user":"ana"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "answer to: Where do I begin?")

	w = do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []assistants.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 2)

	w = do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Thread and Assistant deleted")

	w = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `studyleader_session_operations_total{operation="end",status="success"} 1`)
	assert.Contains(t, w.Body.String(), `studyleader_run_outcomes_total{outcome="completed"} 1`)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fake := assistantstest.NewFake()
	svc := newTestService(t, fake, lis)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	base := "http://" + lis.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ShutdownCancelsInFlightPoll(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fake := assistantstest.NewFake()
	fake.SetRunScript(assistants.RunStatusInProgress)
	svc := newTestService(t, fake, lis)

	thread, err := fake.CreateThread(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	base := "http://" + lis.Addr().String()
	type reply struct {
		status int
		body   string
	}
	replies := make(chan reply, 1)
	go func() {
		for {
			resp, err := http.Post(base+"/session/asst_x/thread/"+thread.ID, "application/json",
				bytes.NewBufferString(`{"message":"hello"}`))
			if err != nil {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			replies <- reply{status: resp.StatusCode, body: string(body)}
			return
		}
	}()

	require.Eventually(t, func() bool {
		return fake.Calls(assistants.OpRunStatus) > 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	r := <-replies
	assert.Equal(t, http.StatusServiceUnavailable, r.status, r.body)
	assert.NoError(t, <-done)
}
