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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	instrumentationName = "github.com/AleutianAI/studyleader/services/studyleader/assistants"

	// listPageSize is the largest page the messages endpoint accepts.
	listPageSize = 100
)

// ErrMissingAPIKey is returned by NewOpenAIClient when no key is configured.
var ErrMissingAPIKey = errors.New("assistants: API key is required")

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	// APIKey authenticates against the remote service. Required.
	APIKey string

	// BaseURL overrides the API root, e.g. "http://localhost:8080/v1".
	// Empty uses the public OpenAI endpoint.
	BaseURL string

	// RequestsPerSecond caps outbound calls across all sessions. Zero or
	// negative disables the budget.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Defaults to 1 when a budget is set.
	Burst int
}

// OpenAIClient implements Client on top of the OpenAI Assistants API.
//
// # Description
//
// Each method is exactly one outward HTTP call (ListMessages follows
// pagination until the thread is exhausted). Calls are traced as
// "assistants.<op>" spans and timed on the
// "studyleader.assistants.call.duration" histogram.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying go-openai client and the
// rate limiter are both goroutine-safe.
type OpenAIClient struct {
	api          *openai.Client
	limiter      *rate.Limiter
	tracer       trace.Tracer
	callDuration metric.Float64Histogram
}

// NewOpenAIClient creates the gateway.
//
// # Inputs
//
//   - cfg: APIKey is required. See OpenAIConfig for the rest.
//
// # Outputs
//
//   - *OpenAIClient: Ready to use.
//   - error: ErrMissingAPIKey, or a failure to create the histogram.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	hist, err := otel.Meter(instrumentationName).Float64Histogram(
		"studyleader.assistants.call.duration",
		metric.WithDescription("Latency of calls to the remote assistants service"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create call duration histogram: %w", err)
	}

	slog.Info("Initializing assistants client",
		"base_url", apiCfg.BaseURL,
		"requests_per_second", cfg.RequestsPerSecond,
	)

	return &OpenAIClient{
		api:          openai.NewClientWithConfig(apiCfg),
		limiter:      limiter,
		tracer:       otel.Tracer(instrumentationName),
		callDuration: hist,
	}, nil
}

// call runs fn inside a span, under the outbound budget, and tags any
// failure with op.
func (c *OpenAIClient) call(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := c.tracer.Start(ctx, "assistants."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := c.wait(ctx)
	if err == nil {
		err = fn(ctx)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.callDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		return &CallError{Op: op, Err: err}
	}
	return nil
}

func (c *OpenAIClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// CreateAgent creates an assistant.
func (c *OpenAIClient) CreateAgent(ctx context.Context, spec AgentSpec) (Agent, error) {
	req := openai.AssistantRequest{
		Model:        spec.Model,
		Name:         &spec.Name,
		Instructions: &spec.Instructions,
	}
	for _, tool := range spec.Tools {
		req.Tools = append(req.Tools, openai.AssistantTool{Type: openai.AssistantToolType(tool)})
	}

	var out Agent
	err := c.call(ctx, OpCreateAgent, func(ctx context.Context) error {
		resp, err := c.api.CreateAssistant(ctx, req)
		if err != nil {
			return err
		}
		out = toAgent(resp)
		return nil
	}, attribute.String("assistant.model", spec.Model))
	return out, err
}

// DeleteAgent deletes an assistant.
func (c *OpenAIClient) DeleteAgent(ctx context.Context, agentID string) (Deletion, error) {
	var out Deletion
	err := c.call(ctx, OpDeleteAgent, func(ctx context.Context) error {
		resp, err := c.api.DeleteAssistant(ctx, agentID)
		if err != nil {
			return err
		}
		out = Deletion{ID: resp.ID, Deleted: resp.Deleted}
		return nil
	}, attribute.String("assistant.id", agentID))
	return out, err
}

// CreateThread opens an empty thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (Thread, error) {
	var out Thread
	err := c.call(ctx, OpCreateThread, func(ctx context.Context) error {
		resp, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return err
		}
		out = Thread{ID: resp.ID}
		return nil
	})
	return out, err
}

// DeleteThread deletes a thread.
func (c *OpenAIClient) DeleteThread(ctx context.Context, threadID string) (Deletion, error) {
	var out Deletion
	err := c.call(ctx, OpDeleteThread, func(ctx context.Context) error {
		resp, err := c.api.DeleteThread(ctx, threadID)
		if err != nil {
			return err
		}
		out = Deletion{ID: resp.ID, Deleted: resp.Deleted}
		return nil
	}, attribute.String("thread.id", threadID))
	return out, err
}

// ListMessages returns the whole thread, newest first. The order is
// requested explicitly rather than relying on the remote default.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var out []Message
	err := c.call(ctx, OpListMessages, func(ctx context.Context) error {
		limit := listPageSize
		order := "desc"
		var after *string
		for {
			page, err := c.api.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
			if err != nil {
				return err
			}
			for _, m := range page.Messages {
				out = append(out, toMessage(m))
			}
			if !page.HasMore || page.LastID == nil {
				return nil
			}
			after = page.LastID
		}
	}, attribute.String("thread.id", threadID))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage adds a user message to the thread.
func (c *OpenAIClient) AppendMessage(ctx context.Context, threadID, content string, metadata map[string]string) (Message, error) {
	req := openai.MessageRequest{
		Role:    RoleUser,
		Content: content,
	}
	if len(metadata) > 0 {
		req.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			req.Metadata[k] = v
		}
	}

	var out Message
	err := c.call(ctx, OpAppendMessage, func(ctx context.Context) error {
		resp, err := c.api.CreateMessage(ctx, threadID, req)
		if err != nil {
			return err
		}
		out = toMessage(resp)
		return nil
	}, attribute.String("thread.id", threadID), attribute.Int("message.length", len(content)))
	return out, err
}

// StartRun asks the agent to respond to the thread.
func (c *OpenAIClient) StartRun(ctx context.Context, threadID, agentID string) (Run, error) {
	var out Run
	err := c.call(ctx, OpStartRun, func(ctx context.Context) error {
		resp, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: agentID})
		if err != nil {
			return err
		}
		out = toRun(resp)
		return nil
	}, attribute.String("thread.id", threadID), attribute.String("assistant.id", agentID))
	return out, err
}

// RunStatus retrieves the current state of a run.
func (c *OpenAIClient) RunStatus(ctx context.Context, threadID, runID string) (Run, error) {
	var out Run
	err := c.call(ctx, OpRunStatus, func(ctx context.Context) error {
		resp, err := c.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return err
		}
		out = toRun(resp)
		return nil
	}, attribute.String("thread.id", threadID), attribute.String("run.id", runID))
	return out, err
}

// =============================================================================
// Conversions
// =============================================================================

func toAgent(a openai.Assistant) Agent {
	out := Agent{ID: a.ID, Model: a.Model}
	if a.Name != nil {
		out.Name = *a.Name
	}
	if a.Instructions != nil {
		out.Instructions = *a.Instructions
	}
	for _, tool := range a.Tools {
		out.Tools = append(out.Tools, string(tool.Type))
	}
	return out
}

func toMessage(m openai.Message) Message {
	out := Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      m.Role,
		Metadata:  m.Metadata,
		CreatedAt: int64(m.CreatedAt),
		Content:   make([]ContentPart, 0, len(m.Content)),
	}
	if m.RunID != nil {
		out.RunID = *m.RunID
	}
	for _, c := range m.Content {
		part := ContentPart{Type: c.Type}
		if c.Text != nil {
			part.Text = c.Text.Value
		}
		out.Content = append(out.Content, part)
	}
	return out
}

func toRun(r openai.Run) Run {
	out := Run{
		ID:          r.ID,
		ThreadID:    r.ThreadID,
		AssistantID: r.AssistantID,
		Status:      RunStatus(r.Status),
	}
	if r.LastError != nil {
		out.LastError = &RunError{Code: string(r.LastError.Code), Message: r.LastError.Message}
	}
	return out
}

var _ Client = (*OpenAIClient)(nil)
