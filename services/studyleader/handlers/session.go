// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the study session API.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/studyleader/pkg/validation"
	"github.com/AleutianAI/studyleader/services/studyleader/assistants"
	"github.com/AleutianAI/studyleader/services/studyleader/datatypes"
	"github.com/AleutianAI/studyleader/services/studyleader/instructions"
	"github.com/AleutianAI/studyleader/services/studyleader/middleware"
	"github.com/AleutianAI/studyleader/services/studyleader/poller"
	"github.com/AleutianAI/studyleader/services/studyleader/session"
)

// SessionService is what the handlers need from session.Service.
type SessionService interface {
	Start(ctx context.Context, topic, goal string) (session.StartResult, error)
	Post(ctx context.Context, threadID, assistantID, message, user string) (poller.Result, error)
	History(ctx context.Context, threadID string) ([]assistants.Message, error)
	End(ctx context.Context, threadID, assistantID string) (session.EndResult, error)
}

const (
	msgDeleted            = "Thread and Assistant deleted"
	msgThreadNotDeleted   = "Thread not deleted; nothing further to clean up"
	msgInvalidBody        = "Invalid request body"
	msgInvalidPath        = "Invalid assistantId or threadId"
	msgInternal           = "Internal server error"
	msgCreateSession      = "Unable to create session"
	msgListMessages       = "Unable to retrieve messages for thread"
	msgAppendMessage      = "Unable to add message"
	msgStartRun           = "Unable to run assistant"
	msgRunFailed          = "Assistant run did not complete"
	msgRunTimeout         = "Assistant run timed out"
	msgPollInFlight       = "A run is already in progress for this thread"
	msgUnexpectedOrder    = "Unexpected message order from assistant"
	msgShuttingDown       = "Service is shutting down"
	msgDeleteThread       = "Unable to delete thread and assistant"
	msgDeleteAssistantFmt = "Unable to delete assistant %s; thread %s was deleted"
)

// StartSession handles POST /session.
func StartSession(svc SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Warn("Invalid start session request", "error", err, "request_id", middleware.GetRequestID(c))
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msgInvalidBody, Detail: err.Error()})
			return
		}

		res, err := svc.Start(c.Request.Context(), req.Topic, req.Goal)
		if err != nil {
			writeError(c, err)
			return
		}
		slog.Info("Session started",
			"thread_id", res.ThreadID,
			"assistant_id", res.AssistantID,
			"request_id", middleware.GetRequestID(c),
		)
		c.JSON(http.StatusOK, res)
	}
}

// GetMessages handles GET /session/:assistantId/thread/:threadId.
func GetMessages(svc SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, ok := bindParams(c)
		if !ok {
			return
		}
		msgs, err := svc.History(c.Request.Context(), params.ThreadID)
		if err != nil {
			writeError(c, err)
			return
		}
		if msgs == nil {
			msgs = []assistants.Message{}
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// PostMessage handles POST /session/:assistantId/thread/:threadId. The
// response is written only once the run has finished.
func PostMessage(svc SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, ok := bindParams(c)
		if !ok {
			return
		}

		var req datatypes.PostMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msgInvalidBody, Detail: err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msgInvalidBody, Detail: err.Error()})
			return
		}

		res, err := svc.Post(c.Request.Context(), params.ThreadID, params.AssistantID, req.Message, req.User)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// EndSession handles DELETE /session/:assistantId/thread/:threadId.
func EndSession(svc SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, ok := bindParams(c)
		if !ok {
			return
		}

		res, err := svc.End(c.Request.Context(), params.ThreadID, params.AssistantID)
		switch {
		case errors.Is(err, session.ErrDeleteAssistant), errors.Is(err, session.ErrAssistantNotDeleted):
			slog.Error("Unable to delete assistant",
				"assistant_id", params.AssistantID,
				"thread_id", params.ThreadID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
				Error: fmt.Sprintf(msgDeleteAssistantFmt, params.AssistantID, params.ThreadID),
			})
		case err != nil:
			writeError(c, err)
		case !res.ThreadDeleted:
			c.JSON(http.StatusOK, datatypes.MessageResponse{Message: msgThreadNotDeleted})
		default:
			slog.Info("Thread and assistant deleted", "thread_id", params.ThreadID, "assistant_id", params.AssistantID)
			c.JSON(http.StatusOK, datatypes.MessageResponse{Message: msgDeleted})
		}
	}
}

// HealthCheck handles GET /health. activePolls may be nil.
func HealthCheck(activePolls func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := datatypes.HealthResponse{Status: "healthy"}
		if activePolls != nil {
			resp.ActivePolls = activePolls()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func bindParams(c *gin.Context) (datatypes.SessionParams, bool) {
	var params datatypes.SessionParams
	if err := c.ShouldBindUri(&params); err != nil || params.Validate() != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msgInvalidPath})
		return params, false
	}
	if err := validation.ValidateRemoteIDs(params.AssistantID, params.ThreadID); err != nil {
		slog.Warn("Rejected session path", "error", err, "request_id", middleware.GetRequestID(c))
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msgInvalidPath, Detail: err.Error()})
		return params, false
	}
	return params, true
}

// =============================================================================
// Error mapping
// =============================================================================

// StatusFor maps a service error to an HTTP status and response body.
func StatusFor(err error) (int, datatypes.ErrorResponse) {
	var missing *instructions.MissingParameterError
	var failed *poller.RunFailedError

	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, datatypes.ErrorResponse{Error: missing.Error()}
	case errors.Is(err, poller.ErrPollInFlight):
		return http.StatusConflict, datatypes.ErrorResponse{Error: msgPollInFlight}
	case errors.Is(err, poller.ErrRunTimeout):
		return http.StatusGatewayTimeout, datatypes.ErrorResponse{Error: msgRunTimeout}
	case errors.Is(err, poller.ErrUnexpectedMessageOrder):
		return http.StatusBadGateway, datatypes.ErrorResponse{Error: msgUnexpectedOrder, Detail: err.Error()}
	case errors.As(err, &failed):
		return http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:  msgRunFailed,
			Status: string(failed.Status),
			Detail: failed.Message,
		}
	case errors.Is(err, poller.ErrShutdown):
		return http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: msgShuttingDown}
	case errors.Is(err, session.ErrCreateSession):
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgCreateSession}
	case errors.Is(err, session.ErrListMessages):
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgListMessages}
	case errors.Is(err, session.ErrAppendMessage):
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgAppendMessage}
	case errors.Is(err, session.ErrStartRun):
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgStartRun}
	case errors.Is(err, session.ErrDeleteThread):
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgDeleteThread}
	default:
		return http.StatusInternalServerError, datatypes.ErrorResponse{Error: msgInternal}
	}
}

func writeError(c *gin.Context, err error) {
	requestID := middleware.GetRequestID(c)

	// Nobody is left to read a response.
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		slog.Info("Client went away before the request finished", "request_id", requestID, "error", err)
		c.Abort()
		return
	}

	status, body := StatusFor(err)
	attrs := []any{"status", status, "request_id", requestID, "error", err}
	if op, ok := assistants.IsCallError(err); ok {
		attrs = append(attrs, "op", op)
	}
	if status >= http.StatusInternalServerError {
		slog.Error(body.Error, attrs...)
	} else {
		slog.Warn(body.Error, attrs...)
	}
	c.JSON(status, body)
}
