// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the study leader service.
//
//	Request
//	   │
//	   ▼
//	RequestID ──► reuse or mint X-Request-ID, echo it on the response
//	   │
//	   ▼
//	RequestLogger ──► one slog record per request after the handler returns
//	   │
//	   ▼
//	Handler (retrieves the ID via GetRequestID)
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID is the request correlation header.
const HeaderRequestID = "X-Request-ID"

// requestIDKey is the gin context key for the request ID.
const requestIDKey = "studyleader_request_id"

// maxRequestIDLength caps client-supplied IDs.
const maxRequestIDLength = 128

// RequestID assigns every request an ID.
//
// # Description
//
// A client-supplied X-Request-ID is kept when it is non-empty and at most
// 128 bytes; otherwise a random UUID is generated. The ID is stored in the
// gin context and written back on the response header.
//
// # Thread Safety
//
// Safe for concurrent use.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the request ID, or "" outside RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequestLogger logs method, route, status and latency of every request.
// /health and /metrics are logged at debug.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		level := slog.LevelInfo
		switch {
		case c.Writer.Status() >= 500:
			level = slog.LevelError
		case route == "/health" || route == "/metrics":
			level = slog.LevelDebug
		}

		slog.Log(c.Request.Context(), level, "Handled request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"request_id", GetRequestID(c),
		)
	}
}
