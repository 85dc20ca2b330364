// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/studyleader/services/studyleader/handlers"
)

// SetupRoutes registers the session API, /health and, when metrics is
// non-nil, /metrics.
func SetupRoutes(router *gin.Engine, svc handlers.SessionService, activePolls func() int, metrics http.Handler) {
	router.GET("/health", handlers.HealthCheck(activePolls))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	router.POST("/session", handlers.StartSession(svc))
	sessions := router.Group("/session/:assistantId/thread/:threadId")
	{
		sessions.GET("", handlers.GetMessages(svc))
		sessions.POST("", handlers.PostMessage(svc))
		sessions.DELETE("", handlers.EndSession(svc))
	}
}
