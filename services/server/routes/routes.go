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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/springqna/springqna/services/server/handlers"
	"github.com/springqna/springqna/services/server/services"
)

// Deps are the wired services the routes dispatch to.
//
// RAG is the answerer behind the synchronous endpoint and the websocket;
// it is the cache-fronted service when Redis is configured. RAGStream is
// always the plain RAG service since streams are never cached. Agent may
// be nil, which turns its endpoint into a 503.
type Deps struct {
	Chain     *services.ChainService
	RAG       handlers.RAGAnswerer
	RAGStream handlers.AnswerStreamer
	Agent     handlers.AnswerStreamer
}

// SetupRoutes registers every route of the QnA server under apiPrefix
// (default "/api"), plus the unprefixed health and metrics endpoints.
func SetupRoutes(router *gin.Engine, apiPrefix string, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if apiPrefix == "" {
		apiPrefix = "/api"
	}
	api := router.Group(apiPrefix)
	{
		api.POST("/example/chat", handlers.HandleExampleChat(deps.Chain))
		api.POST("/chat", handlers.HandleProjectChat(deps.Chain))
		api.GET("/chat/ws", handlers.HandleChatWebSocket(deps.RAG))

		rag := api.Group("/rag")
		{
			rag.POST("/chat", handlers.HandleRAGChat(deps.RAG))
			rag.POST("/chat/stream", handlers.HandleRAGChatStream(deps.RAGStream))
		}

		api.POST("/agent/chat/stream", handlers.HandleAgentChatStream(deps.Agent))
	}
}
