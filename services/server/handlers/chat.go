// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin HTTP handlers for the QnA server.
//
// Handlers do boundary work only: bind and validate the request, call one
// service method, and map the result (or its typed error) onto an HTTP
// response. Business logic lives in the services packages.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/services"
)

var chatTracer = otel.Tracer("springqna.handlers.chat")

// bindChatRequest binds and validates the shared chat request body. On
// failure it has already written the 400 response and returns false.
func bindChatRequest(c *gin.Context, req *datatypes.ChatRequest) bool {
	if err := c.BindJSON(req); err != nil {
		slog.Error("Failed to parse the chat request", "endpoint", c.FullPath(), "error", err)
		writeServiceError(c, &services.ValidationError{Message: "invalid request body"})
		return false
	}
	if err := req.Validate(); err != nil {
		writeServiceError(c, &services.ValidationError{Message: err.Error()})
		return false
	}
	return true
}

// HandleExampleChat answers with the fixed Spring-expert template and no
// retrieval. It exists as the minimal reference endpoint: one model call,
// no context, no sources.
func HandleExampleChat(chain *services.ChainService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleExampleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if !bindChatRequest(c, &req) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		answer, err := chain.ExampleAnswer(ctx, req.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ChatResponse{Answer: answer})
	}
}

// HandleProjectChat answers via the project-classified chain: classify the
// question into a Spring project, then answer with that project's persona.
func HandleProjectChat(chain *services.ChainService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleProjectChat")
		defer span.End()

		var req datatypes.ChatRequest
		if !bindChatRequest(c, &req) {
			span.SetStatus(codes.Error, "invalid request")
			return
		}

		answer, err := chain.ProjectAnswer(ctx, req.Message, req.History)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ChatResponse{Answer: answer})
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
