// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/springqna/springqna/services/server/services"
)

// HandleAgentChatStream streams a web-search agent answer over the same
// SSE event contract as the RAG stream. Deployments without a search key
// pass a nil streamer and every call gets a 503.
//
// The streamer is typed as the interface rather than *services.AgentService
// so a nil check here is a plain comparison, not a typed-nil trap.
func HandleAgentChatStream(agent AnswerStreamer) gin.HandlerFunc {
	run := streamChat(agent, "HandleAgentChatStream")
	return func(c *gin.Context) {
		if agent == nil {
			writeServiceError(c, &services.AgentDisabledError{Reason: "web search is not configured"})
			return
		}
		run(c)
	}
}
