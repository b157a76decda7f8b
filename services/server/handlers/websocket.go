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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsResponse is one answer frame. Error is set instead of Answer/Sources
// when the request failed; the connection stays open either way.
type wsResponse struct {
	Answer  string                     `json:"answer,omitempty"`
	Sources []datatypes.SourceDocument `json:"sources,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves the chat over a websocket: each request frame
// is a ChatRequest, each reply frame carries the full answer with sources.
// Answers are synchronous per frame; there is no token streaming on this
// transport, the SSE endpoint covers that.
func HandleChatWebSocket(rag RAGAnswerer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sessionID := uuid.New().String()
		slog.Info("Websocket chat session started", "sessionID", sessionID)

		if err := sendJSON(ws, map[string]any{
			"action":    "session_created",
			"sessionId": sessionID,
		}); err != nil {
			return
		}

		for {
			var req datatypes.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("Websocket client disconnected", "sessionID", sessionID, "error", err.Error())
				break
			}

			if err := req.Validate(); err != nil {
				if sendJSON(ws, wsResponse{Error: (&services.ValidationError{Message: err.Error()}).Error()}) != nil {
					break
				}
				continue
			}

			resp, err := rag.Answer(c.Request.Context(), req.Message, req.History)
			if err != nil {
				slog.Error("Websocket RAG answer failed", "sessionID", sessionID, "error", err)
				if sendJSON(ws, wsResponse{Error: err.Error()}) != nil {
					break
				}
				continue
			}

			if sendJSON(ws, wsResponse{Answer: resp.Answer, Sources: resp.Sources}) != nil {
				break
			}
		}
	}
}
