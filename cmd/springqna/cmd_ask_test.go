// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springqna/springqna/services/server/datatypes"
)

func withServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	prev := askServerURL
	askServerURL = server.URL
	t.Cleanup(func() { askServerURL = prev })
}

func TestSendRAGRequest_Success(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rag/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req datatypes.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "질문", req.Message)

		resp := datatypes.NewRagResponse("답변", []datatypes.SourceDocument{
			{Index: 1, SourceURL: "https://docs.spring.io/a"},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	resp, err := sendRAGRequest("질문")
	require.NoError(t, err)
	assert.Equal(t, "답변", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "https://docs.spring.io/a", resp.Sources[0].SourceURL)
}

func TestSendRAGRequest_ServerError(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "generation failed"}`, http.StatusInternalServerError)
	})

	_, err := sendRAGRequest("질문")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "generation failed")
}

func TestSendRAGStreamRequest_Success(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rag/chat/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")

		fmt.Fprintf(w, "data: %s\n\n", `{"type":"chunk","content":"짧은 "}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"chunk","content":"답변"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"answer","content":"짧은 답변"}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"sources","sources":[{"index":1,"source_url":"https://d/a","page_content":"..."}]}`)
		fmt.Fprintf(w, "data: %s\n\n", datatypes.DoneSentinel)
	})

	resp, err := sendRAGStreamRequest("질문")
	require.NoError(t, err)
	assert.Equal(t, "짧은 답변", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 1, resp.Sources[0].Index)
}

func TestSendRAGStreamRequest_MissingDoneIsFailure(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"type":"chunk","content":"부분"}`)
		// Connection ends without the sentinel.
	})

	_, err := sendRAGStreamRequest("질문")
	require.Error(t, err)
	assert.Contains(t, err.Error(), datatypes.DoneSentinel)
}

func TestSendRAGStreamRequest_MalformedEvent(t *testing.T) {
	withServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {broken\n\n")
	})

	_, err := sendRAGStreamRequest("질문")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed stream event")
}
