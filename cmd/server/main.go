// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command server starts the Spring QnA HTTP server.
//
// Configuration comes entirely from environment variables, read once at
// startup; a missing required value (model keys, index name, namespace)
// fails the process here, never at the first request.
//
// # Environment Variables
//
// Required:
//
//   - GEMINI_API_KEY: Gemini API key (chat, classifier, embeddings)
//   - PINECONE_API_KEY: Pinecone API key
//   - PINECONE_INDEX_NAME: Pinecone index holding the documentation
//   - PINECONE_NAMESPACE: Index namespace (no default)
//
// Common optional values (see the config package for the full surface):
//
//   - PORT: HTTP port (default: 8080)
//   - CHAT_BACKEND: "gemini" or "openai" (default: gemini)
//   - VECTOR_BACKEND: "pinecone" or "weaviate" (default: pinecone)
//   - REDIS_URL: enables the answer cache when set
//   - TAVILY_API_KEY: enables the web-search agent endpoint when set
//   - OTEL_EXPORTER_OTLP_ENDPOINT: trace collector (default: localhost:4317)
//
// # Usage
//
//	go build -o springqna-server ./cmd/server
//	./springqna-server
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/springqna/springqna/services/server"
	"github.com/springqna/springqna/services/server/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	svc, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
