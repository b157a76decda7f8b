// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the server configuration from the environment.
//
// The environment is read exactly once, in Load(). The resulting Config is
// treated as immutable and handed to constructors; nothing else in the
// process reads environment variables. Missing required values fail Load()
// with a ConfigurationError listing every missing key at once, so a broken
// deployment dies at startup rather than on the first request.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chat backends.
const (
	ChatBackendGemini = "gemini"
	ChatBackendOpenAI = "openai"
)

// Vector store backends.
const (
	VectorBackendPinecone = "pinecone"
	VectorBackendWeaviate = "weaviate"
)

// =============================================================================
// Config
// =============================================================================

// Config holds every tunable of the QnA server.
//
// # Description
//
// Field groups mirror the service's concerns: identity and HTTP surface,
// model backends, vector retrieval, answer caching, admission control, and
// tracing. All values come from the environment; see Load for keys and
// defaults.
//
// # Assumptions
//
//   - The value is never mutated after Load returns.
//   - Zero values for optional subsystems (RedisURL, TavilyAPIKey) mean
//     "disabled", not "misconfigured".
type Config struct {
	// Identity and HTTP surface.
	ProjectName string
	APIPrefix   string
	Port        int

	// Chat model backends. Embeddings are always Gemini: the vector index
	// is built with gemini-embedding-001 and mixing embedding families
	// would corrupt similarity search.
	ChatBackend           string
	GeminiAPIKey          string
	GeminiChatModel       string
	GeminiClassifierModel string
	GeminiEmbedModel      string
	EmbedDimension        int
	OpenAIAPIKey          string
	OpenAIChatModel       string
	OpenAIBaseURL         string

	// Vector retrieval.
	VectorBackend     string
	PineconeAPIKey    string
	PineconeIndexName string
	PineconeNamespace string
	WeaviateURL       string
	WeaviateClass     string
	RetrievalTopK     int

	// Answer cache. Empty RedisURL disables the whole layer.
	RedisURL        string
	PipelineVersion string
	AnswerCacheTTL  time.Duration
	CacheLockTTL    time.Duration
	CacheLockWait   time.Duration
	CacheLockPoll   time.Duration

	// Admission control.
	MaxConcurrency        int
	SemaphoreWaitTimeout  time.Duration
	OverloadRetryAfterSec int

	// Web-search agent. Empty TavilyAPIKey disables the agent endpoint.
	TavilyAPIKey string

	// Observability.
	OTLPEndpoint string
}

// =============================================================================
// Errors
// =============================================================================

// ConfigurationError reports a fatal startup misconfiguration.
type ConfigurationError struct {
	Message string
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// =============================================================================
// Load
// =============================================================================

// Load reads the full configuration from the environment.
//
// # Description
//
// Reads every key once, applies defaults and floors, and validates the
// result. Required keys depend on the selected backends:
//
//   - GEMINI_API_KEY is always required (embeddings run on Gemini).
//   - With VECTOR_BACKEND=pinecone (default): PINECONE_API_KEY,
//     PINECONE_INDEX_NAME and PINECONE_NAMESPACE are required. The
//     namespace has deliberately no default; an index accidentally
//     queried in the wrong namespace returns silently empty results,
//     so the operator must state it.
//   - With VECTOR_BACKEND=weaviate: WEAVIATE_URL is required.
//   - With CHAT_BACKEND=openai: OPENAI_API_KEY is required.
//
// # Outputs
//
//   - *Config: Immutable configuration, ready for injection.
//   - error: *ConfigurationError naming every missing or invalid key.
func Load() (*Config, error) {
	cfg := &Config{
		ProjectName: getEnvString("PROJECT_NAME", "Spring QnA Chatbot"),
		APIPrefix:   getEnvString("API_STR", "/api"),
		Port:        getEnvInt("PORT", 8080),

		ChatBackend:           getEnvString("CHAT_BACKEND", ChatBackendGemini),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiChatModel:       getEnvString("GEMINI_CHAT_MODEL", "gemini-3-flash-preview"),
		GeminiClassifierModel: getEnvString("GEMINI_CLASSIFIER_MODEL", "gemini-3-pro-preview"),
		GeminiEmbedModel:      getEnvString("GEMINI_EMBED_MODEL", "gemini-embedding-001"),
		EmbedDimension:        getEnvInt("EMBED_DIMENSION", 0),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIChatModel:       getEnvString("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),

		VectorBackend:     getEnvString("VECTOR_BACKEND", VectorBackendPinecone),
		PineconeAPIKey:    os.Getenv("PINECONE_API_KEY"),
		PineconeIndexName: os.Getenv("PINECONE_INDEX_NAME"),
		PineconeNamespace: os.Getenv("PINECONE_NAMESPACE"),
		WeaviateURL:       os.Getenv("WEAVIATE_URL"),
		WeaviateClass:     getEnvString("WEAVIATE_CLASS", "SpringDoc"),
		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", 4),

		RedisURL:        os.Getenv("REDIS_URL"),
		PipelineVersion: getEnvString("PIPELINE_VERSION", "1"),
		AnswerCacheTTL:  time.Duration(getEnvInt("ANSWER_CACHE_TTL_SEC", 3600)) * time.Second,
		CacheLockTTL:    time.Duration(getEnvInt("CACHE_LOCK_TTL_SEC", 120)) * time.Second,
		CacheLockWait:   time.Duration(getEnvInt("CACHE_LOCK_WAIT_MS", 60000)) * time.Millisecond,
		CacheLockPoll:   time.Duration(getEnvInt("CACHE_LOCK_POLL_MS", 100)) * time.Millisecond,

		MaxConcurrency:        getEnvInt("RAG_MAX_CONCURRENCY", 16),
		SemaphoreWaitTimeout:  time.Duration(getEnvFloat("RAG_SEMAPHORE_WAIT_TIMEOUT_SEC", 1.0) * float64(time.Second)),
		OverloadRetryAfterSec: getEnvInt("RAG_OVERLOAD_RETRY_AFTER_SEC", 1),

		TavilyAPIKey: os.Getenv("TAVILY_API_KEY"),

		OTLPEndpoint: getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var missing []string
	if cfg.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}

	switch cfg.ChatBackend {
	case ChatBackendGemini:
	case ChatBackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("CHAT_BACKEND must be %q or %q, got %q",
				ChatBackendGemini, ChatBackendOpenAI, cfg.ChatBackend),
		}
	}

	switch cfg.VectorBackend {
	case VectorBackendPinecone:
		if cfg.PineconeAPIKey == "" {
			missing = append(missing, "PINECONE_API_KEY")
		}
		if cfg.PineconeIndexName == "" {
			missing = append(missing, "PINECONE_INDEX_NAME")
		}
		if cfg.PineconeNamespace == "" {
			missing = append(missing, "PINECONE_NAMESPACE")
		}
	case VectorBackendWeaviate:
		if cfg.WeaviateURL == "" {
			missing = append(missing, "WEAVIATE_URL")
		}
	default:
		return nil, &ConfigurationError{
			Message: fmt.Sprintf("VECTOR_BACKEND must be %q or %q, got %q",
				VectorBackendPinecone, VectorBackendWeaviate, cfg.VectorBackend),
		}
	}

	if len(missing) > 0 {
		return nil, &ConfigurationError{
			Message: "missing required environment variables: " + strings.Join(missing, ", "),
		}
	}

	applyFloors(cfg)
	return cfg, nil
}

// applyFloors clamps tunables to their minimum safe values.
func applyFloors(cfg *Config) {
	if cfg.RetrievalTopK < 1 {
		slog.Warn("RETRIEVAL_TOP_K below 1, using 1", "value", cfg.RetrievalTopK)
		cfg.RetrievalTopK = 1
	}
	if cfg.MaxConcurrency < 1 {
		slog.Warn("RAG_MAX_CONCURRENCY below 1, using 1", "value", cfg.MaxConcurrency)
		cfg.MaxConcurrency = 1
	}
	if cfg.SemaphoreWaitTimeout < 100*time.Millisecond {
		cfg.SemaphoreWaitTimeout = 100 * time.Millisecond
	}
	if cfg.OverloadRetryAfterSec < 1 {
		cfg.OverloadRetryAfterSec = 1
	}
	if cfg.CacheLockPoll < 10*time.Millisecond {
		cfg.CacheLockPoll = 10 * time.Millisecond
	}
}

// =============================================================================
// Environment Helpers
// =============================================================================

// getEnvString returns the value of key, or fallback when unset or empty.
func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt returns the integer value of key, or fallback when unset or
// unparseable. Malformed values are logged rather than fatal so a typo in
// a tunable does not take the service down.
func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default",
			"key", key, "value", value, "default", fallback)
		return fallback
	}
	return parsed
}

// getEnvFloat returns the float value of key, or fallback when unset or
// unparseable.
func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Invalid float in environment, using default",
			"key", key, "value", value, "default", fallback)
		return fallback
	}
	return parsed
}
