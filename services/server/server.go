// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server wires the QnA service together: configuration in, a
// running HTTP server out.
//
// New constructs every component from an immutable config.Config value and
// injects it down the constructor chain; nothing below this package reads
// the environment. Construction is fail-fast: an unreachable vector index
// or a missing model key kills the process at startup, never at the first
// request. The two deliberate exceptions are the answer cache and the
// web-search agent, which are optional subsystems that disable themselves
// instead of failing the boot.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/cache"
	"github.com/springqna/springqna/services/server/config"
	"github.com/springqna/springqna/services/server/handlers"
	"github.com/springqna/springqna/services/server/middleware"
	"github.com/springqna/springqna/services/server/query"
	"github.com/springqna/springqna/services/server/retrieval"
	"github.com/springqna/springqna/services/server/routes"
	"github.com/springqna/springqna/services/server/services"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the QnA server lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and is
// called at most once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the configured gin engine for integration testing.
	// Callers must not modify it.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service is the production Service implementation. All fields are
// read-only after New returns.
type service struct {
	cfg           *config.Config
	router        *gin.Engine
	tracerCleanup func(context.Context)
}

// New builds a ready-to-run Service from a loaded configuration.
//
// # Description
//
// Initialization order:
//  1. OpenTelemetry tracing (OTLP gRPC exporter)
//  2. Model clients: Gemini chat + classifier, optional OpenAI chat
//  3. Gemini query embedder and the configured vector retriever
//     (Pinecone or Weaviate), with a startup accessibility check
//  4. Services: rewrite, admission guard, RAG, chain, optional agent
//  5. Optional Redis answer cache in front of the synchronous RAG path
//  6. Router with middleware and routes
//
// # Inputs
//
//   - cfg: Loaded configuration. Must be non-nil and already validated
//     by config.Load.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil when a required component cannot be constructed.
func New(cfg *config.Config) (Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	ctx := context.Background()

	s := &service{cfg: cfg}

	cleanup, err := initTracer(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Gemini is always constructed: embeddings and the classifier run on it
	// even when chat answers come from an OpenAI-compatible backend.
	geminiChat, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiChatModel)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create Gemini chat client: %w", err)
	}
	classifier, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiClassifierModel)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create Gemini classifier client: %w", err)
	}

	var chatClient llm.LLMClient
	switch cfg.ChatBackend {
	case config.ChatBackendOpenAI:
		chatClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIChatModel, cfg.OpenAIBaseURL)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to create OpenAI chat client: %w", err)
		}
		slog.Info("Using OpenAI-compatible chat backend", "model", cfg.OpenAIChatModel)
	default:
		chatClient = geminiChat
		slog.Info("Using Gemini chat backend", "model", cfg.GeminiChatModel)
	}

	embedder, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.EmbedDimension)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to create Gemini embedder: %w", err)
	}

	retriever, err := initRetriever(ctx, cfg, embedder)
	if err != nil {
		s.cleanup()
		return nil, err
	}

	rewriter := query.NewRewriter(chatClient)
	admission := services.NewAdmissionGuard(
		cfg.MaxConcurrency,
		cfg.SemaphoreWaitTimeout,
		time.Duration(cfg.OverloadRetryAfterSec)*time.Second,
	)
	ragService := services.NewRAGService(retriever, chatClient, rewriter, admission)
	chainService := services.NewChainService(chatClient, classifier)

	ragAnswerer := initAnswerer(cfg, ragService, admission)
	agent := initAgent(cfg, geminiChat)

	s.initRouter(routes.Deps{
		Chain:     chainService,
		RAG:       ragAnswerer,
		RAGStream: ragService,
		Agent:     agent,
	})

	return s, nil
}

// Run starts the HTTP server and blocks until it stops. Resources are
// released on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	slog.Info("Starting QnA server",
		"project", s.cfg.ProjectName,
		"port", s.cfg.Port,
		"api_prefix", s.cfg.APIPrefix,
		"chat_backend", s.cfg.ChatBackend,
		"vector_backend", s.cfg.VectorBackend,
	)
	return s.router.Run(addr)
}

// Router returns the configured gin engine for integration testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization
// =============================================================================

// initTracer sets up the OTLP gRPC trace exporter and returns its shutdown
// function. The connection is insecure, appropriate for an in-cluster
// collector.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("springqna-server")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initRetriever builds the configured vector retriever. Both backends run
// an accessibility check here so a bad index configuration fails the boot.
func initRetriever(ctx context.Context, cfg *config.Config, embedder retrieval.Embedder) (retrieval.Retriever, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendWeaviate:
		client, err := retrieval.NewWeaviateClient(cfg.WeaviateURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
		}
		slog.Info("Using Weaviate vector backend", "url", cfg.WeaviateURL, "class", cfg.WeaviateClass)
		return retrieval.NewWeaviateRetriever(client, cfg.WeaviateClass, embedder, cfg.RetrievalTopK), nil
	default:
		index, err := retrieval.ConnectPineconeIndex(ctx, cfg.PineconeAPIKey, cfg.PineconeIndexName, cfg.PineconeNamespace)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Pinecone: %w", err)
		}
		return retrieval.NewPineconeRetriever(index, embedder, cfg.RetrievalTopK), nil
	}
}

// initAnswerer fronts the RAG service with the Redis answer cache when one
// is configured. A broken Redis URL degrades to the uncached service; the
// cache never costs a deployment its chat endpoint.
func initAnswerer(cfg *config.Config, rag *services.RAGService, admission *services.AdmissionGuard) handlers.RAGAnswerer {
	if cfg.RedisURL == "" {
		slog.Info("Answer cache disabled, REDIS_URL is empty")
		return rag
	}

	client, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("Answer cache disabled, invalid REDIS_URL", "error", err)
		return rag
	}

	slog.Info("Answer cache enabled",
		"pipeline_version", cfg.PipelineVersion,
		"answer_ttl", cfg.AnswerCacheTTL.String(),
	)
	return cache.NewCachedRAGService(rag, cache.NewStore(client), admission, cache.Options{
		PipelineVersion: cfg.PipelineVersion,
		AnswerTTL:       cfg.AnswerCacheTTL,
		LockTTL:         cfg.CacheLockTTL,
		LockWait:        cfg.CacheLockWait,
		LockPoll:        cfg.CacheLockPoll,
	})
}

// initAgent builds the web-search agent when a Tavily key is present. The
// agent always rides the Gemini client because the tool-calling loop is
// Gemini function calling.
func initAgent(cfg *config.Config, gemini *llm.GeminiClient) handlers.AnswerStreamer {
	if cfg.TavilyAPIKey == "" {
		slog.Info("Web-search agent disabled, TAVILY_API_KEY is empty")
		return nil
	}

	tavily, err := services.NewTavilyClient(cfg.TavilyAPIKey, "")
	if err != nil {
		slog.Warn("Web-search agent disabled", "error", err)
		return nil
	}
	slog.Info("Web-search agent enabled")
	return services.NewAgentService(gemini, tavily)
}

// initRouter assembles the gin engine: recovery, request IDs, request
// metrics, otel spans, then the routes.
func (s *service) initRouter(deps routes.Deps) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(otelgin.Middleware("springqna-server"))

	routes.SetupRoutes(router, s.cfg.APIPrefix, deps)
	s.router = router
}

// cleanup releases resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
