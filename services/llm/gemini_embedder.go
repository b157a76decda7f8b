package llm

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

var embedTracer = otel.Tracer("springqna.llm.embedder")

// Embedding task types understood by the Gemini embedding models. Queries
// and documents are embedded asymmetrically; using the wrong task type
// degrades retrieval quality without failing loudly.
const (
	TaskTypeRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// GeminiEmbedder produces dense vectors with a Gemini embedding model.
// It is shared by the server's retrievers (query side) and the indexing
// pipeline (document side).
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

// NewGeminiEmbedder creates an embedder for the given model. dimension 0
// keeps the model's native output dimensionality; any other value must
// match the dimensionality the target index was built with.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimension int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
		slog.Warn("Embedding model not set, using default", "model", model)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding client: %w", err)
	}

	slog.Info("Initializing Gemini embedder", "model", model, "dimension", dimension)
	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: int32(dimension),
	}, nil
}

// EmbedQuery embeds a search query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, TaskTypeRetrievalQuery)
}

// EmbedDocument embeds a document for indexing.
func (e *GeminiEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, TaskTypeRetrievalDocument)
}

func (e *GeminiEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	ctx, span := embedTracer.Start(ctx, "GeminiEmbedder.embed")
	defer span.End()
	span.SetAttributes(
		attribute.String("embed.model", e.model),
		attribute.String("embed.task_type", taskType),
		attribute.Int("embed.text_len", len(text)),
	)

	if text == "" {
		err := fmt.Errorf("cannot embed empty text")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cfg := &genai.EmbedContentConfig{TaskType: taskType}
	if e.dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimension)
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Gemini embedding call failed", "model", e.model, "error", err)
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		err := fmt.Errorf("gemini returned no embedding values")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vector := result.Embeddings[0].Values
	span.SetAttributes(attribute.Int("embed.dimension", len(vector)))
	return vector, nil
}
