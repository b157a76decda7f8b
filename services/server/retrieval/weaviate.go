// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var weaviateTracer = otel.Tracer("springqna.retrieval.weaviate")

// Compile-time interface implementation check.
var _ Retriever = (*WeaviateRetriever)(nil)

// WeaviateRetriever runs nearVector search against a Weaviate class whose
// objects carry the same content and source_url properties the Pinecone
// index uses.
type WeaviateRetriever struct {
	client   *weaviate.Client
	class    string
	embedder Embedder
	topK     int
}

// NewWeaviateClient creates a Weaviate client from a full URL such as
// http://localhost:8081.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %s", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", rawURL)
	return client, nil
}

// NewWeaviateRetriever creates a retriever over an established client.
// Panics on nil dependencies so wiring bugs die at startup.
func NewWeaviateRetriever(client *weaviate.Client, class string, embedder Embedder, topK int) *WeaviateRetriever {
	if client == nil {
		panic("NewWeaviateRetriever: client cannot be nil")
	}
	if embedder == nil {
		panic("NewWeaviateRetriever: embedder cannot be nil")
	}
	if class == "" {
		class = "SpringDoc"
	}
	if topK < 1 {
		topK = 1
	}

	return &WeaviateRetriever{
		client:   client,
		class:    class,
		embedder: embedder,
		topK:     topK,
	}
}

// Retrieve implements the Retriever interface.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	ctx, span := weaviateTracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.class", r.class),
		attribute.Int("retrieval.top_k", r.topK),
	)

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: metadataKeyContent},
		{Name: metadataKeySourceURL},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	resp, err := r.client.GraphQL().Get().
		WithClassName(r.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	if len(resp.Errors) > 0 {
		err := fmt.Errorf("weaviate query returned errors: %s", resp.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query errors")
		return nil, err
	}

	passages, err := passagesFromGraphQL(resp, r.class)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response parse failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	return passages, nil
}

// weaviateDocResult is the per-object shape of a nearVector query response.
type weaviateDocResult struct {
	Content    string `json:"content"`
	SourceURL  string `json:"source_url"`
	Additional struct {
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// passagesFromGraphQL decodes a Get query response into passages, keeping
// Weaviate's rank order. The distance is converted to a similarity-style
// score (1 - distance) so both backends report scores in the same
// direction.
func passagesFromGraphQL(resp *models.GraphQLResponse, class string) ([]Passage, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var decoded struct {
		Get map[string][]weaviateDocResult `json:"Get"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode GraphQL response: %w", err)
	}

	results := decoded.Get[class]
	passages := make([]Passage, 0, len(results))
	for _, result := range results {
		if result.Content == "" {
			continue
		}
		score := float32(0)
		if result.Additional.Distance != nil {
			score = 1 - *result.Additional.Distance
		}
		passages = append(passages, Passage{
			Content:   result.Content,
			SourceURL: result.SourceURL,
			Score:     score,
		})
	}
	return passages, nil
}
