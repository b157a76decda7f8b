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
	"fmt"
	"log/slog"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var pineconeTracer = otel.Tracer("springqna.retrieval.pinecone")

// Metadata keys every indexed vector carries. The indexing pipeline writes
// the chunk text under "content" and the origin document under
// "source_url"; the retriever reads the same keys back.
const (
	metadataKeyContent   = "content"
	metadataKeySourceURL = "source_url"
)

// Compile-time interface implementation check.
var _ Retriever = (*PineconeRetriever)(nil)

// PineconeRetriever runs top-k similarity search against a Pinecone index
// namespace.
type PineconeRetriever struct {
	index    *pinecone.IndexConnection
	embedder Embedder
	topK     int
}

// ConnectPineconeIndex opens a data-plane connection to the named index,
// scoped to a namespace. DescribeIndex doubles as a startup accessibility
// check: a wrong API key or index name fails here, not on the first query.
func ConnectPineconeIndex(ctx context.Context, apiKey, indexName, namespace string) (*pinecone.IndexConnection, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("pinecone API key is required")
	}
	if indexName == "" {
		return nil, fmt.Errorf("pinecone index name is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("pinecone namespace is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("pinecone index %q is not accessible: %w", indexName, err)
	}

	conn, err := client.Index(pinecone.NewIndexConnParams{
		Host:      idx.Host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Pinecone index %q: %w", indexName, err)
	}

	slog.Info("Pinecone index connected",
		"index", indexName,
		"namespace", namespace,
		"host", idx.Host,
		"dimension", idx.Dimension,
	)
	return conn, nil
}

// NewPineconeRetriever creates a retriever over an established index
// connection. Panics on nil dependencies: wiring bugs should die at
// startup, not at the first request.
func NewPineconeRetriever(index *pinecone.IndexConnection, embedder Embedder, topK int) *PineconeRetriever {
	if index == nil {
		panic("NewPineconeRetriever: index connection cannot be nil")
	}
	if embedder == nil {
		panic("NewPineconeRetriever: embedder cannot be nil")
	}
	if topK < 1 {
		topK = 1
	}

	return &PineconeRetriever{
		index:    index,
		embedder: embedder,
		topK:     topK,
	}
}

// Retrieve implements the Retriever interface.
func (r *PineconeRetriever) Retrieve(ctx context.Context, query string) ([]Passage, error) {
	ctx, span := pineconeTracer.Start(ctx, "PineconeRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieval.top_k", r.topK),
		attribute.Int("retrieval.query_len", len(query)),
	)

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	res, err := r.index.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(r.topK),
		IncludeMetadata: true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pinecone query failed")
		return nil, fmt.Errorf("pinecone query failed: %w", err)
	}

	passages := make([]Passage, 0, len(res.Matches))
	for _, match := range res.Matches {
		passage, ok := passageFromMatch(match)
		if !ok {
			continue
		}
		passages = append(passages, passage)
	}

	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))
	slog.Debug("Pinecone retrieval complete", "matches", len(res.Matches), "passages", len(passages))
	return passages, nil
}

// passageFromMatch maps one scored vector onto a Passage. Matches without
// content metadata are dropped; a chunk that cannot appear in the context
// block must not consume a citation index either.
func passageFromMatch(match *pinecone.ScoredVector) (Passage, bool) {
	if match == nil || match.Vector == nil || match.Vector.Metadata == nil {
		return Passage{}, false
	}

	fields := match.Vector.Metadata.Fields
	content := ""
	if v, exists := fields[metadataKeyContent]; exists {
		content = v.GetStringValue()
	}
	if content == "" {
		slog.Warn("Dropping match without content metadata", "id", match.Vector.Id)
		return Passage{}, false
	}

	sourceURL := ""
	if v, exists := fields[metadataKeySourceURL]; exists {
		sourceURL = v.GetStringValue()
	}

	return Passage{
		Content:   content,
		SourceURL: sourceURL,
		Score:     match.Score,
	}, true
}
