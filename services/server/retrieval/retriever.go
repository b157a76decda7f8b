// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval provides vector similarity search over the indexed
// Spring documentation.
//
// A Retriever embeds the incoming query and returns the top-k most similar
// passages in rank order. Passages are unnumbered here; the context
// assembler assigns the 1-based citation indices per request. Two backends
// exist: Pinecone (default, matches the indexing pipeline) and Weaviate.
package retrieval

import "context"

// Passage is one retrieved document chunk in rank order.
//
// # Fields
//
//   - Content: The chunk text that goes into the prompt context block.
//   - SourceURL: Origin document URL, "" when the index row carried none.
//   - Score: Backend-native similarity score, for logging and tracing only.
type Passage struct {
	Content   string
	SourceURL string
	Score     float32
}

// Embedder turns query text into a dense vector. Implemented by
// llm.GeminiEmbedder; the indirection keeps retrievers testable.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever returns the passages most similar to a query.
//
// Implementations embed the query, run a top-k similarity search, and
// return passages in descending similarity order. An empty result is not
// an error; callers must handle zero passages. Retrieval failures are
// surfaced once, never retried.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Passage, error)
}
