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
	"testing"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return s.vector, s.err
}

func scoredVector(t *testing.T, id string, score float32, metadata map[string]any) *pinecone.ScoredVector {
	t.Helper()
	md, err := structpb.NewStruct(metadata)
	require.NoError(t, err)
	return &pinecone.ScoredVector{
		Vector: &pinecone.Vector{Id: id, Metadata: md},
		Score:  score,
	}
}

func TestPassageFromMatch_MapsContentSourceAndScore(t *testing.T) {
	match := scoredVector(t, "doc-1", 0.87, map[string]any{
		"content":    "Spring Boot auto-configuration scans the classpath.",
		"source_url": "https://docs.spring.io/spring-boot/reference.html",
	})

	passage, ok := passageFromMatch(match)
	require.True(t, ok)
	assert.Equal(t, "Spring Boot auto-configuration scans the classpath.", passage.Content)
	assert.Equal(t, "https://docs.spring.io/spring-boot/reference.html", passage.SourceURL)
	assert.InDelta(t, 0.87, float64(passage.Score), 1e-6)
}

func TestPassageFromMatch_DropsMatchWithoutContent(t *testing.T) {
	match := scoredVector(t, "doc-2", 0.5, map[string]any{
		"source_url": "https://docs.spring.io/orphan.html",
	})

	_, ok := passageFromMatch(match)
	assert.False(t, ok)
}

func TestPassageFromMatch_DefaultsMissingSourceURL(t *testing.T) {
	match := scoredVector(t, "doc-3", 0.42, map[string]any{
		"content": "Transactions are managed by PlatformTransactionManager.",
	})

	passage, ok := passageFromMatch(match)
	require.True(t, ok)
	assert.Equal(t, "", passage.SourceURL)
}

func TestPassageFromMatch_NilGuards(t *testing.T) {
	_, ok := passageFromMatch(nil)
	assert.False(t, ok)

	_, ok = passageFromMatch(&pinecone.ScoredVector{})
	assert.False(t, ok)

	_, ok = passageFromMatch(&pinecone.ScoredVector{Vector: &pinecone.Vector{Id: "doc-4"}})
	assert.False(t, ok)
}

func TestPassagesFromGraphQL_MapsResultsInRankOrder(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"SpringDoc": []any{
					map[string]any{
						"content":    "First passage",
						"source_url": "https://docs.spring.io/a",
						"_additional": map[string]any{
							"distance": 0.25,
						},
					},
					map[string]any{
						"content":    "Second passage",
						"source_url": "https://docs.spring.io/b",
						"_additional": map[string]any{
							"distance": 0.5,
						},
					},
				},
			},
		},
	}

	passages, err := passagesFromGraphQL(resp, "SpringDoc")
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "First passage", passages[0].Content)
	assert.Equal(t, "https://docs.spring.io/a", passages[0].SourceURL)
	assert.InDelta(t, 0.75, float64(passages[0].Score), 1e-6)
	assert.Equal(t, "Second passage", passages[1].Content)
	assert.InDelta(t, 0.5, float64(passages[1].Score), 1e-6)
}

func TestPassagesFromGraphQL_SkipsResultsWithoutContent(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{
				"SpringDoc": []any{
					map[string]any{
						"source_url": "https://docs.spring.io/empty",
					},
					map[string]any{
						"content": "Kept passage",
					},
				},
			},
		},
	}

	passages, err := passagesFromGraphQL(resp, "SpringDoc")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "Kept passage", passages[0].Content)
}

func TestPassagesFromGraphQL_EmptyForUnknownClass(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{},
		},
	}

	passages, err := passagesFromGraphQL(resp, "SpringDoc")
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestPassagesFromGraphQL_NilResponse(t *testing.T) {
	_, err := passagesFromGraphQL(nil, "SpringDoc")
	assert.Error(t, err)
}

func TestNewPineconeRetriever_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() {
		NewPineconeRetriever(nil, &stubEmbedder{}, 4)
	})
	assert.Panics(t, func() {
		NewPineconeRetriever(&pinecone.IndexConnection{}, nil, 4)
	})
}

func TestNewWeaviateRetriever_PanicsOnNilDependencies(t *testing.T) {
	assert.Panics(t, func() {
		NewWeaviateRetriever(nil, "SpringDoc", &stubEmbedder{}, 4)
	})

	client, err := NewWeaviateClient("http://localhost:8081")
	require.NoError(t, err)
	assert.Panics(t, func() {
		NewWeaviateRetriever(client, "SpringDoc", nil, 4)
	})
}

func TestNewWeaviateClient_RejectsInvalidURL(t *testing.T) {
	_, err := NewWeaviateClient("localhost:8081")
	assert.Error(t, err)

	_, err = NewWeaviateClient("")
	assert.Error(t, err)
}
