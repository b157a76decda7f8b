// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed-dimension vector per call, or a scripted
// error for specific documents.
type stubEmbedder struct {
	dim       int
	failOn    string
	dimFor    map[string]int
	callCount int
	lastDoc   string
}

func (s *stubEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	s.callCount++
	s.lastDoc = text
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, fmt.Errorf("embed backend unavailable")
	}
	dim := s.dim
	for marker, d := range s.dimFor {
		if strings.Contains(text, marker) {
			dim = d
		}
	}
	return make([]float32, dim), nil
}

func chunkLine(t *testing.T, id, content string, metadata map[string]any) string {
	t.Helper()
	data, err := json.Marshal(ChunkRecord{ID: id, Content: content, Metadata: metadata})
	require.NoError(t, err)
	return string(data) + "\n"
}

func TestNewEmbedRunner_PanicsOnNilEmbedder(t *testing.T) {
	assert.Panics(t, func() {
		NewEmbedRunner(nil, EmbedOptions{})
	})
}

func TestEmbedRunner_Success(t *testing.T) {
	embedder := &stubEmbedder{dim: 4}
	runner := NewEmbedRunner(embedder, EmbedOptions{Model: "gemini-embedding-001"})

	input := chunkLine(t, "doc#0", "first chunk", map[string]any{"project": "spring", "source_url": "https://d/a"}) +
		chunkLine(t, "doc#1", "second chunk", map[string]any{"project": "spring", "source_url": "https://d/b"})

	var out bytes.Buffer
	stats, err := runner.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalRows)
	assert.Equal(t, 2, stats.SucceededRows)
	assert.Equal(t, 0, stats.FailedRows)
	assert.Equal(t, 4, stats.VectorDim)
	assert.Equal(t, "gemini-embedding-001", stats.Model)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	var record EmbeddedRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "doc#0", record.ID)
	assert.Len(t, record.Values, 4)
	assert.Equal(t, "first chunk", record.Metadata["content"], "chunk text rides along in metadata")
	assert.Equal(t, "https://d/a", record.Metadata["source_url"])
}

func TestEmbedRunner_EmbedsPrefixedDocument(t *testing.T) {
	embedder := &stubEmbedder{dim: 2}
	runner := NewEmbedRunner(embedder, EmbedOptions{})

	input := chunkLine(t, "doc#0", "body text", map[string]any{
		"project": "spring-batch", "heading": "Jobs", "path": "batch/jobs.md",
	})

	var out bytes.Buffer
	_, err := runner.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, "[project] spring-batch\n[heading] Jobs\n[path] batch/jobs.md\n\nbody text", embedder.lastDoc)
}

func TestEmbedRunner_RowFailuresDoNotAbort(t *testing.T) {
	embedder := &stubEmbedder{dim: 3, failOn: "poison"}
	runner := NewEmbedRunner(embedder, EmbedOptions{})

	input := chunkLine(t, "doc#0", "fine", nil) +
		"garbage line\n" +
		chunkLine(t, "", "no id", nil) +
		chunkLine(t, "doc#3", "poison chunk", nil) +
		chunkLine(t, "doc#4", "also fine", nil)

	var out bytes.Buffer
	stats, err := runner.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.TotalRows)
	assert.Equal(t, 2, stats.SucceededRows)
	assert.Equal(t, 3, stats.FailedRows)
	require.Len(t, stats.FailedExamples, 3)
	assert.Equal(t, 2, stats.FailedExamples[0].Line)
	assert.Equal(t, "doc#3", stats.FailedExamples[2].ID)
}

func TestEmbedRunner_DimensionDriftIsRowFailure(t *testing.T) {
	embedder := &stubEmbedder{dim: 4, dimFor: map[string]int{"shrunk": 2}}
	runner := NewEmbedRunner(embedder, EmbedOptions{})

	input := chunkLine(t, "doc#0", "normal", nil) +
		chunkLine(t, "doc#1", "shrunk vector", nil) +
		chunkLine(t, "doc#2", "normal again", nil)

	var out bytes.Buffer
	stats, err := runner.Run(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.SucceededRows)
	assert.Equal(t, 1, stats.FailedRows)
	assert.Equal(t, 4, stats.VectorDim, "first successful row fixes the dimension")
	assert.Contains(t, stats.FailedExamples[0].Error, "dimension mismatch")
}

func TestEmbedRunner_MaxRowsStopsEarly(t *testing.T) {
	embedder := &stubEmbedder{dim: 2}
	runner := NewEmbedRunner(embedder, EmbedOptions{MaxRows: 2})

	var input strings.Builder
	for i := 0; i < 5; i++ {
		input.WriteString(chunkLine(t, fmt.Sprintf("doc#%d", i), "chunk", nil))
	}

	var out bytes.Buffer
	stats, err := runner.Run(context.Background(), strings.NewReader(input.String()), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalRows)
	assert.Equal(t, 2, embedder.callCount)
}

func TestEmbedRunner_FailureExamplesCapped(t *testing.T) {
	embedder := &stubEmbedder{dim: 2, failOn: "chunk"}
	runner := NewEmbedRunner(embedder, EmbedOptions{})

	var input strings.Builder
	for i := 0; i < maxFailureExamples+20; i++ {
		input.WriteString(chunkLine(t, fmt.Sprintf("doc#%d", i), "chunk", nil))
	}

	var out bytes.Buffer
	stats, err := runner.Run(context.Background(), strings.NewReader(input.String()), &out)
	require.NoError(t, err)

	assert.Equal(t, maxFailureExamples+20, stats.FailedRows)
	assert.Len(t, stats.FailedExamples, maxFailureExamples)
}
