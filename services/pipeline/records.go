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

// ChunkRecord is one chunked document passage, the chunk stage's output
// and the embed stage's input.
type ChunkRecord struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// EmbeddedRecord is one embedded passage, the embed stage's output and the
// upsert stage's input. Metadata carries the chunk content under "content"
// so retrieval can read it back without a second lookup.
type EmbeddedRecord struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// FailureExample is one failed row as recorded in stats and reports.
// Line is 0 for failures not tied to an input line (batch upsert errors).
type FailureExample struct {
	Line  int    `json:"line,omitempty"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// maxFailureExamples caps recorded failures so a fully broken input cannot
// produce an unbounded report.
const maxFailureExamples = 100

// EmbedStats is the embed stage summary, written next to the output JSONL.
type EmbedStats struct {
	Model          string           `json:"model"`
	Input          string           `json:"input"`
	Output         string           `json:"output"`
	TotalRows      int              `json:"total_rows"`
	SucceededRows  int              `json:"succeeded_rows"`
	FailedRows     int              `json:"failed_rows"`
	VectorDim      int              `json:"vector_dim"`
	FailedExamples []FailureExample `json:"failed_examples"`
}

// IndexReport is the upsert stage summary.
type IndexReport struct {
	IndexName      string           `json:"index_name"`
	Namespace      string           `json:"namespace"`
	StartedAt      string           `json:"started_at"`
	FinishedAt     string           `json:"finished_at"`
	InputRows      int              `json:"input_rows"`
	UpsertedRows   int              `json:"upserted_rows"`
	FailedRows     int              `json:"failed_rows"`
	VectorDim      int              `json:"vector_dim"`
	FailedExamples []FailureExample `json:"failed_examples"`
}
