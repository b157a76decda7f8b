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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// DocumentEmbedder embeds one document-side text. Implemented by
// llm.GeminiEmbedder with the RETRIEVAL_DOCUMENT task type.
type DocumentEmbedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// EmbedOptions configures an embedding run.
type EmbedOptions struct {
	// Model names the embedding model for the stats file only; the
	// embedder itself was constructed with it.
	Model string

	// MaxRows stops after this many input rows. 0 means all rows.
	MaxRows int

	// QPS rate-limits embedding calls. 0 disables the limiter.
	QPS float64
}

// EmbedRunner turns chunk records into embedded records, one upstream
// embedding call per row. Row failures (validation, API errors, dimension
// drift) are counted and reported; the run continues past them.
type EmbedRunner struct {
	embedder DocumentEmbedder
	limiter  *rate.Limiter
	opts     EmbedOptions
}

// NewEmbedRunner creates an EmbedRunner. Panics on a nil embedder so
// wiring bugs die at startup.
func NewEmbedRunner(embedder DocumentEmbedder, opts EmbedOptions) *EmbedRunner {
	if embedder == nil {
		panic("NewEmbedRunner: embedder cannot be nil")
	}

	var limiter *rate.Limiter
	if opts.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.QPS), 1)
	}
	return &EmbedRunner{embedder: embedder, limiter: limiter, opts: opts}
}

// Run reads chunk records from in and writes embedded records to out.
// The first successful embedding fixes the vector dimension; later rows
// that disagree are row failures, since a mixed-dimension file can never
// be upserted.
func (r *EmbedRunner) Run(ctx context.Context, in io.Reader, out io.Writer) (EmbedStats, error) {
	stats := EmbedStats{Model: r.opts.Model}

	err := ForEachRow(in, func(row Row) error {
		if r.opts.MaxRows > 0 && stats.TotalRows >= r.opts.MaxRows {
			return errStopIteration
		}
		stats.TotalRows++

		if row.Err != nil {
			r.recordFailure(&stats, row.Line, "", row.Err)
			return nil
		}

		id, content, metadata, err := ValidateEmbedInputRow(row.Data, row.Line)
		if err != nil {
			r.recordFailure(&stats, row.Line, stringField(row.Data, "id"), err)
			return nil
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		values, err := r.embedder.EmbedDocument(ctx, BuildDocument(content, metadata))
		if err != nil {
			r.recordFailure(&stats, row.Line, id, err)
			return nil
		}

		dim, err := ValidateVectorDim(stats.VectorDim, len(values), row.Line)
		stats.VectorDim = dim
		if err != nil {
			r.recordFailure(&stats, row.Line, id, err)
			return nil
		}

		record := EmbeddedRecord{
			ID:     id,
			Values: values,
			Metadata: map[string]any{
				"project":      metadata["project"],
				"heading":      metadata["heading"],
				"path":         metadata["path"],
				"source_url":   metadata["source_url"],
				"content_hash": metadata["content_hash"],
				"content":      content,
			},
		}
		if err := WriteRow(out, record); err != nil {
			return err
		}
		stats.SucceededRows++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return stats, fmt.Errorf("embed run failed: %w", err)
	}

	if stats.FailedExamples == nil {
		stats.FailedExamples = make([]FailureExample, 0)
	}
	slog.Info("Embedding complete",
		"total", stats.TotalRows,
		"succeeded", stats.SucceededRows,
		"failed", stats.FailedRows,
		"vector_dim", stats.VectorDim,
	)
	return stats, nil
}

func (r *EmbedRunner) recordFailure(stats *EmbedStats, line int, id string, err error) {
	stats.FailedRows++
	if len(stats.FailedExamples) < maxFailureExamples {
		stats.FailedExamples = append(stats.FailedExamples, FailureExample{
			Line:  line,
			ID:    id,
			Error: err.Error(),
		})
	}
}

func stringField(row map[string]any, field string) string {
	if row == nil {
		return ""
	}
	s, _ := row[field].(string)
	return s
}

// errStopIteration is the internal sentinel that ends a MaxRows-bounded run.
var errStopIteration = errors.New("stop iteration")
