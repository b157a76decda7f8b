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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pinecone-io/go-pinecone/v4/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// VectorUpserter is the slice of the Pinecone index connection the upsert
// stage uses. The indirection keeps the batch/retry logic testable.
type VectorUpserter interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
}

// UpsertOptions configures an upsert run.
type UpsertOptions struct {
	// IndexName and Namespace go into the report verbatim.
	IndexName string
	Namespace string

	// BatchSize rows per upsert call. Default 100.
	BatchSize int

	// MaxRetries per failed batch. Default 3.
	MaxRetries int

	// Backoff is the initial retry backoff, doubled per attempt.
	// Default 1s.
	Backoff time.Duration
}

func (o UpsertOptions) withDefaults() UpsertOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

// UpsertRunner loads embedded records into the Pinecone index in batches.
//
// Row validation failures and exhausted batch retries are counted and
// reported; the run continues past both. A batch that fails after its
// retries fails every row in it, there is no per-row salvage.
type UpsertRunner struct {
	index VectorUpserter
	opts  UpsertOptions
}

// NewUpsertRunner creates an UpsertRunner. Panics on a nil index so wiring
// bugs die at startup.
func NewUpsertRunner(index VectorUpserter, opts UpsertOptions) *UpsertRunner {
	if index == nil {
		panic("NewUpsertRunner: index cannot be nil")
	}
	return &UpsertRunner{index: index, opts: opts.withDefaults()}
}

// batchEntry keeps the row identity next to its vector for failure
// reporting.
type batchEntry struct {
	id     string
	vector *pinecone.Vector
}

// Run reads embedded records from in and upserts them. The returned report
// is complete even when rows failed; callers decide the exit status from
// FailedRows.
func (r *UpsertRunner) Run(ctx context.Context, in io.Reader) (IndexReport, error) {
	report := IndexReport{
		IndexName:      r.opts.IndexName,
		Namespace:      r.opts.Namespace,
		StartedAt:      time.Now().UTC().Format(time.RFC3339),
		FailedExamples: make([]FailureExample, 0),
	}

	var batch []batchEntry
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.flushBatch(ctx, batch, &report)
		batch = batch[:0]
	}

	err := ForEachRow(in, func(row Row) error {
		report.InputRows++

		if row.Err != nil {
			r.recordRowFailure(&report, row.Line, "", row.Err)
			return nil
		}

		id, values, metadata, err := ValidateIndexRow(row.Data, row.Line)
		if err != nil {
			r.recordRowFailure(&report, row.Line, stringField(row.Data, "id"), err)
			return nil
		}

		dim, err := ValidateVectorDim(report.VectorDim, len(values), row.Line)
		report.VectorDim = dim
		if err != nil {
			r.recordRowFailure(&report, row.Line, id, err)
			return nil
		}

		vector, err := buildVector(id, values, PickMetadata(metadata))
		if err != nil {
			r.recordRowFailure(&report, row.Line, id, err)
			return nil
		}

		batch = append(batch, batchEntry{id: id, vector: vector})
		if len(batch) >= r.opts.BatchSize {
			flush()
		}
		return nil
	})
	if err != nil {
		report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		return report, fmt.Errorf("upsert run failed: %w", err)
	}
	flush()

	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	slog.Info("Upsert complete",
		"index", report.IndexName,
		"namespace", report.Namespace,
		"input", report.InputRows,
		"upserted", report.UpsertedRows,
		"failed", report.FailedRows,
	)
	return report, nil
}

// flushBatch upserts one batch with exponential-backoff retries. Exhausted
// retries fail the whole batch.
func (r *UpsertRunner) flushBatch(ctx context.Context, batch []batchEntry, report *IndexReport) {
	vectors := make([]*pinecone.Vector, len(batch))
	for i, entry := range batch {
		vectors[i] = entry.vector
	}

	var lastErr error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		_, err := r.index.UpsertVectors(ctx, vectors)
		if err == nil {
			report.UpsertedRows += len(batch)
			return
		}
		lastErr = err
		slog.Warn("Batch upsert failed",
			"attempt", attempt+1,
			"batch_size", len(batch),
			"error", err,
		)
		if attempt == r.opts.MaxRetries {
			break
		}

		backoff := r.opts.Backoff * (1 << attempt)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	report.FailedRows += len(batch)
	for _, entry := range batch {
		if len(report.FailedExamples) >= maxFailureExamples {
			break
		}
		report.FailedExamples = append(report.FailedExamples, FailureExample{
			ID:    entry.id,
			Error: fmt.Sprintf("upsert_failed: %v", lastErr),
		})
	}
}

func (r *UpsertRunner) recordRowFailure(report *IndexReport, line int, id string, err error) {
	report.FailedRows++
	if len(report.FailedExamples) < maxFailureExamples {
		report.FailedExamples = append(report.FailedExamples, FailureExample{
			Line:  line,
			ID:    id,
			Error: err.Error(),
		})
	}
}

// buildVector converts one validated row into the SDK vector type.
func buildVector(id string, values []float32, metadata map[string]any) (*pinecone.Vector, error) {
	md, err := structpb.NewStruct(metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata not representable: %w", err)
	}
	return &pinecone.Vector{
		Id:       id,
		Values:   &values,
		Metadata: md,
	}, nil
}
