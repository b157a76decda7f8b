// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/pipeline"
	"github.com/springqna/springqna/services/server/retrieval"
)

// exitCodeFailedRows is returned when the pipeline completed but some rows
// did not make it; partial indexes need operator attention, not silence.
const exitCodeFailedRows = 2

// signalContext returns a context cancelled on SIGINT/SIGTERM so a long
// embedding or upsert run can stop cleanly mid-file.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func fatal(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
	logger.Close()
	os.Exit(1)
}

func runIndexChunk(cmd *cobra.Command, args []string) {
	chunker, err := pipeline.NewChunker(pipeline.ChunkOptions{
		Project:       chunkProject,
		SourceBaseURL: chunkBaseURL,
	})
	if err != nil {
		fatal("creating chunker: %v", err)
	}

	out, err := os.Create(chunkOutput)
	if err != nil {
		fatal("creating output file: %v", err)
	}
	defer out.Close()

	logger.Info("chunking documentation", "input", chunkInput, "output", chunkOutput)
	stats, err := chunker.ChunkDir(chunkInput, out)
	if err != nil {
		fatal("chunking %s: %v", chunkInput, err)
	}
	if err := out.Close(); err != nil {
		fatal("closing output file: %v", err)
	}

	logger.Info("chunking complete", "files", stats.Files, "chunks", stats.Chunks)
	fmt.Printf("Chunked %d files into %d passages -> %s\n", stats.Files, stats.Chunks, chunkOutput)
}

func runIndexEmbed(cmd *cobra.Command, args []string) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fatal("GEMINI_API_KEY is not set")
	}

	ctx, cancel := signalContext()
	defer cancel()

	embedder, err := llm.NewGeminiEmbedder(ctx, apiKey, embedModel, embedDimension)
	if err != nil {
		fatal("creating embedder: %v", err)
	}

	in, err := os.Open(embedInput)
	if err != nil {
		fatal("opening input file: %v", err)
	}
	defer in.Close()

	out, err := os.Create(embedOutput)
	if err != nil {
		fatal("creating output file: %v", err)
	}
	defer out.Close()

	runner := pipeline.NewEmbedRunner(embedder, pipeline.EmbedOptions{
		Model:   embedModel,
		MaxRows: embedMaxRows,
		QPS:     embedQPS,
	})

	logger.Info("embedding chunks", "input", embedInput, "model", embedModel, "dimension", embedDimension)
	stats, err := runner.Run(ctx, in, out)
	if err != nil {
		fatal("embedding run: %v", err)
	}
	if err := out.Close(); err != nil {
		fatal("closing output file: %v", err)
	}

	stats.Input = embedInput
	stats.Output = embedOutput
	if err := pipeline.WriteJSONFile(embedStatsPath, stats); err != nil {
		fatal("writing stats file: %v", err)
	}

	logger.Info("embedding complete",
		"total", stats.TotalRows, "succeeded", stats.SucceededRows,
		"failed", stats.FailedRows, "vector_dim", stats.VectorDim)
	fmt.Printf("Embedded %d/%d rows (dim %d) -> %s\nStats: %s\n",
		stats.SucceededRows, stats.TotalRows, stats.VectorDim, embedOutput, embedStatsPath)

	if stats.FailedRows > 0 {
		fmt.Fprintf(os.Stderr, "%d rows failed; see %s for examples\n", stats.FailedRows, embedStatsPath)
		logger.Close()
		os.Exit(exitCodeFailedRows)
	}
}

func runIndexUpsert(cmd *cobra.Command, args []string) {
	apiKey := os.Getenv("PINECONE_API_KEY")
	if apiKey == "" {
		fatal("PINECONE_API_KEY is not set")
	}

	ctx, cancel := signalContext()
	defer cancel()

	index, err := retrieval.ConnectPineconeIndex(ctx, apiKey, upsertIndexName, upsertNamespace)
	if err != nil {
		fatal("connecting to Pinecone index %s: %v", upsertIndexName, err)
	}

	in, err := os.Open(upsertInput)
	if err != nil {
		fatal("opening input file: %v", err)
	}
	defer in.Close()

	runner := pipeline.NewUpsertRunner(index, pipeline.UpsertOptions{
		IndexName:  upsertIndexName,
		Namespace:  upsertNamespace,
		BatchSize:  upsertBatchSize,
		MaxRetries: upsertRetries,
		Backoff:    time.Duration(upsertBackoffSec) * time.Second,
	})

	logger.Info("upserting vectors", "input", upsertInput, "index", upsertIndexName, "namespace", upsertNamespace)
	report, err := runner.Run(ctx, in)
	if err != nil {
		fatal("upsert run: %v", err)
	}

	if err := pipeline.WriteJSONFile(upsertReportPath, report); err != nil {
		fatal("writing report file: %v", err)
	}

	logger.Info("upsert complete",
		"input_rows", report.InputRows, "upserted", report.UpsertedRows,
		"failed", report.FailedRows)
	fmt.Printf("Upserted %d/%d vectors into %s\nReport: %s\n",
		report.UpsertedRows, report.InputRows, upsertIndexName, upsertReportPath)

	if report.FailedRows > 0 {
		fmt.Fprintf(os.Stderr, "%d rows failed; see %s for examples\n", report.FailedRows, upsertReportPath)
		logger.Close()
		os.Exit(exitCodeFailedRows)
	}
}
