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
	"github.com/spf13/cobra"

	"github.com/springqna/springqna/pkg/logging"
)

// --- Global Command Variables ---
var (
	verbose bool
	logDir  string

	// index chunk
	chunkInput   string
	chunkOutput  string
	chunkProject string
	chunkBaseURL string

	// index embed
	embedInput     string
	embedOutput    string
	embedStatsPath string
	embedModel     string
	embedDimension int
	embedMaxRows   int
	embedQPS       float64

	// index run
	upsertInput      string
	upsertReportPath string
	upsertIndexName  string
	upsertNamespace  string
	upsertBatchSize  int
	upsertRetries    int
	upsertBackoffSec int

	// ask
	askServerURL string
	askStream    bool

	logger = logging.Default()

	rootCmd = &cobra.Command{
		Use:   "springqna",
		Short: "Operator CLI for the Spring documentation QnA service",
		Long: `springqna manages the offline side of the Spring documentation QnA
service: chunking markdown documentation, embedding the chunks, and
upserting the vectors into Pinecone. It also ships an ask client for
talking to a running server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logging.LevelInfo
			if verbose {
				level = logging.LevelDebug
			}
			logger = logging.New(logging.Config{Level: level, LogDir: logDir, Service: "cli"})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}

	// --- Indexing Pipeline ---
	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Run the documentation indexing pipeline stages",
	}
	indexChunkCmd = &cobra.Command{
		Use:   "chunk",
		Short: "Split markdown documentation into passage records (JSONL)",
		Run:   runIndexChunk, // Defined in cmd_index.go
	}
	indexEmbedCmd = &cobra.Command{
		Use:   "embed",
		Short: "Embed passage records into vectors with Gemini (JSONL in, JSONL out)",
		Run:   runIndexEmbed, // Defined in cmd_index.go
	}
	indexRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Upsert embedded records into the Pinecone index",
		Run:   runIndexUpsert, // Defined in cmd_index.go
	}

	// --- Ask ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the running QnA server a question about the indexed documentation",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_ask.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to this directory")

	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexChunkCmd)
	indexChunkCmd.Flags().StringVar(&chunkInput, "input", "", "Directory of markdown documentation (required)")
	indexChunkCmd.Flags().StringVar(&chunkOutput, "output", "chunks.jsonl", "Output JSONL path")
	indexChunkCmd.Flags().StringVar(&chunkProject, "project", "spring", "Project label stored in chunk metadata")
	indexChunkCmd.Flags().StringVar(&chunkBaseURL, "source-base-url", "", "Base URL the chunk source_url is derived from (required)")
	indexChunkCmd.MarkFlagRequired("input")
	indexChunkCmd.MarkFlagRequired("source-base-url")

	indexCmd.AddCommand(indexEmbedCmd)
	indexEmbedCmd.Flags().StringVar(&embedInput, "input", "chunks.jsonl", "Input chunk JSONL path")
	indexEmbedCmd.Flags().StringVar(&embedOutput, "output", "embedded.jsonl", "Output embedded JSONL path")
	indexEmbedCmd.Flags().StringVar(&embedStatsPath, "stats", "embed_stats.json", "Stats JSON path")
	indexEmbedCmd.Flags().StringVar(&embedModel, "model", "gemini-embedding-001", "Gemini embedding model")
	indexEmbedCmd.Flags().IntVar(&embedDimension, "dimension", 0, "Embedding output dimension (0 keeps the model's native size; must match the server's EMBED_DIMENSION)")
	indexEmbedCmd.Flags().IntVar(&embedMaxRows, "max-rows", 0, "Stop after this many rows (0 = all)")
	indexEmbedCmd.Flags().Float64Var(&embedQPS, "qps", 0, "Embedding request rate limit (0 = unlimited)")

	indexCmd.AddCommand(indexRunCmd)
	indexRunCmd.Flags().StringVar(&upsertInput, "input", "embedded.jsonl", "Input embedded JSONL path")
	indexRunCmd.Flags().StringVar(&upsertReportPath, "report", "index_report.json", "Report JSON path")
	indexRunCmd.Flags().StringVar(&upsertIndexName, "index", "", "Pinecone index name (required)")
	indexRunCmd.Flags().StringVar(&upsertNamespace, "namespace", "", "Pinecone namespace")
	indexRunCmd.Flags().IntVar(&upsertBatchSize, "batch-size", 100, "Vectors per upsert batch")
	indexRunCmd.Flags().IntVar(&upsertRetries, "retries", 3, "Retries per failed batch")
	indexRunCmd.Flags().IntVar(&upsertBackoffSec, "backoff-sec", 1, "Base retry backoff in seconds (doubles per attempt)")
	indexRunCmd.MarkFlagRequired("index")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askServerURL, "server", "http://localhost:8080", "Base URL of the running QnA server")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "Stream the answer over SSE instead of waiting for the full response")
}
