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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Markdown-aware chunking settings. Heading separators keep section
// boundaries intact before falling back to paragraph and word splits.
var (
	chunkSize          = 1000
	chunkOverlap       = chunkSize / 10
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// ChunkOptions configures a chunking run.
type ChunkOptions struct {
	// Project tags every record's metadata, e.g. "spring-security".
	Project string

	// SourceBaseURL prefixes each file's relative path to form source_url.
	// Required: records without a source URL fail index validation later.
	SourceBaseURL string
}

// ChunkStats summarizes one chunking run.
type ChunkStats struct {
	Files  int `json:"files"`
	Chunks int `json:"chunks"`
}

// Chunker splits markdown documentation files into embedding-ready records.
type Chunker struct {
	splitter textsplitter.TextSplitter
	opts     ChunkOptions
}

// NewChunker creates a Chunker. SourceBaseURL must be set.
func NewChunker(opts ChunkOptions) (*Chunker, error) {
	if strings.TrimSpace(opts.SourceBaseURL) == "" {
		return nil, fmt.Errorf("sourceBaseURL is required")
	}
	opts.SourceBaseURL = strings.TrimRight(opts.SourceBaseURL, "/")

	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		),
		opts: opts,
	}, nil
}

// ChunkDir walks root for markdown files and writes one ChunkRecord JSONL
// line per chunk to out. File order is the walk order (lexical); chunk
// order within a file is document order.
func (c *Chunker) ChunkDir(root string, out io.Writer) (ChunkStats, error) {
	var stats ChunkStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		chunks, err := c.chunkFile(path, filepath.ToSlash(rel), out)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", rel, err)
		}
		stats.Files++
		stats.Chunks += chunks
		return nil
	})
	if err != nil {
		return stats, err
	}

	slog.Info("Chunking complete", "files", stats.Files, "chunks", stats.Chunks)
	return stats, nil
}

// chunkFile splits one markdown file and writes its records.
func (c *Chunker) chunkFile(path, rel string, out io.Writer) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	content := string(raw)

	chunks, err := c.splitter.SplitText(content)
	if err != nil {
		return 0, err
	}

	title := documentTitle(content)
	sourceURL := c.opts.SourceBaseURL + "/" + strings.TrimSuffix(rel, ".md")

	written := 0
	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		record := ChunkRecord{
			ID:      fmt.Sprintf("%s#%d", rel, i),
			Content: chunk,
			Metadata: map[string]any{
				"project":      c.opts.Project,
				"source_url":   sourceURL,
				"heading":      chunkHeading(chunk, title),
				"path":         rel,
				"title":        title,
				"content_hash": contentHash(chunk),
			},
		}
		if err := WriteRow(out, record); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// documentTitle returns the first H1 text, or "".
func documentTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// chunkHeading returns the first heading inside the chunk, falling back to
// the document title. Splitting on heading separators means most chunks
// start at the heading they belong to.
func chunkHeading(chunk, title string) string {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
	}
	return title
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
