// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the documentation indexing pipeline: chunk
// markdown docs into records, embed them with Gemini, and upsert the
// vectors into Pinecone. Each stage reads and writes JSONL so stages can
// be run, inspected, and re-run independently.
package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxJSONLLineBytes bounds one JSONL line. Embedded records carry a full
// embedding vector plus chunk text, which can run into the megabytes.
const maxJSONLLineBytes = 16 * 1024 * 1024

// Row is one parsed JSONL line. Err is set when the line was not a JSON
// object; such rows count as row-level failures, they do not abort the run.
type Row struct {
	Line int
	Data map[string]any
	Err  error
}

// ForEachRow streams JSONL rows to fn in order. Blank lines are skipped;
// unparseable lines are delivered with Err set. A non-nil return from fn
// stops iteration and propagates; an I/O failure of the reader aborts with
// an error.
func ForEachRow(r io.Reader, fn func(row Row) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 || isBlank(raw) {
			continue
		}

		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			if rowErr := fn(Row{Line: line, Err: fmt.Errorf("invalid JSON object at line %d: %w", line, err)}); rowErr != nil {
				return rowErr
			}
			continue
		}
		if err := fn(Row{Line: line, Data: data}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jsonl read failed at line %d: %w", line, err)
	}
	return nil
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

// WriteRow appends one row as a single JSONL line.
func WriteRow(w io.Writer, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	return nil
}

// WriteJSONFile writes payload as indented JSON, creating parent
// directories as needed. Used for stats and report files.
func WriteJSONFile(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
