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
	"errors"
	"fmt"
	"strings"
)

// RowValidationError marks a row-level input problem. Such rows are counted
// and reported; they never abort a pipeline run.
type RowValidationError struct {
	Line int
	Msg  string
}

// Error implements the error interface.
func (e *RowValidationError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func missingField(line int, field string) *RowValidationError {
	return &RowValidationError{Line: line, Msg: fmt.Sprintf("missing/invalid '%s'", field)}
}

// IsRowValidationError checks if an error is a RowValidationError.
func IsRowValidationError(err error) bool {
	var ve *RowValidationError
	return errors.As(err, &ve)
}

func requireNonEmptyString(row map[string]any, field string, line int) (string, error) {
	v, ok := row[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", missingField(line, field)
	}
	return strings.TrimSpace(v), nil
}

// ValidateEmbedInputRow checks one chunk-stage row before embedding: id and
// content are required non-empty strings; metadata defaults to empty and
// must be an object when present.
func ValidateEmbedInputRow(row map[string]any, line int) (id, content string, metadata map[string]any, err error) {
	if id, err = requireNonEmptyString(row, "id", line); err != nil {
		return "", "", nil, err
	}
	if content, err = requireNonEmptyString(row, "content", line); err != nil {
		return "", "", nil, err
	}

	switch md := row["metadata"].(type) {
	case nil:
		metadata = map[string]any{}
	case map[string]any:
		metadata = md
	default:
		return "", "", nil, missingField(line, "metadata")
	}
	return id, content, metadata, nil
}

// ValidateIndexRow checks one embedded row before upsert: id, a non-empty
// values vector, and metadata with a non-empty source_url.
func ValidateIndexRow(row map[string]any, line int) (id string, values []float32, metadata map[string]any, err error) {
	if id, err = requireNonEmptyString(row, "id", line); err != nil {
		return "", nil, nil, err
	}

	rawValues, ok := row["values"].([]any)
	if !ok || len(rawValues) == 0 {
		return "", nil, nil, missingField(line, "values")
	}
	values = make([]float32, len(rawValues))
	for i, rv := range rawValues {
		f, ok := rv.(float64)
		if !ok {
			return "", nil, nil, missingField(line, "values")
		}
		values[i] = float32(f)
	}

	metadata, ok = row["metadata"].(map[string]any)
	if !ok {
		return "", nil, nil, missingField(line, "metadata")
	}
	if _, err = requireNonEmptyString(metadata, "source_url", line); err != nil {
		return "", nil, nil, missingField(line, "metadata.source_url")
	}
	return id, values, metadata, nil
}

// ValidateVectorDim enforces one embedding dimension per run. The first row
// fixes the expected dimension (pass 0); later rows must match it.
func ValidateVectorDim(expected, got, line int) (int, error) {
	if expected == 0 {
		return got, nil
	}
	if expected != got {
		return expected, &RowValidationError{
			Line: line,
			Msg:  fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got),
		}
	}
	return expected, nil
}

// allowedMetadataFields is the index metadata allowlist. Anything else in
// a row's metadata is dropped before upsert so the index schema stays
// closed.
var allowedMetadataFields = []string{
	"project",
	"source_url",
	"heading",
	"content",
	"path",
	"content_hash",
	"title",
}

// PickMetadata filters metadata down to the allowlist, dropping nil values
// and blank strings.
func PickMetadata(metadata map[string]any) map[string]any {
	picked := make(map[string]any, len(allowedMetadataFields))
	for _, field := range allowedMetadataFields {
		value, ok := metadata[field]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		picked[field] = value
	}
	return picked
}
