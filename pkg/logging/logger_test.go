// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_ToSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := tt.level.toSlogLevel(); got != tt.want {
			t.Errorf("Level(%d).toSlogLevel() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_StderrOnly(t *testing.T) {
	logger := New(Config{Level: LevelInfo})
	if logger == nil {
		t.Fatal("New returned nil")
	}
	if logger.file != nil {
		t.Error("expected no log file without LogDir")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on stderr-only logger: %v", err)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	defer logger.Close()

	logger.Info("index run started", "files", 3)

	wantName := fmt.Sprintf("testsvc_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var record map[string]any
	line := strings.TrimSpace(string(data))
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log file line is not JSON: %v\nline: %s", err, line)
	}
	if record["msg"] != "index run started" {
		t.Errorf("msg = %v, want %q", record["msg"], "index run started")
	}
	if record["files"] != float64(3) {
		t.Errorf("files = %v, want 3", record["files"])
	}
}

func TestNew_CreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger := New(Config{LogDir: dir, Quiet: true})
	defer logger.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}

func TestNew_DefaultService(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	defer logger.Close()

	logger.Info("hello")

	wantName := fmt.Sprintf("springqna_%s.log", time.Now().Format("2006-01-02"))
	if _, err := os.Stat(filepath.Join(dir, wantName)); err != nil {
		t.Errorf("expected default service log file %s: %v", wantName, err)
	}
}

func TestNew_BadLogDirDegrades(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// LogDir points at an existing regular file; MkdirAll fails and the
	// logger must still come up stderr-only.
	logger := New(Config{LogDir: file})
	defer logger.Close()

	if logger.file != nil {
		t.Error("expected no log file when LogDir is unusable")
	}
	logger.Info("still alive")
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default returned nil")
	}
	defer logger.Close()
}

// =============================================================================
// Level Filtering Tests
// =============================================================================

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelWarn, LogDir: dir, Service: "filter", Quiet: true})

	logger.Debug("drop me")
	logger.Info("drop me too")
	logger.Warn("keep me")
	logger.Error("keep me too")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := fmt.Sprintf("filter_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	content := string(data)
	if strings.Contains(content, "drop me") {
		t.Error("sub-level records leaked into log file")
	}
	if !strings.Contains(content, "keep me") || !strings.Contains(content, "keep me too") {
		t.Error("warn/error records missing from log file")
	}
}

// =============================================================================
// With / Close Tests
// =============================================================================

func TestWith_AttachesAttrs(t *testing.T) {
	dir := t.TempDir()
	root := New(Config{LogDir: dir, Service: "with", Quiet: true})
	defer root.Close()

	child := root.With("run_id", "r-42")
	child.Info("chunking")

	name := fmt.Sprintf("with_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"r-42"`) {
		t.Errorf("derived logger attrs missing; got: %s", data)
	}
}

func TestClose_Idempotent(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}

	logger := slog.New(h)
	logger.Info("fan out", "k", "v")

	if !strings.Contains(a.String(), "fan out") {
		t.Errorf("text destination missing record: %q", a.String())
	}
	if !strings.Contains(b.String(), `"msg":"fan out"`) {
		t.Errorf("json destination missing record: %q", b.String())
	}
}

func TestMultiHandler_RespectsPerHandlerLevel(t *testing.T) {
	var debugDst, warnDst bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugDst, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnDst, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled should be true when any destination accepts the level")
	}

	slog.New(h).Debug("debug only")

	if !strings.Contains(debugDst.String(), "debug only") {
		t.Error("debug destination missing record")
	}
	if warnDst.Len() != 0 {
		t.Errorf("warn destination should be empty, got %q", warnDst.String())
	}
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}

	logger := slog.New(h).With("svc", "cli").WithGroup("batch")
	logger.Info("upserted", "count", 100)

	out := buf.String()
	if !strings.Contains(out, `"svc":"cli"`) {
		t.Errorf("WithAttrs lost: %q", out)
	}
	if !strings.Contains(out, `"batch":{"count":100}`) {
		t.Errorf("WithGroup lost: %q", out)
	}
}

// =============================================================================
// Path Expansion Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in test environment")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log/springqna", "/var/log/springqna"},
		{"relative/logs", "relative/logs"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
