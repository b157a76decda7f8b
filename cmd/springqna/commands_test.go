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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The embed dimension must default to the same value on the CLI and the
// server (0, model-native). A CLI that defaults to a fixed size builds an
// index the server's query vectors can never match.
func TestIndexEmbedDimensionDefaultsToModelNative(t *testing.T) {
	flag := indexEmbedCmd.Flags().Lookup("dimension")
	require.NotNil(t, flag)

	assert.Equal(t, "0", flag.DefValue)
	assert.Contains(t, flag.Usage, "EMBED_DIMENSION")
}

func TestIndexEmbedModelDefaultMatchesServer(t *testing.T) {
	flag := indexEmbedCmd.Flags().Lookup("model")
	require.NotNil(t, flag)

	assert.Equal(t, "gemini-embedding-001", flag.DefValue)
}
