// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command springqna is the operator CLI for the Spring documentation QnA
// service. It drives the offline indexing pipeline (chunk markdown docs,
// embed them, upsert the vectors into Pinecone) and provides an ask client
// for a running server.
//
// Credentials come from the environment, never from flags:
//
//	GEMINI_API_KEY      embedding backend (index embed)
//	PINECONE_API_KEY    vector store (index run)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
