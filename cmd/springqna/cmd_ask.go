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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/springqna/springqna/services/server/datatypes"
)

// askTimeout bounds the whole request; generation can take a while but
// not forever.
const askTimeout = 2 * time.Minute

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	var (
		resp *datatypes.RagResponse
		err  error
	)
	if askStream {
		resp, err = sendRAGStreamRequest(question)
	} else {
		resp, err = sendRAGRequest(question)
	}
	if err != nil {
		fatal("%v", err)
	}

	if !askStream {
		fmt.Printf("\nAnswer:\n%s\n", resp.Answer)
	}
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources Used:")
		for _, source := range resp.Sources {
			fmt.Printf("%d. %s\n", source.Index, source.SourceURL)
		}
	} else {
		fmt.Println("\n(No sources identified for this answer)")
	}
	fmt.Println("\n---")
}

func postChat(path, question string) (*http.Response, error) {
	body, err := json.Marshal(datatypes.ChatRequest{Message: question})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimRight(askServerURL, "/") + path
	client := &http.Client{Timeout: askTimeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("contacting server at %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return resp, nil
}

// sendRAGRequest POSTs the question to the synchronous RAG endpoint.
func sendRAGRequest(question string) (*datatypes.RagResponse, error) {
	resp, err := postChat("/api/rag/chat", question)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ragResp datatypes.RagResponse
	if err := json.NewDecoder(resp.Body).Decode(&ragResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &ragResp, nil
}

// sendRAGStreamRequest consumes the SSE endpoint, printing chunks as they
// arrive. A stream that ends without the [DONE] sentinel is a failure even
// if an answer event was seen; the server signals mid-stream errors by
// dropping the connection.
func sendRAGStreamRequest(question string) (*datatypes.RagResponse, error) {
	resp, err := postChat("/api/rag/chat/stream", question)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	result := datatypes.NewRagResponse("", nil)
	done := false
	printedAnswerHeader := false

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == datatypes.DoneSentinel {
			done = true
			break
		}

		var event struct {
			Type    string                     `json:"type"`
			Content string                     `json:"content"`
			Sources []datatypes.SourceDocument `json:"sources"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("malformed stream event: %w", err)
		}

		switch event.Type {
		case datatypes.StreamEventChunk:
			if !printedAnswerHeader {
				fmt.Println("\nAnswer:")
				printedAnswerHeader = true
			}
			fmt.Print(event.Content)
		case datatypes.StreamEventAnswer:
			result.Answer = event.Content
		case datatypes.StreamEventSources:
			result.Sources = event.Sources
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if printedAnswerHeader {
		fmt.Println()
	}
	if !done {
		return nil, fmt.Errorf("stream ended without %s; treating the answer as incomplete", datatypes.DoneSentinel)
	}
	return result, nil
}
