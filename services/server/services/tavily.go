// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTavilyBaseURL is the hosted Tavily search API.
const defaultTavilyBaseURL = "https://api.tavily.com"

// TavilyClient is a minimal client for the Tavily web search REST API.
type TavilyClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Tavily API request structure.
type tavilySearchRequest struct {
	Query             string   `json:"query"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeRawContent bool     `json:"include_raw_content,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
}

// TavilySearchResult is one hit returned by Tavily.
type TavilySearchResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
	RawContent string  `json:"raw_content,omitempty"`
}

type tavilySearchResponse struct {
	Results []TavilySearchResult `json:"results"`
}

// NewTavilyClient creates a Tavily client. baseURL overrides the hosted
// endpoint (used by tests); empty means the default.
func NewTavilyClient(apiKey, baseURL string) (*TavilyClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tavily API key is required")
	}
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}

	return &TavilyClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}, nil
}

// Search runs one search call. maxResults <= 0 lets the API pick its
// default; includeDomains restricts results to the given hosts.
func (t *TavilyClient) Search(ctx context.Context, query string, maxResults int, includeDomains []string) ([]TavilySearchResult, error) {
	payload := tavilySearchRequest{
		Query:             query,
		MaxResults:        maxResults,
		IncludeRawContent: true,
		IncludeDomains:    includeDomains,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var searchResp tavilySearchResponse
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return searchResp.Results, nil
}
