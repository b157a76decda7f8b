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
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/datatypes"
)

var agentTracer = otel.Tracer("springqna.services.agent")

// =============================================================================
// Agent Prompts and Tool Declaration
// =============================================================================

// agentSystemPrompt instructs the model to search the official docs before
// answering substantive Spring questions, and to cite what it used.
const agentSystemPrompt = "당신은 친절한 Spring Projects 전문가 챗봇입니다.\n" +
	"사용자의 질문에 한국어로 답변해주세요.\n" +
	"Spring과 관련된 구체적인 정보, 사용법, API나 최신 변경점 등에 대한 답변을 할 때는 반드시 `spring_docs_search` 도구를 사용하여 공식 문서를 검색한 후 그 결괏값을 바탕으로 답변하세요.\n" +
	"도구를 사용했다면, 답변의 각 문단 끝에 해당 내용이 참조한 문서 번호를 [1], [2] 형식으로 표시해주세요.\n" +
	"단순한 인사나 검색이 필요 없는 일반적인 대화라면 도구를 사용하지 않고 바로 답변하셔도 됩니다."

const springDocsSearchToolName = "spring_docs_search"

// searchSiteSuffix keeps Tavily focused on the official documentation even
// when the domain filter is loose about subdomains.
const searchSiteSuffix = " site:docs.spring.io"

const (
	agentMaxResults      = 5
	maxSourceContentSize = 1000
)

var agentSearchDomains = []string{"docs.spring.io"}

func springDocsSearchTools() []*genai.Tool {
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name: springDocsSearchToolName,
			Description: "Search the official Spring documentation (docs.spring.io) for the given query. " +
				"Use this for factual information, usage guides, API details, or recent changes in any Spring project.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {
						Type:        genai.TypeString,
						Description: "The search query, in English where possible.",
					},
				},
				Required: []string{"query"},
			},
		}},
	}}
}

// =============================================================================
// Agent Service
// =============================================================================

// toolStreamer is the slice of the Gemini client the agent needs.
// Satisfied by *llm.GeminiClient.
type toolStreamer interface {
	ChatStreamWithTools(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams,
		tools []*genai.Tool, handler llm.ToolHandler, callback llm.StreamCallback) error
}

// AgentService answers questions with a tool-using Gemini loop: the model may
// call spring_docs_search (backed by Tavily) before composing its answer, and
// every document the tool returned is reported as a source.
type AgentService struct {
	gemini toolStreamer
	tavily *TavilyClient
}

// NewAgentService creates the agent service. Both dependencies are required;
// when either is unavailable the server leaves the agent unconfigured and the
// endpoint reports it as disabled.
func NewAgentService(gemini *llm.GeminiClient, tavily *TavilyClient) *AgentService {
	if gemini == nil {
		panic("NewAgentService: gemini client is nil")
	}
	if tavily == nil {
		panic("NewAgentService: tavily client is nil")
	}

	return &AgentService{gemini: gemini, tavily: tavily}
}

// AnswerStream runs the tool-using loop and streams the answer.
//
// # Description
//
//	The system prompt tells the model to call spring_docs_search for
//	substantive Spring questions. When it does, the tool handler queries
//	Tavily restricted to docs.spring.io, records each hit as a numbered
//	source, and feeds the results back to the model for a grounded answer.
//	Search failures degrade to an empty result set; the chat itself never
//	fails because the search backend was down.
//
//	Emission order matches the retrieval pipeline: chunks, then the full
//	answer, then sources. Sources may be empty when the model answered
//	without searching.
func (s *AgentService) AnswerStream(ctx context.Context, question string, history []datatypes.HistoryMessage, emit StreamEmitter) error {
	ctx, span := agentTracer.Start(ctx, "AgentService.AnswerStream")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return &ValidationError{Message: "question must not be empty"}
	}
	span.SetAttributes(attribute.Int("history_turns", len(history)))

	messages := BuildPromptMessages(agentSystemPrompt, MapHistory(history), question)

	var sources []datatypes.SourceDocument
	handler := func(ctx context.Context, call llm.ToolCall) (map[string]any, error) {
		if call.Name != springDocsSearchToolName {
			slog.Warn("[AgentTool] Unknown tool requested", "tool", call.Name)
			return map[string]any{"results": []map[string]any{}}, nil
		}

		query, _ := call.Args["query"].(string)
		results := s.search(ctx, query)
		for _, r := range results {
			sources = append(sources, datatypes.SourceDocument{
				Index:       len(sources) + 1,
				SourceURL:   r.URL,
				PageContent: truncateRunes(r.Content, maxSourceContentSize),
			})
		}
		return toolResultsPayload(results), nil
	}

	var accumulated strings.Builder
	streamErr := s.gemini.ChatStreamWithTools(ctx, messages,
		llm.GenerationParams{Temperature: llm.Float32Ptr(0)},
		springDocsSearchTools(), handler,
		func(event llm.StreamEvent) error {
			if event.Type != llm.StreamEventToken || event.Content == "" {
				return nil
			}
			accumulated.WriteString(event.Content)
			return emit.Chunk(event.Content)
		})
	if streamErr != nil {
		span.RecordError(streamErr)
		return &GenerationError{Err: streamErr}
	}

	if err := emit.Answer(accumulated.String()); err != nil {
		return err
	}
	return emit.Sources(sources)
}

// search runs one docs search. Errors are logged and swallowed so a search
// outage turns into an unsourced answer instead of a failed chat.
func (s *AgentService) search(ctx context.Context, query string) []TavilySearchResult {
	searchQuery := strings.TrimSpace(query) + searchSiteSuffix
	slog.Info("[AgentDecision] Searching official docs", "query", searchQuery)

	results, err := s.tavily.Search(ctx, searchQuery, agentMaxResults, agentSearchDomains)
	if err != nil {
		slog.Error("[AgentTool] Docs search failed, continuing without results", "error", err)
		return nil
	}
	slog.Info("[AgentObservation] Docs search completed", "count", len(results))
	return results
}

// toolResultsPayload shapes Tavily hits into the function response the model
// consumes. Snippet content only; raw page bodies stay out of the prompt.
func toolResultsPayload(results []TavilySearchResult) map[string]any {
	items := make([]map[string]any, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"content": r.Content,
		})
	}
	return map[string]any{"results": items}
}

// truncateRunes caps s at n runes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
