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
	"fmt"
	"strings"

	"github.com/springqna/springqna/services/server/datatypes"
	"github.com/springqna/springqna/services/server/retrieval"
)

// =============================================================================
// Prompt Templates
// =============================================================================

// ragSystemPromptTemplate grounds the answer in the numbered context block.
// The model is told to cite document numbers per paragraph and to say the
// docs don't cover it rather than invent content.
const ragSystemPromptTemplate = "당신은 Spring Projects 전문가입니다.\n" +
	"아래 참고 문서(context)를 바탕으로 사용자의 질문에 한국어로 답변해주세요.\n" +
	"각 문단의 내용을 설명한 후, 해당 문단이 참조한 문서 번호를 문단 마지막에 [1], [2] 형식으로 반드시 표기하세요.\n" +
	"참고 문서에 없는 내용이라면 \"해당 내용은 제공된 문서에서 확인할 수 없습니다.\"라고 안내하세요.\n\n" +
	"[참고 문서]\n%s"

// ragSystemPromptNoDocs replaces the grounded template when retrieval found
// nothing. It must not claim reference documents exist and must not ask for
// citations, since there are no indices to cite.
const ragSystemPromptNoDocs = "당신은 Spring Projects 전문가입니다.\n" +
	"이번 질문과 관련해 검색된 참고 문서가 없습니다. 일반적인 지식을 바탕으로 사용자의 질문에 한국어로 답변해주세요.\n" +
	"문서 번호 인용([1], [2] 형식)은 사용하지 마세요."

// =============================================================================
// Context Assembly
// =============================================================================

// BuildContextBlock renders retrieved passages as a numbered context block:
//
//	[1] first passage content
//	[2] second passage content
//
// Numbering is positional in retrieval-rank order, 1-based, recomputed per
// request with no relation to any persistent document identifier. Zero
// passages yield an empty string.
func BuildContextBlock(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return ""
	}

	lines := make([]string, len(passages))
	for i, passage := range passages {
		lines[i] = fmt.Sprintf("[%d] %s", i+1, passage.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildRAGSystemPrompt returns the system instruction for a RAG answer. An
// empty context block selects the no-documents variant so the model is never
// told sources exist when retrieval came back empty.
func BuildRAGSystemPrompt(contextBlock string) string {
	if contextBlock == "" {
		return ragSystemPromptNoDocs
	}
	return fmt.Sprintf(ragSystemPromptTemplate, contextBlock)
}

// MapHistory converts wire-format history (roles human/ai) into the internal
// conversation vocabulary (user/assistant), preserving order. Entries with
// any other role are skipped; request validation already rejects them at the
// boundary.
func MapHistory(history []datatypes.HistoryMessage) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(history))
	for _, h := range history {
		switch h.Role {
		case datatypes.HistoryRoleHuman:
			messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: h.Content})
		case datatypes.HistoryRoleAI:
			messages = append(messages, datatypes.Message{Role: datatypes.RoleAssistant, Content: h.Content})
		}
	}
	return messages
}

// BuildPromptMessages assembles the full conversation sent to the model:
// the system instruction, prior turns in their original order, then the new
// user question.
func BuildPromptMessages(systemPrompt string, history []datatypes.Message, question string) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: question})
	return messages
}

// BuildSources mirrors the numbered passages as response source documents.
// Indices match the [n] markers in the context block. Zero passages yield an
// empty, non-nil slice so the wire shape stays "sources": [].
func BuildSources(passages []retrieval.Passage) []datatypes.SourceDocument {
	sources := make([]datatypes.SourceDocument, len(passages))
	for i, passage := range passages {
		sources[i] = datatypes.SourceDocument{
			Index:       i + 1,
			SourceURL:   passage.SourceURL,
			PageContent: passage.Content,
		}
	}
	return sources
}
