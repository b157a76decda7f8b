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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springqna/springqna/services/server/datatypes"
)

func TestChainService_ExampleAnswer(t *testing.T) {
	client := &MockLLMClient{GenerateResponse: "한국어 답변입니다"}
	svc := NewChainService(client, &MockLLMClient{})

	answer, err := svc.ExampleAnswer(context.Background(), "DI란 무엇인가요?")

	require.NoError(t, err)
	assert.Equal(t, "한국어 답변입니다", answer)
	assert.Contains(t, client.LastPrompt, "Spring Framework 전문가")
	assert.Contains(t, client.LastPrompt, "DI란 무엇인가요?")
}

func TestChainService_ExampleAnswer_EmptyQuestion(t *testing.T) {
	svc := NewChainService(&MockLLMClient{}, &MockLLMClient{})

	_, err := svc.ExampleAnswer(context.Background(), "   ")

	assert.True(t, IsValidationError(err))
}

func TestChainService_ClassifyProject(t *testing.T) {
	tests := []struct {
		name       string
		classified string
		want       string
	}{
		{name: "known project passes through", classified: "spring boot", want: "spring boot"},
		{name: "casing and whitespace are normalized", classified: "  Spring Security\n", want: "spring security"},
		{name: "unknown project falls back", classified: "kubernetes", want: "spring framework"},
		{name: "empty classification falls back", classified: "", want: "spring framework"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := &MockLLMClient{GenerateResponse: tt.classified}
			svc := NewChainService(&MockLLMClient{}, classifier)

			project, err := svc.ClassifyProject(context.Background(), "질문")

			require.NoError(t, err)
			assert.Equal(t, tt.want, project)
		})
	}
}

func TestChainService_ClassifyProject_PromptListsVocabulary(t *testing.T) {
	classifier := &MockLLMClient{GenerateResponse: "spring batch"}
	svc := NewChainService(&MockLLMClient{}, classifier)

	_, err := svc.ClassifyProject(context.Background(), "배치 작업 재시작 방법")

	require.NoError(t, err)
	assert.Contains(t, classifier.LastPrompt, "spring boot, spring framework")
	assert.Contains(t, classifier.LastPrompt, "spring web services")
	assert.Contains(t, classifier.LastPrompt, "배치 작업 재시작 방법")
}

func TestChainService_ClassifyProject_ClassifierFailure(t *testing.T) {
	classifier := &MockLLMClient{GenerateError: errors.New("quota exceeded")}
	svc := NewChainService(&MockLLMClient{}, classifier)

	_, err := svc.ClassifyProject(context.Background(), "질문")

	assert.True(t, IsGenerationError(err))
}

func TestChainService_ProjectAnswer_FirstTurnClassifies(t *testing.T) {
	client := &MockLLMClient{ChatResponse: "배치 답변"}
	classifier := &MockLLMClient{GenerateResponse: "spring batch"}
	svc := NewChainService(client, classifier)

	answer, err := svc.ProjectAnswer(context.Background(), "청크 커밋 간격은?", nil)

	require.NoError(t, err)
	assert.Equal(t, "배치 답변", answer)
	assert.Equal(t, 1, classifier.GenerateCallCount)

	require.NotEmpty(t, client.LastMessages)
	assert.Equal(t, datatypes.RoleSystem, client.LastMessages[0].Role)
	assert.Contains(t, client.LastMessages[0].Content, "spring batch 전문가")
}

func TestChainService_ProjectAnswer_HistorySkipsClassification(t *testing.T) {
	client := &MockLLMClient{ChatResponse: "이어지는 답변"}
	classifier := &MockLLMClient{GenerateResponse: "spring boot"}
	svc := NewChainService(client, classifier)

	history := []datatypes.HistoryMessage{
		{Role: "human", Content: "스프링 배치란?"},
		{Role: "ai", Content: "배치 처리 프레임워크입니다."},
	}
	answer, err := svc.ProjectAnswer(context.Background(), "재시작은 어떻게 해?", history)

	require.NoError(t, err)
	assert.Equal(t, "이어지는 답변", answer)
	// Follow-up turns keep the generic persona; no classifier call is made.
	assert.Equal(t, 0, classifier.GenerateCallCount)
	assert.Equal(t, projectSystemPromptWithHistory, client.LastMessages[0].Content)
	require.Len(t, client.LastMessages, 4)
}

func TestNewChainService_PanicsOnNilDependencies(t *testing.T) {
	client := &MockLLMClient{}

	assert.Panics(t, func() { NewChainService(nil, client) })
	assert.Panics(t, func() { NewChainService(client, nil) })
}
