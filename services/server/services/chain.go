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
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/springqna/springqna/services/llm"
	"github.com/springqna/springqna/services/server/datatypes"
)

// chainTracer is the OpenTelemetry tracer for ChainService operations.
var chainTracer = otel.Tracer("springqna.services.chain")

// springProjects is the classification vocabulary for project-scoped chat.
// The classifier must return one of these names; anything else falls back to
// fallbackProject.
var springProjects = []string{
	"spring boot", "spring framework", "spring data", "spring cloud", "spring cloud data flow",
	"spring security", "spring authorization server", "spring for graphql", "spring session",
	"spring integration", "spring hateoas", "spring modulith", "spring rest docs", "spring ai",
	"spring batch", "spring amqp", "spring for apache kafka", "spring ldap",
	"spring for apache pulsar", "spring shell", "spring statemachine", "spring web flow",
	"spring web services",
}

const fallbackProject = "spring framework"

var springProjectSet = func() map[string]bool {
	set := make(map[string]bool, len(springProjects))
	for _, p := range springProjects {
		set[p] = true
	}
	return set
}()

// =============================================================================
// Prompt Templates
// =============================================================================

const examplePromptTemplate = "당신은 Spring Framework 전문가입니다. 다음 질문에 한국어로 답변해주세요: %s"

const classifierPromptTemplate = "Classify the following question into one of these Spring projects:\n%s\n\n" +
	"If the question is not related to any specific project, or if you are unsure, return 'spring framework'.\n" +
	"Return ONLY the project name in lowercase.\n\n" +
	"Question: %s"

// projectSystemPromptTemplate scopes the persona to the classified project
// for first questions.
const projectSystemPromptTemplate = "당신은 %s 전문가입니다. 다음 질문에 한국어로 답변해주세요."

// projectSystemPromptWithHistory is used once a conversation exists; the
// prior turns carry the project context, so the question is not reclassified
// mid-conversation.
const projectSystemPromptWithHistory = "당신은 Spring 전문가입니다. 이전 대화의 맥락을 고려하여 한국어로 답변해주세요."

// =============================================================================
// ChainService
// =============================================================================

// ChainService answers plain (non-RAG) chat requests: the fixed example
// chain and the project-classified chain. The classifier runs on its own
// model; answers go through the regular chat backend.
type ChainService struct {
	llmClient  llm.LLMClient
	classifier llm.LLMClient
}

// NewChainService creates a ChainService. The classifier client may point at
// a different model than the answering client. Panics on nil dependencies so
// wiring bugs die at startup.
func NewChainService(llmClient, classifier llm.LLMClient) *ChainService {
	if llmClient == nil {
		panic("NewChainService: llmClient cannot be nil")
	}
	if classifier == nil {
		panic("NewChainService: classifier cannot be nil")
	}
	return &ChainService{llmClient: llmClient, classifier: classifier}
}

// ExampleAnswer answers one question through the fixed Spring Framework
// expert template, with no retrieval and no history.
func (s *ChainService) ExampleAnswer(ctx context.Context, question string) (string, error) {
	ctx, span := chainTracer.Start(ctx, "ChainService.ExampleAnswer")
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		err := &ValidationError{Message: "message is required"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty question")
		return "", err
	}

	answer, err := s.llmClient.Generate(ctx, fmt.Sprintf(examplePromptTemplate, question), llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", &GenerationError{Err: err}
	}
	return answer, nil
}

// ClassifyProject maps a question onto one of the known Spring project
// names. Unknown or unsure classifications land on fallbackProject, so the
// result is always a member of the vocabulary.
func (s *ChainService) ClassifyProject(ctx context.Context, question string) (string, error) {
	ctx, span := chainTracer.Start(ctx, "ChainService.ClassifyProject")
	defer span.End()

	prompt := fmt.Sprintf(classifierPromptTemplate, strings.Join(springProjects, ", "), question)
	result, err := s.classifier.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return "", &GenerationError{Err: err}
	}

	project := strings.ToLower(strings.TrimSpace(result))
	if !springProjectSet[project] {
		slog.Info("Classifier returned unknown project, using fallback",
			"returned", project, "fallback", fallbackProject)
		project = fallbackProject
	}
	span.SetAttributes(attribute.String("chat.project", project))
	return project, nil
}

// ProjectAnswer answers a question with a project-scoped persona. First
// questions are classified to pick the persona; once history exists the
// generic Spring persona is used and the prior turns carry the context.
func (s *ChainService) ProjectAnswer(ctx context.Context, question string, history []datatypes.HistoryMessage) (string, error) {
	ctx, span := chainTracer.Start(ctx, "ChainService.ProjectAnswer")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.history_turns", len(history)))

	question = strings.TrimSpace(question)
	if question == "" {
		err := &ValidationError{Message: "message is required"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty question")
		return "", err
	}

	var systemPrompt string
	if len(history) > 0 {
		systemPrompt = projectSystemPromptWithHistory
	} else {
		project, err := s.ClassifyProject(ctx, question)
		if err != nil {
			return "", err
		}
		systemPrompt = fmt.Sprintf(projectSystemPromptTemplate, project)
	}

	messages := BuildPromptMessages(systemPrompt, MapHistory(history), question)
	answer, err := s.llmClient.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", &GenerationError{Err: err}
	}
	return answer, nil
}
