package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/springqna/springqna/services/server/datatypes"
)

var geminiTracer = otel.Tracer("springqna.llm.gemini")

// GeminiClient talks to the Gemini API through the official genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed LLMClient for the given model.
// The API key and model name are injected by the caller; this constructor
// never reads the environment.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-3-flash-preview"
		slog.Warn("Gemini model not set, using default", "model", model)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	slog.Info("Initializing Gemini client", "model", model)
	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

// Model returns the model name this client generates with.
func (g *GeminiClient) Model() string {
	return g.model
}

// Generate implements the LLMClient interface.
func (g *GeminiClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model))

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, buildGenerateConfig(params, ""))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Gemini generate call failed", "model", g.model, "error", err)
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// Chat implements the LLMClient interface. A leading system message is
// lifted into the Gemini system instruction.
func (g *GeminiClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	contents, system, err := convertMessages(messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, buildGenerateConfig(params, system))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Gemini chat call failed", "model", g.model, "error", err)
		return "", fmt.Errorf("gemini chat failed: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// ChatStream implements the LLMClient interface. Tokens are delivered in
// emission order; a callback error or context cancellation stops the
// upstream stream and no done event is emitted.
func (g *GeminiClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	contents, system, err := convertMessages(messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	tokens := 0
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, buildGenerateConfig(params, system)) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Gemini stream failed", "model", g.model, "tokens_before_failure", tokens, "error", err)
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "context canceled during stream")
			return ctx.Err()
		}

		fragment := chunkText(resp)
		if fragment == "" {
			continue
		}
		tokens++
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: fragment}); cbErr != nil {
			span.SetStatus(codes.Error, "callback canceled stream")
			return cbErr
		}
	}

	span.SetAttributes(attribute.Int("llm.tokens_emitted", tokens))
	return callback(StreamEvent{Type: StreamEventDone})
}

// =============================================================================
// Conversion Helpers
// =============================================================================

// convertMessages maps internal messages onto Gemini contents. System
// messages are collected into a single system instruction; user maps to
// RoleUser and assistant to RoleModel. At least one non-system message is
// required.
func convertMessages(messages []datatypes.Message) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case datatypes.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case datatypes.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case datatypes.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			return nil, "", fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return nil, "", fmt.Errorf("conversation must contain at least one non-system message")
	}
	return contents, strings.Join(systemParts, "\n\n"), nil
}

// buildGenerateConfig maps GenerationParams onto the genai request config.
func buildGenerateConfig(params GenerationParams, system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if params.Temperature != nil {
		cfg.Temperature = genai.Ptr(*params.Temperature)
	}
	if params.TopP != nil {
		cfg.TopP = genai.Ptr(*params.TopP)
	}
	if params.TopK != nil {
		cfg.TopK = genai.Ptr(float32(*params.TopK))
	}
	if params.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*params.MaxTokens)
	}
	if len(params.Stop) > 0 {
		cfg.StopSequences = params.Stop
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

// extractText flattens the first candidate's text parts.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("gemini returned an empty candidate")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// chunkText flattens one streaming response chunk. Chunks without text
// (e.g. trailing usage metadata) yield the empty string.
func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
