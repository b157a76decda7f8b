package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"

	"github.com/springqna/springqna/services/server/datatypes"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolHandler executes one model-requested call and returns the payload
// handed back to the model as the function response. Handlers are expected
// to degrade internally (e.g. return an empty result set on upstream
// failure); a non-nil error aborts the whole turn.
type ToolHandler func(ctx context.Context, call ToolCall) (map[string]any, error)

// ChatStreamWithTools runs a single-round tool-calling conversation.
//
// # Description
//
// The model gets one non-streaming turn with the declarations attached.
// If it requests function calls, each call is executed through handler,
// the responses are appended to the conversation, and the final answer is
// streamed. If it answers directly, that answer is delivered as a single
// token event. Either way the callback sees token events followed by one
// done event, exactly like ChatStream.
//
// # Limitations
//
//   - One tool round only; a second round of calls is not re-executed.
//   - Gemini-specific. The OpenAI backend does not participate in the
//     agent flow.
func (g *GeminiClient) ChatStreamWithTools(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, tools []*genai.Tool, handler ToolHandler,
	callback StreamCallback) error {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.ChatStreamWithTools")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.num_messages", len(messages)),
		attribute.Int("llm.num_tools", len(tools)),
	)

	contents, system, err := convertMessages(messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cfg := buildGenerateConfig(params, system)
	cfg.Tools = tools

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("gemini tool turn failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		err := fmt.Errorf("gemini returned no candidates")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	calls := collectFunctionCalls(resp)
	span.SetAttributes(attribute.Int("llm.tool_calls", len(calls)))

	if len(calls) == 0 {
		// Direct answer, no tool round.
		text, err := extractText(resp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if text != "" {
			if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: text}); cbErr != nil {
				return cbErr
			}
		}
		return callback(StreamEvent{Type: StreamEventDone})
	}

	// Execute the requested calls and extend the conversation with the
	// model turn plus the function responses.
	responseParts := make([]*genai.Part, 0, len(calls))
	for _, call := range calls {
		payload, err := handler(ctx, call)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "tool handler failed")
			return fmt.Errorf("tool %q failed: %w", call.Name, err)
		}
		responseParts = append(responseParts, genai.NewPartFromFunctionResponse(call.Name, payload))
	}

	contents = append(contents, resp.Candidates[0].Content)
	contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))

	tokens := 0
	for streamResp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "context canceled during stream")
			return ctx.Err()
		}

		fragment := chunkText(streamResp)
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

// collectFunctionCalls extracts every function call part from the first
// candidate, preserving request order.
func collectFunctionCalls(resp *genai.GenerateContentResponse) []ToolCall {
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		calls = append(calls, ToolCall{
			Name: part.FunctionCall.Name,
			Args: part.FunctionCall.Args,
		})
	}
	return calls
}
