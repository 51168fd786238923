package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

var _ output.CompletionPort = (*Adapter)(nil)

// Adapter drives a local Ollama server. Ollama has no native tool calling
// here, so tools travel in the system prompt and calls come back as
// <tool_call> text for the extraction pipeline.
type Adapter struct {
	model  llms.Model
	logger output.LoggerPort
}

type Config struct {
	ServerURL string
	Model     string
	Logger    output.LoggerPort
}

func New(cfg Config) (*Adapter, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.ServerURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return NewWithModel(llm, cfg.Logger), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, logger output.LoggerPort) *Adapter {
	return &Adapter{model: model, logger: logger}
}

func (a *Adapter) Complete(ctx context.Context, req output.CompletionRequest) (*output.Completion, error) {
	opts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.Constraints.JSONOnly {
		opts = append(opts, llms.WithJSONMode())
	}

	text, err := a.generate(ctx, req.SystemPrompt, req.Messages, opts)
	if err != nil {
		return nil, err
	}
	return &output.Completion{Text: text}, nil
}

// CompleteStructured uses JSON mode and appends the schema to the system
// prompt. The caller still validates the result.
func (a *Adapter) CompleteStructured(ctx context.Context, req output.StructuredRequest) (json.RawMessage, error) {
	system := req.SystemPrompt
	if len(req.Schema) > 0 {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object matching this schema:\n" + string(req.Schema))
	}

	text, err := a.generate(ctx, system, req.Messages, []llms.CallOption{
		llms.WithTemperature(float64(req.Temperature)),
		llms.WithJSONMode(),
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}

func (a *Adapter) generate(ctx context.Context, system string, messages []entity.Message, opts []llms.CallOption) (string, error) {
	content := convertMessages(system, messages)
	if a.logger != nil {
		a.logger.Debug("Ollama request", "messages", len(content))
	}

	resp, err := a.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama generation failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func convertMessages(system string, messages []entity.Message) []llms.MessageContent {
	result := make([]llms.MessageContent, 0, len(messages)+1)
	if system != "" {
		result = append(result, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}

	for _, msg := range messages {
		switch msg.Kind {
		case entity.KindUserText:
			result = append(result, llms.TextParts(schema.ChatMessageTypeHuman, msg.Content))
		case entity.KindAssistantText:
			result = append(result, llms.TextParts(schema.ChatMessageTypeAI, msg.Content))
		case entity.KindSystemNote:
			result = append(result, llms.TextParts(schema.ChatMessageTypeSystem, msg.Content))
		case entity.KindAssistantToolCall:
			if msg.Call == nil {
				continue
			}
			result = append(result, llms.TextParts(schema.ChatMessageTypeAI, renderToolCall(*msg.Call)))
		case entity.KindToolResult:
			if msg.Result == nil {
				continue
			}
			result = append(result, llms.TextParts(schema.ChatMessageTypeHuman,
				fmt.Sprintf("Result of %s:\n%s", msg.Result.Name, msg.Result.Content)))
		}
	}
	return result
}

func renderToolCall(call entity.ToolCall) string {
	body, err := json.Marshal(map[string]any{
		"name":      call.Name,
		"arguments": call.Arguments,
	})
	if err != nil {
		body = []byte(fmt.Sprintf(`{"name": %q, "arguments": {}}`, call.Name))
	}
	return "<tool_call>" + string(body) + "</tool_call>"
}
