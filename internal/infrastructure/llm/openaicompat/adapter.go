package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

var _ output.CompletionPort = (*Adapter)(nil)

// Adapter talks to any OpenAI compatible chat completions endpoint
// (OpenAI, OpenRouter, vLLM, LM Studio).
type Adapter struct {
	client     *openai.Client
	model      string
	structured bool
	logger     output.LoggerPort
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Structured enables json_schema response formats. Endpoints that reject
	// them should leave it off so reflection uses the text fallback.
	Structured bool
	Logger     output.LoggerPort
}

func DefaultConfig(apiKey, model string) Config {
	return Config{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.openai.com/v1",
		Structured: true,
	}
}

type loggingTransport struct {
	base   http.RoundTripper
	logger output.LoggerPort
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	var requestData map[string]any
	if len(bodyBytes) > 0 {
		_ = json.Unmarshal(bodyBytes, &requestData)
	}
	t.logger.Debug("HTTP Request",
		"method", req.Method,
		"url", req.URL.String(),
		"body", requestData,
	)

	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		t.logger.Debug("HTTP Response",
			"status", resp.Status,
			"statusCode", resp.StatusCode,
		)
	}
	return resp, err
}

func New(cfg Config) *Adapter {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	if cfg.Logger != nil {
		config.HTTPClient = &http.Client{
			Transport: &loggingTransport{
				base:   http.DefaultTransport,
				logger: cfg.Logger,
			},
		}
	}

	return &Adapter{
		client:     openai.NewClientWithConfig(config),
		model:      cfg.Model,
		structured: cfg.Structured,
		logger:     cfg.Logger,
	}
}

func (a *Adapter) Complete(ctx context.Context, req output.CompletionRequest) (*output.Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    convertMessages(req.SystemPrompt, req.Messages),
		Temperature: req.Temperature,
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
		chatReq.ToolChoice = "auto"
		if req.Constraints.RequireToolCall {
			chatReq.ToolChoice = "required"
		}
		if req.Constraints.SingleCall {
			chatReq.ParallelToolCalls = false
		}
	}
	if req.Constraints.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return convertResponseMessage(resp.Choices[0].Message), nil
}

func (a *Adapter) CompleteStructured(ctx context.Context, req output.StructuredRequest) (json.RawMessage, error) {
	if !a.structured {
		return nil, output.ErrStructuredUnsupported
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    convertMessages(req.SystemPrompt, req.Messages),
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		if rejectsResponseFormat(err) {
			return nil, fmt.Errorf("%w: %v", output.ErrStructuredUnsupported, err)
		}
		return nil, fmt.Errorf("structured completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

func rejectsResponseFormat(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HTTPStatusCode == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.Message), "response_format")
}

// convertMessages maps the log onto chat roles. A tool result whose call is
// not in the window is sent as plain user text, since the API rejects tool
// messages without a matching assistant call.
func convertMessages(systemPrompt string, messages []entity.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	openCalls := make(map[string]bool)
	for _, msg := range messages {
		switch msg.Kind {
		case entity.KindUserText:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case entity.KindAssistantText:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content})
		case entity.KindSystemNote:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case entity.KindAssistantToolCall:
			if msg.Call == nil {
				continue
			}
			args, err := json.Marshal(msg.Call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			openCalls[msg.Call.ID] = true
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   msg.Call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      msg.Call.Name,
						Arguments: string(args),
					},
				}},
			})
		case entity.KindToolResult:
			if msg.Result == nil {
				continue
			}
			if openCalls[msg.Result.CallID] {
				delete(openCalls, msg.Result.CallID)
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    msg.Result.Content,
					ToolCallID: msg.Result.CallID,
					Name:       msg.Result.Name,
				})
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Result of %s:\n%s", msg.Result.Name, msg.Result.Content),
			})
		}
	}
	return result
}

func convertTools(tools []entity.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name.String(),
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}
	return result
}

// convertResponseMessage decodes native tool calls. Calls whose arguments are
// not valid JSON are written back into the text as <tool_call> blocks so the
// repair pipeline can handle them.
func convertResponseMessage(msg openai.ChatCompletionMessage) *output.Completion {
	result := &output.Completion{Text: msg.Content}

	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				result.Text += fmt.Sprintf("\n<tool_call>{\"name\": %q, \"arguments\": %s}</tool_call>", tc.Function.Name, raw)
				continue
			}
		}
		result.ToolCalls = append(result.ToolCalls, entity.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	result.Text = strings.TrimSpace(result.Text)
	return result
}
