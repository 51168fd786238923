package openaicompat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	"github.com/Idsl-group/code-agent/internal/infrastructure/logger"
)

func TestConvertResponseMessage_WithToolCalls(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Role: "assistant",
		ToolCalls: []openai.ToolCall{
			{
				ID:   "call_123",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "read_file",
					Arguments: `{"file_path":"main.py"}`,
				},
			},
			{
				ID:       "call_456",
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: "final_answer"},
			},
		},
	}

	result := convertResponseMessage(msg)

	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "call_123", result.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"file_path": "main.py"}, result.ToolCalls[0].Arguments)
	assert.Equal(t, map[string]any{}, result.ToolCalls[1].Arguments)
	assert.Empty(t, result.Text)
}

func TestConvertResponseMessage_InvalidArgumentsBecomeText(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Role:    "assistant",
		Content: "Writing the file.",
		ToolCalls: []openai.ToolCall{{
			ID:   "call_1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "write_file",
				Arguments: `{'file_path': 'a.py'}`,
			},
		}},
	}

	result := convertResponseMessage(msg)

	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, "Writing the file.\n<tool_call>{\"name\": \"write_file\", \"arguments\": {'file_path': 'a.py'}}</tool_call>", result.Text)
}

func TestConvertMessages(t *testing.T) {
	messages := []entity.Message{
		entity.UserText("create a.py"),
		entity.AssistantToolCall(entity.ToolCall{ID: "c1", Name: "write_file", Arguments: map[string]any{"file_path": "a.py"}}),
		entity.NewToolResult(entity.ToolResult{CallID: "c1", Name: "write_file", Content: "ok"}),
		entity.SystemNote("Reflection: USER_INPUT: Which name?"),
		entity.UserText("b.py"),
		entity.NewToolResult(entity.ToolResult{CallID: "call_x", Name: "user_input", Content: "b.py"}),
		entity.AssistantText("thinking"),
	}

	result := convertMessages("system prompt", messages)

	require.Len(t, result, 8)
	assert.Equal(t, openai.ChatMessageRoleSystem, result[0].Role)
	assert.Equal(t, "system prompt", result[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, result[1].Role)

	require.Len(t, result[2].ToolCalls, 1)
	assert.Equal(t, `{"file_path":"a.py"}`, result[2].ToolCalls[0].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, result[3].Role)
	assert.Equal(t, "c1", result[3].ToolCallID)

	assert.Equal(t, openai.ChatMessageRoleSystem, result[4].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, result[6].Role, "orphan tool results become user text")
	assert.Equal(t, "Result of user_input:\nb.py", result[6].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, result[7].Role)
}

func TestConvertTools(t *testing.T) {
	tools := convertTools([]entity.ToolDescriptor{{
		Name:        "read_file",
		Description: "read",
		Args:        []entity.ArgSpec{{Name: "file_path", Type: "string", Required: true}},
	}})

	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Function.Name)
	params := tools[0].Function.Parameters.(map[string]any)
	assert.Equal(t, []any{"file_path"}, params["required"])
}

func newTestServer(t *testing.T, handler func(body map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		status, resp := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatResponse(content string, toolCalls []map[string]any) map[string]any {
	msg := map[string]any{"role": "assistant", "content": content}
	if toolCalls != nil {
		msg["tool_calls"] = toolCalls
	}
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": "stop"}},
	}
}

func TestCompleteSendsConstraints(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, func(body map[string]any) (int, any) {
		seen = body
		return http.StatusOK, chatResponse("", []map[string]any{{
			"id":       "call_1",
			"type":     "function",
			"function": map[string]any{"name": "read_file", "arguments": `{"file_path":"a.py"}`},
		}})
	})

	a := New(Config{APIKey: "k", Model: "gpt-test", BaseURL: srv.URL, Logger: logger.NewNop()})
	resp, err := a.Complete(context.Background(), output.CompletionRequest{
		SystemPrompt: "pick a tool",
		Messages:     []entity.Message{entity.UserText("read a.py")},
		Tools:        []entity.ToolDescriptor{{Name: "read_file", Args: []entity.ArgSpec{{Name: "file_path", Required: true}}}},
		Constraints:  output.Constraints{RequireToolCall: true, SingleCall: true},
	})

	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "gpt-test", seen["model"])
	assert.Equal(t, "required", seen["tool_choice"])
	assert.Equal(t, false, seen["parallel_tool_calls"])
}

func TestCompleteJSONOnly(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, func(body map[string]any) (int, any) {
		seen = body
		return http.StatusOK, chatResponse(`{"a": 1}`, nil)
	})

	a := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})
	resp, err := a.Complete(context.Background(), output.CompletionRequest{
		Messages:    []entity.Message{entity.UserText("fix it")},
		Constraints: output.Constraints{JSONOnly: true},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, resp.Text)
	assert.Equal(t, map[string]any{"type": "json_object"}, seen["response_format"])
	assert.NotContains(t, seen, "tools")
}

func TestCompleteStructured(t *testing.T) {
	var seen map[string]any
	srv := newTestServer(t, func(body map[string]any) (int, any) {
		seen = body
		return http.StatusOK, chatResponse(`{"decision":"DONE","instruction":"ok"}`, nil)
	})

	a := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Structured: true})
	raw, err := a.CompleteStructured(context.Background(), output.StructuredRequest{
		Messages:   []entity.Message{entity.UserText("judge")},
		SchemaName: "verdict",
		Schema:     json.RawMessage(`{"type":"object"}`),
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"DONE","instruction":"ok"}`, string(raw))

	format := seen["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "verdict", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestCompleteStructuredDisabled(t *testing.T) {
	a := New(Config{APIKey: "k", Model: "m", BaseURL: "http://127.0.0.1:0"})

	_, err := a.CompleteStructured(context.Background(), output.StructuredRequest{})

	assert.ErrorIs(t, err, output.ErrStructuredUnsupported)
}

func TestCompleteStructuredRejectedByServer(t *testing.T) {
	srv := newTestServer(t, func(body map[string]any) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": map[string]any{
			"message": "Invalid parameter: 'response_format' of type 'json_schema' is not supported with this model.",
			"type":    "invalid_request_error",
		}}
	})

	a := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL, Structured: true})
	_, err := a.CompleteStructured(context.Background(), output.StructuredRequest{Schema: json.RawMessage(`{}`)})

	assert.ErrorIs(t, err, output.ErrStructuredUnsupported)
}

func TestCompleteServerError(t *testing.T) {
	srv := newTestServer(t, func(body map[string]any) (int, any) {
		return http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "boom"}}
	})

	a := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})
	_, err := a.Complete(context.Background(), output.CompletionRequest{Messages: []entity.Message{entity.UserText("x")}})

	require.Error(t, err)
	assert.NotErrorIs(t, err, output.ErrStructuredUnsupported)
}
