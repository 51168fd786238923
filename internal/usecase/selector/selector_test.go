package selector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/infrastructure/logger"
	"github.com/Idsl-group/code-agent/internal/usecase/extraction"
)

type mockLLM struct {
	responses []*output.Completion
	err       error
	requests  []output.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req output.CompletionRequest) (*output.Completion, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *mockLLM) CompleteStructured(ctx context.Context, req output.StructuredRequest) (json.RawMessage, error) {
	return nil, output.ErrStructuredUnsupported
}

type mockRegistry struct{}

func (mockRegistry) Register(output.ToolPort) error { return nil }
func (mockRegistry) Get(entity.ToolName) (output.ToolPort, bool) {
	return nil, false
}
func (mockRegistry) Descriptors() []entity.ToolDescriptor {
	return []entity.ToolDescriptor{{Name: entity.ToolReadFile, Description: "read"}}
}
func (mockRegistry) Render() (string, error) { return "tools:\n  - name: read_file\n", nil }
func (mockRegistry) Invoke(context.Context, entity.ToolCall) (string, error) {
	return "", nil
}

func newSelector(llm *mockLLM, window int) *Selector {
	log := logger.NewNop()
	return New(llm, mockRegistry{}, extraction.New(llm, log, 5), log, Config{HistoryWindow: window})
}

func taskState() entity.ConversationState {
	return entity.ConversationState{Messages: []entity.Message{entity.UserText("read main.py")}}
}

func TestSelectKeepsOnlyFirstCall(t *testing.T) {
	llm := &mockLLM{responses: []*output.Completion{{ToolCalls: []entity.ToolCall{
		{ID: "a", Name: "read_file", Arguments: map[string]any{"file_path": "main.py"}},
		{ID: "b", Name: "write_file"},
		{ID: "c", Name: "final_answer"},
	}}}}

	sel, err := newSelector(llm, 0).Select(context.Background(), taskState())

	require.NoError(t, err)
	require.NotNil(t, sel.Call)
	assert.Equal(t, "a", sel.Call.ID)
	assert.Equal(t, "read_file", sel.Call.Name)
	assert.Equal(t, 2, sel.Discarded)
	require.Len(t, llm.requests, 1, "no re-prompt after clipping")

	req := llm.requests[0]
	assert.True(t, req.Constraints.RequireToolCall)
	assert.True(t, req.Constraints.SingleCall)
	assert.Contains(t, req.SystemPrompt, "name: read_file")
	assert.Len(t, req.Tools, 1)
}

func TestSelectAssignsMissingCallID(t *testing.T) {
	llm := &mockLLM{responses: []*output.Completion{{ToolCalls: []entity.ToolCall{{Name: "read_file"}}}}}

	sel, err := newSelector(llm, 0).Select(context.Background(), taskState())

	require.NoError(t, err)
	assert.Regexp(t, `^call_[0-9a-f]{32}$`, sel.Call.ID)
}

func TestSelectRecoversDelimitedCall(t *testing.T) {
	llm := &mockLLM{responses: []*output.Completion{
		{Text: `Let me look. <tool_call>{"name": "read_file", "arguments": {"file_path": "main.py"}}</tool_call>`},
		{Text: `{"name": "read_file", "arguments": {"file_path": "main.py"}}`},
	}}

	sel, err := newSelector(llm, 0).Select(context.Background(), taskState())

	require.NoError(t, err)
	require.NotNil(t, sel.Call)
	assert.Equal(t, map[string]any{"file_path": "main.py"}, sel.Call.Arguments)
	assert.Len(t, llm.requests, 2)
}

func TestSelectPassesTextThrough(t *testing.T) {
	llm := &mockLLM{responses: []*output.Completion{{Text: "I am not sure which file you mean."}}}

	sel, err := newSelector(llm, 0).Select(context.Background(), taskState())

	require.NoError(t, err)
	assert.Nil(t, sel.Call)
	assert.Equal(t, "I am not sure which file you mean.", sel.Text)
	assert.Len(t, llm.requests, 1)
}

func TestSelectCompletionFailureIsFatal(t *testing.T) {
	llm := &mockLLM{err: errors.New("connection reset")}

	_, err := newSelector(llm, 0).Select(context.Background(), taskState())

	assert.Equal(t, apperrors.CodeCompletionService, apperrors.CodeOf(err))
	assert.Len(t, llm.requests, 1)
}

func TestSelectBoundsHistory(t *testing.T) {
	state := taskState()
	for i := 0; i < 10; i++ {
		state.Messages = append(state.Messages, entity.AssistantText("thinking"))
	}
	llm := &mockLLM{responses: []*output.Completion{{Text: "no call"}}}

	_, err := newSelector(llm, 3).Select(context.Background(), state)

	require.NoError(t, err)
	msgs := llm.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "read main.py", msgs[0].Content)
}
