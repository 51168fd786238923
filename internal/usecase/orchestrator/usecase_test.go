package orchestrator

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
	"github.com/Idsl-group/code-agent/internal/usecase/reflection"
	"github.com/Idsl-group/code-agent/internal/usecase/selector"
)

type mockSelector struct {
	selections []selector.Selection
	err        error
	calls      int
	seen       []entity.ConversationState
}

func (m *mockSelector) Select(ctx context.Context, state entity.ConversationState) (selector.Selection, error) {
	m.calls++
	m.seen = append(m.seen, state)
	if m.err != nil {
		return selector.Selection{}, m.err
	}
	sel := m.selections[0]
	if len(m.selections) > 1 {
		m.selections = m.selections[1:]
	}
	return sel, nil
}

type mockEvaluator struct {
	verdicts []entity.ReflectionVerdict
	err      error
	calls    int
	seen     []entity.ConversationState
}

func (m *mockEvaluator) Evaluate(ctx context.Context, state entity.ConversationState) (entity.ReflectionVerdict, error) {
	m.calls++
	m.seen = append(m.seen, state)
	if m.err != nil {
		return entity.ReflectionVerdict{}, m.err
	}
	v := m.verdicts[0]
	if len(m.verdicts) > 1 {
		m.verdicts = m.verdicts[1:]
	}
	return v, nil
}

type mockTools struct {
	results map[string]string
	errs    map[string]error
	invoked []entity.ToolCall
}

func (m *mockTools) Register(output.ToolPort) error { return nil }
func (m *mockTools) Get(entity.ToolName) (output.ToolPort, bool) {
	return nil, false
}
func (m *mockTools) Descriptors() []entity.ToolDescriptor { return nil }
func (m *mockTools) Render() (string, error)              { return "tools: []\n", nil }
func (m *mockTools) Invoke(ctx context.Context, call entity.ToolCall) (string, error) {
	m.invoked = append(m.invoked, call)
	if err := m.errs[call.Name]; err != nil {
		return "", err
	}
	return m.results[call.Name], nil
}

type mockHuman struct {
	answers   []string
	questions []string
}

func (m *mockHuman) AskQuestion(ctx context.Context, question string) (string, error) {
	m.questions = append(m.questions, question)
	if len(m.answers) == 0 {
		return "", errors.New("no answer scripted")
	}
	a := m.answers[0]
	m.answers = m.answers[1:]
	return a, nil
}

type recordingProgress struct {
	states []string
}

func (p *recordingProgress) ShowState(ctx context.Context, state string, turn int) {
	p.states = append(p.states, state)
}
func (p *recordingProgress) ShowToolStart(context.Context, entity.ToolCall)           {}
func (p *recordingProgress) ShowToolResult(context.Context, entity.ToolResult)        {}
func (p *recordingProgress) ShowReflection(context.Context, entity.ReflectionVerdict) {}

type memTranscripts struct {
	saved map[string]entity.ConversationState
}

func (m *memTranscripts) Save(ctx context.Context, id string, state entity.ConversationState) error {
	if m.saved == nil {
		m.saved = make(map[string]entity.ConversationState)
	}
	m.saved[id] = state
	return nil
}

func (m *memTranscripts) Load(ctx context.Context, id string) (entity.ConversationState, error) {
	return m.saved[id], nil
}

func (m *memTranscripts) List(ctx context.Context, limit int) ([]output.TranscriptSummary, error) {
	return nil, nil
}

func (m *memTranscripts) Close() error { return nil }

type fixture struct {
	selector    *mockSelector
	evaluator   *mockEvaluator
	tools       *mockTools
	human       *mockHuman
	progress    *recordingProgress
	transcripts *memTranscripts
}

func newFixture() *fixture {
	return &fixture{
		selector:    &mockSelector{},
		evaluator:   &mockEvaluator{},
		tools:       &mockTools{results: map[string]string{}, errs: map[string]error{}},
		human:       &mockHuman{},
		progress:    &recordingProgress{},
		transcripts: &memTranscripts{},
	}
}

func (f *fixture) useCase(evaluator ReflectionEvaluator, cfg Config) *UseCase {
	if evaluator == nil {
		evaluator = f.evaluator
	}
	return New(f.selector, evaluator, f.tools, f.human, f.progress, f.transcripts, logger.NewNop(), cfg)
}

func call(name string, args map[string]any) selector.Selection {
	return selector.Selection{Call: &entity.ToolCall{ID: "call_" + name, Name: name, Arguments: args}}
}

func kinds(state entity.ConversationState) []entity.MessageKind {
	out := make([]entity.MessageKind, 0, len(state.Messages))
	for _, m := range state.Messages {
		out = append(out, m.Kind)
	}
	return out
}

func TestFinalAnswerEndsWithoutReflection(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{call("final_answer", map[string]any{"answer": "42"})}

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "what is the answer")

	require.NoError(t, err)
	assert.Equal(t, "42", res.FinalAnswer)
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, 0, f.evaluator.calls)
	assert.Empty(t, f.tools.invoked, "final_answer is not executed")
	assert.Equal(t, []string{"SELECT_TOOL"}, f.progress.states)
	assert.Equal(t, []entity.ToolName{entity.ToolFinalAnswer}, res.ToolsUsed)
	assert.Equal(t, []entity.MessageKind{entity.KindUserText, entity.KindAssistantToolCall}, kinds(res.Transcript))
}

func TestToolThenReflectDone(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{call("write_file", map[string]any{"file_path": "a.py", "content": "print(1)"})}
	f.tools.results["write_file"] = "Successfully wrote to a.py"
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: entity.DecisionDone, Instruction: "a.py was written"}}

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "create a.py")

	require.NoError(t, err)
	assert.Equal(t, "a.py was written", res.FinalAnswer)
	assert.Equal(t, []string{"SELECT_TOOL", "INVOKE_TOOL", "REFLECT"}, f.progress.states)
	assert.Equal(t, []entity.MessageKind{
		entity.KindUserText,
		entity.KindAssistantToolCall,
		entity.KindToolResult,
		entity.KindSystemNote,
	}, kinds(res.Transcript))
	assert.Equal(t, []int{3}, res.Transcript.ReflectionIDs)

	require.Len(t, f.evaluator.seen, 1)
	last, ok := f.evaluator.seen[0].LastToolResult()
	require.True(t, ok)
	assert.Equal(t, "call_write_file", last.CallID)

	assert.Contains(t, f.transcripts.saved, res.RunID)
}

func TestUnroutableVerdictEndsRun(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{call("read_file", map[string]any{"file_path": "a.py"})}
	f.tools.results["read_file"] = "print(1)"
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: "MAYBE", Instruction: "unsure"}}

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "read a.py")

	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT_TOOL", "INVOKE_TOOL", "REFLECT"}, f.progress.states)
	assert.Equal(t, 1, f.selector.calls)
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, "print(1)", res.FinalAnswer)
}

func TestToolErrorBecomesResult(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{
		call("read_file", map[string]any{"file_path": "missing.py"}),
		call("final_answer", map[string]any{"answer": "could not read"}),
	}
	f.tools.errs["read_file"] = apperrors.New(apperrors.CodeToolNotFound, "unknown tool 'read_file'")
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: entity.DecisionContinue, Instruction: "give up politely"}}

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "read missing.py")

	require.NoError(t, err)
	assert.Equal(t, "could not read", res.FinalAnswer)
	assert.Equal(t, 2, res.Turns)

	result := res.Transcript.Messages[2]
	require.Equal(t, entity.KindToolResult, result.Kind)
	assert.True(t, result.Result.IsError)
	assert.Contains(t, result.Content, "Error: [TOOL_NOT_FOUND]")

	// the second selection sees the reflection note
	lastSeen := f.selector.seen[1]
	assert.Equal(t, entity.KindSystemNote, lastSeen.Messages[len(lastSeen.Messages)-1].Kind)
}

func TestTextWithoutCallGoesToReflect(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{{Text: "Which file do you mean?"}}
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: entity.DecisionDone, Instruction: "nothing to do"}}

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "fix it")

	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT_TOOL", "REFLECT"}, f.progress.states)
	assert.Equal(t, []string{"Which file do you mean?"}, res.Transcript.Thoughts)
	assert.Equal(t, []int{1}, res.Transcript.ThoughtIDs)
	assert.Empty(t, f.tools.invoked)
}

func TestUserInputDoneIsOverriddenAndSelectsTool(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{
		call("read_file", map[string]any{"file_path": "?"}),
		call("final_answer", map[string]any{"answer": "done"}),
	}
	f.tools.results["read_file"] = "Error: file not found"
	f.human.answers = []string{"use main.py"}

	llm := &structuredLLM{replies: []string{
		`{"decision": "USER_INPUT", "instruction": "Which file should I read? I can also list files."}`,
		`{"decision": "DONE", "instruction": ""}`,
	}}
	log := logger.NewNop()
	evaluator := reflection.New(llm, f.tools, extraction.New(llm, log, 5), log, reflection.Config{})

	res, err := f.useCase(evaluator, Config{}).Execute(context.Background(), "summarise the file")

	require.NoError(t, err)
	assert.Equal(t, []string{"Which file should I read?"}, f.human.questions)
	assert.Equal(t, []string{
		"SELECT_TOOL", "INVOKE_TOOL", "REFLECT", "COLLECT_USER_INPUT", "REFLECT", "SELECT_TOOL",
	}, f.progress.states)

	require.Len(t, res.Transcript.Reflections, 2)
	second := res.Transcript.Reflections[1]
	assert.Equal(t, entity.DecisionContinue, second.Decision)
	assert.NotEmpty(t, second.Instruction)

	msgs := res.Transcript.Messages
	assert.Equal(t, entity.UserText("use main.py"), msgs[4])
	require.Equal(t, entity.KindToolResult, msgs[5].Kind)
	assert.Equal(t, "user_input", msgs[5].Result.Name)
	assert.Equal(t, "use main.py", msgs[5].Result.Content)
}

func TestUserInputRouteSelectTool(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{
		{Text: "I need a path"},
		call("final_answer", map[string]any{"answer": "ok"}),
	}
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: entity.DecisionUserInput, Instruction: "Which path?"}}
	f.human.answers = []string{"/tmp"}

	res, err := f.useCase(nil, Config{UserInputRoute: RouteSelectTool}).Execute(context.Background(), "list files")

	require.NoError(t, err)
	assert.Equal(t, "ok", res.FinalAnswer)
	assert.Equal(t, []string{"SELECT_TOOL", "REFLECT", "COLLECT_USER_INPUT", "SELECT_TOOL"}, f.progress.states)
	assert.Equal(t, 1, f.evaluator.calls)
}

func TestTurnLimit(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{call("read_file", map[string]any{"file_path": "a.py"})}
	f.tools.results["read_file"] = "x"
	f.evaluator.verdicts = []entity.ReflectionVerdict{{Decision: entity.DecisionContinue, Instruction: "read again"}}

	res, err := f.useCase(nil, Config{MaxTurns: 3}).Execute(context.Background(), "loop forever")

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTurnLimit, apperrors.CodeOf(err))
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, 3, f.selector.calls)
	assert.Len(t, res.Transcript.Reflections, 3)
	assert.Contains(t, f.transcripts.saved, res.RunID)
}

func TestFatalSelectionKeepsTranscript(t *testing.T) {
	f := newFixture()
	f.selector.err = apperrors.New(apperrors.CodeCompletionService, "down")

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "anything")

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCompletionService, apperrors.CodeOf(err))
	require.NotNil(t, res)
	assert.Equal(t, "anything", res.Transcript.Task())
	assert.Contains(t, f.transcripts.saved, res.RunID)
}

func TestFatalReflectionStopsRun(t *testing.T) {
	f := newFixture()
	f.selector.selections = []selector.Selection{call("read_file", map[string]any{"file_path": "a.py"})}
	f.tools.results["read_file"] = "contents"
	f.evaluator.err = apperrors.New(apperrors.CodeExtractionFailure, "no verdict")

	res, err := f.useCase(nil, Config{}).Execute(context.Background(), "read a.py")

	assert.Equal(t, apperrors.CodeExtractionFailure, apperrors.CodeOf(err))
	assert.Equal(t, "contents", res.FinalAnswer, "last well-formed message is kept")
	assert.Equal(t, 1, f.selector.calls)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.useCase(nil, Config{}).Execute(ctx, "anything")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.selector.calls)
	assert.NotNil(t, res)
}

func TestParseUserInputRoute(t *testing.T) {
	r, err := ParseUserInputRoute("")
	require.NoError(t, err)
	assert.Equal(t, RouteReflect, r)

	r, err = ParseUserInputRoute("SELECT_TOOL")
	require.NoError(t, err)
	assert.Equal(t, RouteSelectTool, r)

	_, err = ParseUserInputRoute("elsewhere")
	assert.Error(t, err)
}

// structuredLLM answers reflection requests through the structured path.
type structuredLLM struct {
	replies []string
}

func (s *structuredLLM) Complete(ctx context.Context, req output.CompletionRequest) (*output.Completion, error) {
	return nil, errors.New("unexpected text completion")
}

func (s *structuredLLM) CompleteStructured(ctx context.Context, req output.StructuredRequest) (json.RawMessage, error) {
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return json.RawMessage(reply), nil
}
