package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Idsl-group/code-agent/internal/application/port/input"
	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/usecase/conversation"
	"github.com/Idsl-group/code-agent/internal/usecase/extraction"
	"github.com/Idsl-group/code-agent/internal/usecase/selector"
)

const DefaultMaxTurns = 50

var _ input.TaskExecutor = (*UseCase)(nil)

type ToolSelector interface {
	Select(ctx context.Context, state entity.ConversationState) (selector.Selection, error)
}

type ReflectionEvaluator interface {
	Evaluate(ctx context.Context, state entity.ConversationState) (entity.ReflectionVerdict, error)
}

type Config struct {
	// MaxTurns caps the number of tool selections in one run.
	MaxTurns       int
	UserInputRoute UserInputRoute
}

type UseCase struct {
	selector    ToolSelector
	evaluator   ReflectionEvaluator
	tools       output.ToolRegistry
	human       output.HumanInputPort
	progress    output.ProgressPort
	transcripts output.TranscriptStore
	logger      output.LoggerPort
	cfg         Config
}

// New wires the state machine. transcripts may be nil.
func New(
	selector ToolSelector,
	evaluator ReflectionEvaluator,
	tools output.ToolRegistry,
	human output.HumanInputPort,
	progress output.ProgressPort,
	transcripts output.TranscriptStore,
	logger output.LoggerPort,
	cfg Config,
) *UseCase {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.UserInputRoute == "" {
		cfg.UserInputRoute = RouteReflect
	}
	if progress == nil {
		progress = nopProgress{}
	}
	return &UseCase{
		selector:    selector,
		evaluator:   evaluator,
		tools:       tools,
		human:       human,
		progress:    progress,
		transcripts: transcripts,
		logger:      logger,
		cfg:         cfg,
	}
}

// delta is everything a handler wants recorded. Only the run loop writes it
// to the store.
type delta struct {
	messages   []entity.Message
	thought    *string
	reflection *entity.ReflectionVerdict
}

type transition struct {
	next   State
	delta  delta
	call   *entity.ToolCall
	answer *string
}

type run struct {
	id      string
	store   *conversation.Store
	pending *entity.ToolCall
	answer  *string
	used    []entity.ToolName
	logger  output.LoggerPort
}

// Execute drives one task to DONE. When it fails the partial result is still
// returned alongside the error so the transcript is not lost.
func (uc *UseCase) Execute(ctx context.Context, task string) (*input.ExecuteResult, error) {
	r := &run{
		id:    newRunID(),
		store: conversation.New(),
	}
	r.logger = uc.logger.WithField("runId", r.id)
	r.logger.Info("Orchestrator executing task", "task", task)
	r.store.Append(entity.UserText(task))

	var (
		state  = StateSelectTool
		turns  int
		runErr error
	)
	for state != StateDone {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if state == StateSelectTool {
			turns++
			if turns > uc.cfg.MaxTurns {
				turns = uc.cfg.MaxTurns
				runErr = apperrors.New(apperrors.CodeTurnLimit,
					fmt.Sprintf("max turns (%d) exceeded", uc.cfg.MaxTurns))
				break
			}
		}
		uc.progress.ShowState(ctx, string(state), turns)

		tr, err := uc.step(ctx, state, r)
		r.apply(tr)
		if err != nil {
			r.logger.Error("Run halted", "state", state, "error", err)
			runErr = err
			break
		}

		r.logger.Info("State transition", "from", state, "to", tr.next, "turn", turns)
		state = tr.next
	}

	snapshot := r.store.Snapshot()
	result := &input.ExecuteResult{
		RunID:       r.id,
		FinalAnswer: finalAnswer(snapshot, r.answer),
		Turns:       turns,
		ToolsUsed:   r.used,
		Transcript:  snapshot,
	}
	uc.saveTranscript(ctx, r, snapshot)

	if runErr != nil {
		return result, runErr
	}
	r.logger.Info("Task completed", "turns", turns, "tools", len(r.used))
	return result, nil
}

func (uc *UseCase) step(ctx context.Context, state State, r *run) (transition, error) {
	snapshot := r.store.Snapshot()
	switch state {
	case StateSelectTool:
		return uc.selectTool(ctx, snapshot)
	case StateInvokeTool:
		return uc.invokeTool(ctx, r.pending)
	case StateReflect:
		return uc.reflect(ctx, snapshot, r.logger)
	case StateCollectUserInput:
		return uc.collectUserInput(ctx, snapshot)
	}
	return transition{next: StateDone}, fmt.Errorf("unknown state %q", state)
}

func (uc *UseCase) selectTool(ctx context.Context, snapshot entity.ConversationState) (transition, error) {
	sel, err := uc.selector.Select(ctx, snapshot)
	if err != nil {
		return transition{next: StateDone}, fmt.Errorf("tool selection failed: %w", err)
	}

	if sel.Call == nil {
		text := sel.Text
		return transition{next: StateReflect, delta: delta{thought: &text}}, nil
	}

	call := *sel.Call
	tr := transition{
		next:  StateInvokeTool,
		delta: delta{messages: []entity.Message{entity.AssistantToolCall(call)}},
		call:  &call,
	}
	if call.Name == entity.ToolFinalAnswer.String() {
		answer := argumentText(call.Arguments, "answer")
		tr.next = StateDone
		tr.answer = &answer
	}
	return tr, nil
}

// invokeTool never fails the run: tool problems become an error-marked result
// the reflection step can react to.
func (uc *UseCase) invokeTool(ctx context.Context, call *entity.ToolCall) (transition, error) {
	if call == nil {
		return transition{next: StateDone}, fmt.Errorf("no pending tool call")
	}
	uc.progress.ShowToolStart(ctx, *call)

	result := entity.ToolResult{CallID: call.ID, Name: call.Name}
	out, err := uc.tools.Invoke(ctx, *call)
	if err != nil {
		uc.logger.Warn("Tool call failed", "name", call.Name, "code", apperrors.CodeOf(err), "error", err)
		result.Content = "Error: " + err.Error()
		result.IsError = true
	} else {
		result.Content = out
	}
	uc.progress.ShowToolResult(ctx, result)

	return transition{
		next:  StateReflect,
		delta: delta{messages: []entity.Message{entity.NewToolResult(result)}},
	}, nil
}

func (uc *UseCase) reflect(ctx context.Context, snapshot entity.ConversationState, logger output.LoggerPort) (transition, error) {
	verdict, err := uc.evaluator.Evaluate(ctx, snapshot)
	if err != nil {
		return transition{next: StateDone}, fmt.Errorf("reflection failed: %w", err)
	}
	uc.progress.ShowReflection(ctx, verdict)

	tr := transition{delta: delta{reflection: &verdict}}
	switch verdict.Decision {
	case entity.DecisionContinue:
		tr.next = StateSelectTool
	case entity.DecisionUserInput:
		tr.next = StateCollectUserInput
	case entity.DecisionDone:
		tr.next = StateDone
	default:
		logger.Error("Unroutable reflection decision, ending run", "decision", verdict.Decision)
		tr.next = StateDone
	}
	return tr, nil
}

func (uc *UseCase) collectUserInput(ctx context.Context, snapshot entity.ConversationState) (transition, error) {
	question := "Please provide more information."
	if v, ok := snapshot.LastReflection(); ok && v.Instruction != "" {
		question = v.Instruction
	}

	answer, err := uc.human.AskQuestion(ctx, question)
	if err != nil {
		return transition{next: StateDone}, fmt.Errorf("failed to collect user input: %w", err)
	}

	return transition{
		next: uc.cfg.UserInputRoute.next(),
		delta: delta{messages: []entity.Message{
			entity.UserText(answer),
			entity.NewToolResult(entity.ToolResult{
				CallID:  extraction.NewCallID(),
				Name:    entity.ToolUserInput.String(),
				Content: answer,
			}),
		}},
	}, nil
}

func (r *run) apply(tr transition) {
	if tr.delta.thought != nil {
		r.store.RecordThought(*tr.delta.thought)
	}
	for _, m := range tr.delta.messages {
		r.store.Append(m)
	}
	if tr.delta.reflection != nil {
		r.store.RecordReflection(*tr.delta.reflection)
	}
	if tr.call != nil {
		r.pending = tr.call
		r.used = append(r.used, entity.ToolName(tr.call.Name))
	}
	if tr.answer != nil {
		r.answer = tr.answer
	}
}

func (uc *UseCase) saveTranscript(ctx context.Context, r *run, snapshot entity.ConversationState) {
	if uc.transcripts == nil {
		return
	}
	if err := uc.transcripts.Save(context.WithoutCancel(ctx), r.id, snapshot); err != nil {
		r.logger.Error("Failed to save transcript", "error", err)
		return
	}
	r.logger.Debug("Transcript saved", "messages", len(snapshot.Messages))
}

// finalAnswer prefers the final_answer argument, then the closing reflection,
// then the newest assistant text or tool output.
func finalAnswer(snapshot entity.ConversationState, answer *string) string {
	if answer != nil {
		return *answer
	}
	if v, ok := snapshot.LastReflection(); ok && v.Decision == entity.DecisionDone && v.Instruction != "" {
		return v.Instruction
	}
	for i := len(snapshot.Messages) - 1; i >= 0; i-- {
		m := snapshot.Messages[i]
		switch m.Kind {
		case entity.KindAssistantText, entity.KindToolResult:
			if m.Content != "" {
				return m.Content
			}
		case entity.KindUserText, entity.KindAssistantToolCall, entity.KindSystemNote:
		}
	}
	return ""
}

func argumentText(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func newRunID() string {
	return time.Now().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

type nopProgress struct{}

func (nopProgress) ShowState(context.Context, string, int)                   {}
func (nopProgress) ShowToolStart(context.Context, entity.ToolCall)           {}
func (nopProgress) ShowToolResult(context.Context, entity.ToolResult)        {}
func (nopProgress) ShowReflection(context.Context, entity.ReflectionVerdict) {}
