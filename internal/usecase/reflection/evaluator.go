// Package reflection decides, after every tool run, whether the task is done,
// needs another step, or needs the user.
package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/infrastructure/prompts"
	"github.com/Idsl-group/code-agent/internal/usecase/extraction"
	"github.com/Idsl-group/code-agent/internal/usecase/retry"
)

const (
	DefaultMaxAttempts = 5

	defaultUserInputInstruction = "Proceed with the task using the user's input."
	noToolName                  = "none"
)

var requiredKeys = []string{"decision", "instruction"}

type Config struct {
	MaxAttempts   int
	HistoryWindow int
	Temperature   float32
}

type Evaluator struct {
	llm      output.CompletionPort
	registry output.ToolRegistry
	pipeline *extraction.Pipeline
	logger   output.LoggerPort
	cfg      Config
}

func New(
	llm output.CompletionPort,
	registry output.ToolRegistry,
	pipeline *extraction.Pipeline,
	logger output.LoggerPort,
	cfg Config,
) *Evaluator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Evaluator{
		llm:      llm,
		registry: registry,
		pipeline: pipeline,
		logger:   logger,
		cfg:      cfg,
	}
}

// Evaluate returns a verdict for the latest observation in state. It never
// invents a default verdict: when every attempt fails the error is returned.
func (e *Evaluator) Evaluate(ctx context.Context, state entity.ConversationState) (entity.ReflectionVerdict, error) {
	toolName, observation, afterUserInput := latestObservation(state)

	if afterUserInput {
		wrapped, err := prompts.GenerateUserInputDirective(observation)
		if err != nil {
			return entity.ReflectionVerdict{}, fmt.Errorf("failed to generate user input directive: %w", err)
		}
		observation = wrapped
	}

	catalogue, err := e.registry.Render()
	if err != nil {
		return entity.ReflectionVerdict{}, err
	}
	prompt, err := prompts.GenerateReflectionPrompt(prompts.ReflectionData{
		Tools:      catalogue,
		Task:       state.Task(),
		ToolName:   toolName,
		ToolResult: observation,
		Schema:     Schema,
	})
	if err != nil {
		return entity.ReflectionVerdict{}, fmt.Errorf("failed to generate reflection prompt: %w", err)
	}

	history := state.Window(e.cfg.HistoryWindow)
	messages := make([]entity.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, entity.UserText(prompt))

	structured := true
	out := retry.Bounded(ctx, e.cfg.MaxAttempts, func(ctx context.Context, attempt int) (entity.ReflectionVerdict, error) {
		var (
			obj map[string]any
			err error
		)
		if structured {
			obj, err = e.structuredAttempt(ctx, messages)
			switch {
			case errors.Is(err, output.ErrStructuredUnsupported):
				e.logger.Debug("Structured reflection unsupported, using text fallback")
				structured = false
			case err != nil && !isAttemptError(err):
				// The service refused the schema request; the text path may still work.
				e.logger.Warn("Structured reflection failed, using text fallback", "attempt", attempt, "error", err)
				structured = false
			case err != nil:
				e.logger.Warn("Structured reflection rejected", "attempt", attempt, "error", err)
			}
		}

		if obj == nil {
			obj, err = e.fallbackAttempt(ctx, messages)
			if err != nil {
				if !isAttemptError(err) {
					return entity.ReflectionVerdict{}, retry.Fatal(err)
				}
				e.logger.Warn("Reflection parse failed", "attempt", attempt, "error", err)
				return entity.ReflectionVerdict{}, err
			}
		}

		verdict, err := e.postProcess(obj, afterUserInput)
		if err != nil {
			e.logger.Warn("Reflection verdict rejected", "attempt", attempt, "error", err)
			return entity.ReflectionVerdict{}, err
		}
		return verdict, nil
	})

	if out.Ok() {
		e.logger.Info("Reflection verdict", "decision", out.Value.Decision, "attempts", out.Attempts)
		return out.Value, nil
	}
	if !isAttemptError(out.Err) {
		return entity.ReflectionVerdict{}, out.Err
	}
	return entity.ReflectionVerdict{}, apperrors.Wrap(apperrors.CodeExtractionFailure, out.Err,
		fmt.Sprintf("no usable reflection verdict after %d attempts", out.Attempts),
		apperrors.WithMetadata("attempts", strconv.Itoa(out.Attempts)))
}

func (e *Evaluator) structuredAttempt(ctx context.Context, messages []entity.Message) (map[string]any, error) {
	raw, err := e.llm.CompleteStructured(ctx, output.StructuredRequest{
		SystemPrompt: prompts.ReflectionSystemPrompt,
		Messages:     messages,
		SchemaName:   SchemaName,
		Schema:       json.RawMessage(Schema),
		Temperature:  e.cfg.Temperature,
	})
	if err != nil {
		if errors.Is(err, output.ErrStructuredUnsupported) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.CodeCompletionService, err, "structured reflection failed")
	}

	result, err := verdictSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSchemaValidationFailure, err, "structured reflection is not JSON")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return nil, apperrors.New(apperrors.CodeSchemaValidationFailure, strings.Join(problems, "; "))
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSchemaValidationFailure, err, "structured reflection is not an object")
	}
	return obj, nil
}

func (e *Evaluator) fallbackAttempt(ctx context.Context, messages []entity.Message) (map[string]any, error) {
	resp, err := e.llm.Complete(ctx, output.CompletionRequest{
		SystemPrompt: prompts.ReflectionSystemPrompt,
		Messages:     messages,
		Constraints:  output.Constraints{JSONOnly: true},
		Temperature:  e.cfg.Temperature,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCompletionService, err, "reflection completion failed")
	}
	return e.pipeline.Parse(ctx, resp.Text, extraction.Options{RequiredKeys: requiredKeys})
}

func (e *Evaluator) postProcess(obj map[string]any, afterUserInput bool) (entity.ReflectionVerdict, error) {
	rawDecision, _ := obj["decision"].(string)
	decision, ok := entity.ParseDecision(rawDecision)
	if !ok {
		return entity.ReflectionVerdict{}, apperrors.New(apperrors.CodeSchemaValidationFailure,
			fmt.Sprintf("unknown decision %q", rawDecision))
	}

	instruction, _ := obj["instruction"].(string)
	instruction = strings.TrimSpace(instruction)

	if afterUserInput && decision == entity.DecisionDone {
		e.logger.Info("Overriding DONE after user input")
		decision = entity.DecisionContinue
		if instruction == "" {
			instruction = defaultUserInputInstruction
		}
	}

	switch decision {
	case entity.DecisionContinue:
		if instruction == "" {
			return entity.ReflectionVerdict{}, apperrors.New(apperrors.CodeSchemaValidationFailure,
				"CONTINUE verdict without instruction")
		}
	case entity.DecisionUserInput:
		instruction = firstRequest(instruction)
		if instruction == "" {
			return entity.ReflectionVerdict{}, apperrors.New(apperrors.CodeSchemaValidationFailure,
				"USER_INPUT verdict without a question")
		}
	}

	return entity.ReflectionVerdict{Decision: decision, Instruction: instruction}, nil
}

// latestObservation returns what the reflection should judge: the newest
// tool result, or the model's text if it answered without calling a tool.
// fromHuman is set only for the synthetic result recorded after a human
// answer; a failed call the model made under the reserved name does not count.
func latestObservation(state entity.ConversationState) (name, content string, fromHuman bool) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		switch m.Kind {
		case entity.KindToolResult:
			if m.Result != nil {
				human := m.Result.Name == entity.ToolUserInput.String() && !m.Result.IsError
				return m.Result.Name, m.Result.Content, human
			}
		case entity.KindAssistantText:
			return noToolName, m.Content, false
		case entity.KindUserText, entity.KindAssistantToolCall, entity.KindSystemNote:
		}
	}
	return noToolName, "(no tool has been executed yet)", false
}

// firstRequest keeps the first question of s, else its first sentence. Only
// the first line is considered, and a period ends a sentence only before a
// capitalised word, so abbreviations such as "e.g." survive.
func firstRequest(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	line = strings.TrimSpace(line)
	if i := strings.IndexRune(line, '?'); i >= 0 {
		return strings.TrimSpace(line[:i+1])
	}

	runes := []rune(line)
	for i, r := range runes {
		if r != '.' && r != '!' {
			continue
		}
		if i+2 < len(runes) && runes[i+1] == ' ' && unicode.IsUpper(runes[i+2]) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return line
}

// isAttemptError reports whether err should consume an attempt rather than
// abort the evaluation.
func isAttemptError(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeSchemaValidationFailure, apperrors.CodeExtractionFailure:
		return true
	}
	return false
}
