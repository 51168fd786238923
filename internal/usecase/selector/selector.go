// Package selector asks the model for exactly one tool call per turn.
package selector

import (
	"context"
	"fmt"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/infrastructure/prompts"
	"github.com/Idsl-group/code-agent/internal/usecase/extraction"
)

type Config struct {
	// HistoryWindow bounds the messages sent after the task. 0 sends everything.
	HistoryWindow int
	Temperature   float32
}

// Selection holds either a call or the raw text the model produced instead.
type Selection struct {
	Call *entity.ToolCall
	Text string
	// Discarded counts extra structured calls dropped in favour of the first.
	Discarded int
}

type Selector struct {
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
) *Selector {
	return &Selector{
		llm:      llm,
		registry: registry,
		pipeline: pipeline,
		logger:   logger,
		cfg:      cfg,
	}
}

func (s *Selector) Select(ctx context.Context, state entity.ConversationState) (Selection, error) {
	catalogue, err := s.registry.Render()
	if err != nil {
		return Selection{}, err
	}
	systemPrompt, err := prompts.GenerateToolSystemPrompt(catalogue)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to generate tool system prompt: %w", err)
	}

	resp, err := s.llm.Complete(ctx, output.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     state.Window(s.cfg.HistoryWindow),
		Tools:        s.registry.Descriptors(),
		Constraints: output.Constraints{
			RequireToolCall: true,
			SingleCall:      true,
		},
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		if _, ok := apperrors.From(err); ok {
			return Selection{}, err
		}
		return Selection{}, apperrors.Wrap(apperrors.CodeCompletionService, err, "tool selection completion failed")
	}

	if n := len(resp.ToolCalls); n > 0 {
		call := resp.ToolCalls[0].Clone()
		if call.ID == "" {
			call.ID = extraction.NewCallID()
		}
		if n > 1 {
			s.logger.Warn("Model returned several tool calls, keeping the first", "kept", call.Name, "discarded", n-1)
		}
		s.logger.Info("Tool selected", "name", call.Name, "callId", call.ID)
		return Selection{Call: &call, Discarded: n - 1}, nil
	}

	call, found, err := s.pipeline.ExtractToolCall(ctx, resp.Text, catalogue)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to recover tool call from text: %w", err)
	}
	if found {
		s.logger.Info("Tool selected from text block", "name", call.Name, "callId", call.ID)
		return Selection{Call: call}, nil
	}

	s.logger.Info("No tool call in completion, passing text through", "textLen", len(resp.Text))
	return Selection{Text: resp.Text}, nil
}
