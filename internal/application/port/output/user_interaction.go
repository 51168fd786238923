package output

import (
	"context"

	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

type HumanInputPort interface {
	AskQuestion(ctx context.Context, question string) (string, error)
}

// ProgressPort receives display-only notifications from the orchestrator.
type ProgressPort interface {
	ShowState(ctx context.Context, state string, turn int)
	ShowToolStart(ctx context.Context, call entity.ToolCall)
	ShowToolResult(ctx context.Context, result entity.ToolResult)
	ShowReflection(ctx context.Context, verdict entity.ReflectionVerdict)
}
