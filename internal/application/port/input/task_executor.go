package input

import (
	"context"

	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

type ExecuteResult struct {
	RunID       string
	FinalAnswer string
	Turns       int
	ToolsUsed   []entity.ToolName
	Transcript  entity.ConversationState
}

type TaskExecutor interface {
	Execute(ctx context.Context, task string) (*ExecuteResult, error)
}
