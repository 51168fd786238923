package output

import (
	"context"

	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

type ToolPort interface {
	Name() entity.ToolName
	Description() string
	Arguments() []entity.ArgSpec
	Execute(ctx context.Context, args map[string]any) (string, error)
}

type ToolRegistry interface {
	Register(tool ToolPort) error
	Get(name entity.ToolName) (ToolPort, bool)
	Descriptors() []entity.ToolDescriptor
	Render() (string, error)
	Invoke(ctx context.Context, call entity.ToolCall) (string, error)
}
