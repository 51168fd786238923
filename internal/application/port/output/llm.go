package output

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

// ErrStructuredUnsupported is returned by CompleteStructured when the backend
// cannot constrain its output to a schema.
var ErrStructuredUnsupported = errors.New("structured completion not supported")

type CompletionPort interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	CompleteStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
}

type Constraints struct {
	RequireToolCall bool
	SingleCall      bool
	JSONOnly        bool
}

type CompletionRequest struct {
	SystemPrompt string
	Messages     []entity.Message
	Tools        []entity.ToolDescriptor
	Constraints  Constraints
	Temperature  float32
}

// Completion holds whatever the model produced. Either slice may be empty.
type Completion struct {
	ToolCalls []entity.ToolCall
	Text      string
}

type StructuredRequest struct {
	SystemPrompt string
	Messages     []entity.Message
	SchemaName   string
	Schema       json.RawMessage
	Temperature  float32
}
