package output

import (
	"context"
	"time"

	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

type TranscriptSummary struct {
	ID        string
	Task      string
	CreatedAt time.Time
	Messages  int
}

type TranscriptStore interface {
	Save(ctx context.Context, id string, state entity.ConversationState) error
	Load(ctx context.Context, id string) (entity.ConversationState, error)
	List(ctx context.Context, limit int) ([]TranscriptSummary, error)
	Close() error
}
