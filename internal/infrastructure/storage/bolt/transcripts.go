package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
)

var ErrNotFound = errors.New("transcript not found")

const bucketTranscripts = "transcripts"

var _ output.TranscriptStore = (*TranscriptStore)(nil)

// TranscriptStore keeps finished runs keyed by run ID. Run IDs start with a
// timestamp, so cursor order is chronological.
type TranscriptStore struct {
	db  *bolt.DB
	now func() time.Time
}

type record struct {
	ID        string                   `json:"id"`
	Task      string                   `json:"task"`
	CreatedAt time.Time                `json:"created_at"`
	State     entity.ConversationState `json:"state"`
}

func NewTranscriptStore(path string) (*TranscriptStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "open bolt db")
	}
	s := &TranscriptStore{db: db, now: time.Now}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketTranscripts))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "create transcripts bucket")
	}
	return s, nil
}

func (s *TranscriptStore) Close() error {
	return s.db.Close()
}

func (s *TranscriptStore) Save(_ context.Context, id string, state entity.ConversationState) error {
	if id == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "transcript id is empty")
	}
	data, err := json.Marshal(record{
		ID:        id,
		Task:      state.Task(),
		CreatedAt: s.now().UTC(),
		State:     state,
	})
	if err != nil {
		return fmt.Errorf("encode transcript %s: %w", id, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketTranscripts)).Put([]byte(id), data)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "save transcript", apperrors.WithMetadata("id", id))
	}
	return nil
}

func (s *TranscriptStore) Load(_ context.Context, id string) (entity.ConversationState, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketTranscripts)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return entity.ConversationState{}, fmt.Errorf("load transcript %s: %w", id, err)
	}

	var rec record
	if err := json.Unmarshal(out, &rec); err != nil {
		return entity.ConversationState{}, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	return rec.State, nil
}

// List returns the newest transcripts first. limit <= 0 means 50.
func (s *TranscriptStore) List(_ context.Context, limit int) ([]output.TranscriptSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	out := make([]output.TranscriptSummary, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketTranscripts)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode transcript %s: %w", k, err)
			}
			out = append(out, output.TranscriptSummary{
				ID:        rec.ID,
				Task:      rec.Task,
				CreatedAt: rec.CreatedAt,
				Messages:  len(rec.State.Messages),
			})
		}
		return nil
	})
	return out, err
}
