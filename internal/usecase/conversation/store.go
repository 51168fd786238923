// Package conversation owns the run's message log. It has a single writer
// and hands out deep copies to everyone else.
package conversation

import (
	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

type Store struct {
	state entity.ConversationState
}

func New() *Store {
	return &Store{}
}

// Append adds msg to the log and returns its position.
func (s *Store) Append(msg entity.Message) int {
	s.state.Messages = append(s.state.Messages, msg.Clone())
	return len(s.state.Messages) - 1
}

// RecordReflection logs the verdict as a system note and indexes it.
func (s *Store) RecordReflection(v entity.ReflectionVerdict) int {
	pos := s.Append(entity.SystemNote("Reflection: " + v.String()))
	s.state.Reflections = append(s.state.Reflections, v)
	s.state.ReflectionIDs = append(s.state.ReflectionIDs, pos)
	return pos
}

// RecordThought logs free text the model produced instead of a tool call.
func (s *Store) RecordThought(text string) int {
	pos := s.Append(entity.AssistantText(text))
	s.state.Thoughts = append(s.state.Thoughts, text)
	s.state.ThoughtIDs = append(s.state.ThoughtIDs, pos)
	return pos
}

func (s *Store) Snapshot() entity.ConversationState {
	return s.state.Clone()
}

func (s *Store) Len() int {
	return len(s.state.Messages)
}
