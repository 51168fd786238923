package entity

// ConversationState is the full record of a run. Reflections and Thoughts are
// also present in Messages; the ID slices hold their log positions.
type ConversationState struct {
	Messages      []Message
	Reflections   []ReflectionVerdict
	Thoughts      []string
	ReflectionIDs []int
	ThoughtIDs    []int
}

func (s ConversationState) Clone() ConversationState {
	out := ConversationState{
		Messages:      make([]Message, len(s.Messages)),
		Reflections:   append([]ReflectionVerdict(nil), s.Reflections...),
		Thoughts:      append([]string(nil), s.Thoughts...),
		ReflectionIDs: append([]int(nil), s.ReflectionIDs...),
		ThoughtIDs:    append([]int(nil), s.ThoughtIDs...),
	}
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Task returns the first user message, which is the original request.
func (s ConversationState) Task() string {
	for _, m := range s.Messages {
		if m.Kind == KindUserText {
			return m.Content
		}
	}
	return ""
}

// LastToolResult returns the most recent tool result, if any.
func (s ConversationState) LastToolResult() (ToolResult, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m.Kind == KindToolResult && m.Result != nil {
			return *m.Result, true
		}
	}
	return ToolResult{}, false
}

// LastReflection returns the latest verdict, if any.
func (s ConversationState) LastReflection() (ReflectionVerdict, bool) {
	if len(s.Reflections) == 0 {
		return ReflectionVerdict{}, false
	}
	return s.Reflections[len(s.Reflections)-1], true
}

// Window keeps the first message (the task) plus the last n messages.
// n <= 0 keeps everything.
func (s ConversationState) Window(n int) []Message {
	if n <= 0 || len(s.Messages) <= n+1 {
		return s.Messages
	}
	out := make([]Message, 0, n+1)
	out = append(out, s.Messages[0])
	out = append(out, s.Messages[len(s.Messages)-n:]...)
	return out
}
