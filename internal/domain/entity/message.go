package entity

type MessageKind string

const (
	KindUserText          MessageKind = "user_text"
	KindAssistantText     MessageKind = "assistant_text"
	KindAssistantToolCall MessageKind = "assistant_tool_call"
	KindToolResult        MessageKind = "tool_result"
	KindSystemNote        MessageKind = "system_note"
)

// Message is one entry of the conversation log. Exactly one of Call/Result is
// set for the tool kinds; the text kinds only carry Content.
type Message struct {
	Kind    MessageKind
	Content string
	Call    *ToolCall
	Result  *ToolResult
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

func UserText(content string) Message {
	return Message{Kind: KindUserText, Content: content}
}

func AssistantText(content string) Message {
	return Message{Kind: KindAssistantText, Content: content}
}

func AssistantToolCall(call ToolCall) Message {
	c := call.Clone()
	return Message{Kind: KindAssistantToolCall, Call: &c}
}

func NewToolResult(result ToolResult) Message {
	r := result
	return Message{Kind: KindToolResult, Content: result.Content, Result: &r}
}

func SystemNote(content string) Message {
	return Message{Kind: KindSystemNote, Content: content}
}

// Clone returns a deep copy so snapshots never alias the log.
func (m Message) Clone() Message {
	out := m
	if m.Call != nil {
		c := m.Call.Clone()
		out.Call = &c
	}
	if m.Result != nil {
		r := *m.Result
		out.Result = &r
	}
	return out
}

func (c ToolCall) Clone() ToolCall {
	out := c
	out.Arguments = cloneValue(c.Arguments).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any{}
		}
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
