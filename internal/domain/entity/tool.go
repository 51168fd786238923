package entity

type ToolName string

const (
	ToolReadFile               ToolName = "read_file"
	ToolWriteFile              ToolName = "write_file"
	ToolConversationalResponse ToolName = "conversational_response"
	ToolFinalAnswer            ToolName = "final_answer"

	// ToolUserInput is reserved for the synthetic result recorded after a
	// human answers a question. It is never registered as a callable tool.
	ToolUserInput ToolName = "user_input"
)

func (t ToolName) String() string {
	return string(t)
}

type ArgSpec struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

type ToolDescriptor struct {
	Name        ToolName
	Description string
	Args        []ArgSpec
}

// JSONSchema renders the argument list as a closed JSON Schema object.
func (d ToolDescriptor) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Args))
	required := make([]any, 0, len(d.Args))
	for _, a := range d.Args {
		typ := a.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if a.Description != "" {
			prop["description"] = a.Description
		}
		props[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
