package prompts

import (
	"bytes"
	"strings"
	"text/template"
)

type ToolSystemData struct {
	Tools string
}

type ReflectionData struct {
	Tools      string
	Task       string
	ToolName   string
	ToolResult string
	Schema     string
}

type JSONRepairData struct {
	RequiredKeys []string
	ToolSchemas  string
	Problem      string
	Input        string
}

type ToolCallRepairData struct {
	ToolSchemas string
	Input       string
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

func GenerateToolSystemPrompt(tools string) (string, error) {
	return render("tool_system", ToolSystemTemplate, ToolSystemData{Tools: tools})
}

func GenerateReflectionPrompt(data ReflectionData) (string, error) {
	return render("reflection", ReflectionTemplate, data)
}

// GenerateUserInputDirective wraps a human answer so the reflection step
// treats it as new input rather than a finished result.
func GenerateUserInputDirective(input string) (string, error) {
	return render("user_input_directive", UserInputDirectiveTemplate, struct{ Input string }{Input: input})
}

func GenerateJSONRepairPrompt(data JSONRepairData) (string, error) {
	return render("json_repair", JSONRepairTemplate, data)
}

func GenerateToolCallRepairPrompt(data ToolCallRepairData) (string, error) {
	return render("tool_call_repair", ToolCallRepairTemplate, data)
}

func render(name, baseTemplate string, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(baseTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
