package prompts

import (
	_ "embed"
)

//go:embed tool_system.txt
var ToolSystemTemplate string

//go:embed reflection_system.txt
var ReflectionSystemPrompt string

//go:embed reflection.txt
var ReflectionTemplate string

//go:embed user_input_directive.txt
var UserInputDirectiveTemplate string

//go:embed json_repair_system.txt
var JSONRepairSystemPrompt string

//go:embed json_repair.txt
var JSONRepairTemplate string

//go:embed tool_call_repair.txt
var ToolCallRepairTemplate string
