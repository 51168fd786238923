package userinteraction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

var (
	_ output.HumanInputPort = (*ConsoleUserInteraction)(nil)
	_ output.ProgressPort   = (*ConsoleUserInteraction)(nil)
)

type ConsoleUserInteraction struct {
	reader *bufio.Reader
	out    io.Writer
}

func NewConsoleUserInteraction() *ConsoleUserInteraction {
	return NewConsoleUserInteractionWith(os.Stdin, os.Stdout)
}

func NewConsoleUserInteractionWith(in io.Reader, out io.Writer) *ConsoleUserInteraction {
	return &ConsoleUserInteraction{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

func (u *ConsoleUserInteraction) AskQuestion(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	magenta := color.New(color.FgMagenta, color.Bold)
	magenta.Fprintf(u.out, "\n[USER INPUT REQUIRED] %s\n> ", question)

	answer, err := u.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && answer != "") {
		return "", fmt.Errorf("failed to read user input: %w", err)
	}

	return strings.TrimSpace(answer), nil
}

func (u *ConsoleUserInteraction) ShowState(ctx context.Context, state string, turn int) {
	if state != "SELECT_TOOL" {
		return
	}
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(u.out, "\n━━━ Turn %d ━━━\n", turn)
}

func (u *ConsoleUserInteraction) ShowToolStart(ctx context.Context, call entity.ToolCall) {
	icon, name := getToolDisplay(call.Name)

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(u.out, "\n%s %s\n", icon, name)

	if summary := formatToolArguments(call); summary != "" {
		dim := color.New(color.Faint)
		dim.Fprintf(u.out, "   %s\n", summary)
	}
}

func (u *ConsoleUserInteraction) ShowToolResult(ctx context.Context, result entity.ToolResult) {
	if result.IsError {
		red := color.New(color.FgRed)
		red.Fprint(u.out, "❌ Error: ")

		dim := color.New(color.Faint)
		dim.Fprintln(u.out, truncate(result.Content, 300))
		return
	}

	green := color.New(color.FgGreen)
	green.Fprintf(u.out, "✓ %s\n", formatToolResult(result))
}

func (u *ConsoleUserInteraction) ShowReflection(ctx context.Context, verdict entity.ReflectionVerdict) {
	blue := color.New(color.FgBlue)
	blue.Fprintf(u.out, "\n💭 Reflection: %s", verdict.Decision)

	if verdict.Instruction != "" {
		dim := color.New(color.Faint)
		dim.Fprintf(u.out, " | %s", truncate(verdict.Instruction, 200))
	}
	fmt.Fprintln(u.out)
}

func getToolDisplay(toolName string) (string, string) {
	displays := map[entity.ToolName][2]string{
		entity.ToolReadFile:               {"📖", "Read file"},
		entity.ToolWriteFile:              {"✏️", "Write file"},
		entity.ToolConversationalResponse: {"💬", "Respond"},
		entity.ToolFinalAnswer:            {"🏁", "Final answer"},
		entity.ToolUserInput:              {"❓", "User input"},
	}

	if display, ok := displays[entity.ToolName(toolName)]; ok {
		return display[0], display[1]
	}
	return "🔧", toolName
}

func formatToolArguments(call entity.ToolCall) string {
	args := call.Arguments

	switch entity.ToolName(call.Name) {
	case entity.ToolReadFile:
		if path, ok := args["file_path"].(string); ok {
			return fmt.Sprintf("File: %s", path)
		}

	case entity.ToolWriteFile:
		if path, ok := args["file_path"].(string); ok {
			content, _ := args["content"].(string)
			return fmt.Sprintf("File: %s (%d bytes)", path, len(content))
		}

	case entity.ToolConversationalResponse:
		if response, ok := args["response"].(string); ok {
			return truncate(response, 80)
		}
	}

	return ""
}

func formatToolResult(result entity.ToolResult) string {
	switch entity.ToolName(result.Name) {
	case entity.ToolReadFile:
		if lines := strings.Count(result.Content, "\n"); lines > 0 {
			return fmt.Sprintf("Read %d lines", lines)
		}

	case entity.ToolWriteFile:
		if first, _, ok := strings.Cut(result.Content, "\n"); ok {
			return first
		}

	case entity.ToolUserInput:
		return fmt.Sprintf("Answer: %s", truncate(result.Content, 80))
	}

	return truncate(result.Content, 100)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
