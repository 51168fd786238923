package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
)

var (
	_ output.ToolPort = (*ReadFileTool)(nil)
	_ output.ToolPort = (*WriteFileTool)(nil)
	_ output.ToolPort = (*ConversationalResponseTool)(nil)
	_ output.ToolPort = (*FinalAnswerTool)(nil)
)

// Workspace confines file tools to a root directory.
type Workspace struct {
	root string
}

// NewWorkspace falls back to the current directory when root does not exist.
func NewWorkspace(root string, logger output.LoggerPort) Workspace {
	if root == "" {
		root = "./"
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		logger.Warn("Root directory does not exist, using ./", "root", root)
		root = "./"
	}
	return Workspace{root: root}
}

func (w Workspace) Root() string {
	return w.root
}

func (w Workspace) safePath(userPath string) (string, error) {
	userPath = strings.TrimSpace(userPath)
	if userPath == "" {
		return "", fmt.Errorf("file_path is required")
	}
	rootAbs, err := filepath.Abs(w.root)
	if err != nil {
		return "", err
	}
	candidate := userPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(rootAbs, candidate)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes root directory: %s", userPath)
	}
	return abs, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

type ReadFileTool struct {
	ws     Workspace
	logger output.LoggerPort
}

func NewReadFileTool(ws Workspace, logger output.LoggerPort) *ReadFileTool {
	return &ReadFileTool{ws: ws, logger: logger}
}

func (t *ReadFileTool) Name() entity.ToolName { return entity.ToolReadFile }
func (t *ReadFileTool) Description() string {
	return "Read the full contents of an existing text file under the root directory. Use it before editing a file or when the task refers to existing code."
}
func (t *ReadFileTool) Arguments() []entity.ArgSpec {
	return []entity.ArgSpec{
		{Name: "file_path", Type: "string", Required: true, Description: "Path of the file, relative to the root directory"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	filePath := stringArg(args, "file_path")
	p, err := t.ws.safePath(filePath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file '%s' not found", filePath)
		}
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	t.logger.Debug("File read", "path", p, "bytes", len(data))
	return fmt.Sprintf("Contents of file `%s`:\n\n<FILE_CONTENT>\n%s\n</FILE_CONTENT>", filePath, data), nil
}

type WriteFileTool struct {
	ws     Workspace
	logger output.LoggerPort
}

func NewWriteFileTool(ws Workspace, logger output.LoggerPort) *WriteFileTool {
	return &WriteFileTool{ws: ws, logger: logger}
}

func (t *WriteFileTool) Name() entity.ToolName { return entity.ToolWriteFile }
func (t *WriteFileTool) Description() string {
	return "Create or overwrite a text file under the root directory with the given content. Missing parent directories are created."
}
func (t *WriteFileTool) Arguments() []entity.ArgSpec {
	return []entity.ArgSpec{
		{Name: "file_path", Type: "string", Required: true, Description: "Path of the file, relative to the root directory"},
		{Name: "content", Type: "string", Required: true, Description: "Full file content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	filePath := stringArg(args, "file_path")
	content := stringArg(args, "content")
	p, err := t.ws.safePath(filePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", filePath, err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", filePath, err)
	}
	t.logger.Info("File written", "path", p, "bytes", len(content))
	return fmt.Sprintf("Successfully wrote to '%s'.\n\nCONTENT:\n\n%s", filePath, content), nil
}

// ConversationalResponseTool relays an intermediate message to the user
// without ending the run.
type ConversationalResponseTool struct{}

func NewConversationalResponseTool() *ConversationalResponseTool {
	return &ConversationalResponseTool{}
}

func (t *ConversationalResponseTool) Name() entity.ToolName {
	return entity.ToolConversationalResponse
}
func (t *ConversationalResponseTool) Description() string {
	return "Send an intermediate message to the user: a status update, clarification or explanation. Does not finish the task."
}
func (t *ConversationalResponseTool) Arguments() []entity.ArgSpec {
	return []entity.ArgSpec{
		{Name: "response", Type: "string", Required: true, Description: "Message for the user"},
	}
}

func (t *ConversationalResponseTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return stringArg(args, "response"), nil
}

// FinalAnswerTool is listed so the model can finish the run. The orchestrator
// ends the run when it is selected, so Execute only echoes the answer.
type FinalAnswerTool struct{}

func NewFinalAnswerTool() *FinalAnswerTool {
	return &FinalAnswerTool{}
}

func (t *FinalAnswerTool) Name() entity.ToolName { return entity.ToolFinalAnswer }
func (t *FinalAnswerTool) Description() string {
	return "Give the final answer to the user once the task is complete. This ends the run."
}
func (t *FinalAnswerTool) Arguments() []entity.ArgSpec {
	return []entity.ArgSpec{
		{Name: "answer", Type: "string", Required: true, Description: "Final answer for the user"},
	}
}

func (t *FinalAnswerTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return stringArg(args, "answer"), nil
}

// RegisterBuiltins adds the file and response tools to reg in a fixed order.
func RegisterBuiltins(reg output.ToolRegistry, ws Workspace, logger output.LoggerPort) error {
	builtins := []output.ToolPort{
		NewReadFileTool(ws, logger),
		NewWriteFileTool(ws, logger),
		NewConversationalResponseTool(),
		NewFinalAnswerTool(),
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}
	return nil
}
