package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sourcegraph/conc/panics"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
)

const maxObservationLen = 20000

var _ output.ToolRegistry = (*ToolRegistryImpl)(nil)

// ToolRegistryImpl keeps tools in registration order so the rendered catalogue
// is stable between turns.
type ToolRegistryImpl struct {
	tools  map[entity.ToolName]output.ToolPort
	order  []entity.ToolName
	logger output.LoggerPort
}

func NewToolRegistry(logger output.LoggerPort) *ToolRegistryImpl {
	return &ToolRegistryImpl{
		tools:  make(map[entity.ToolName]output.ToolPort),
		logger: logger,
	}
}

func (r *ToolRegistryImpl) Register(tool output.ToolPort) error {
	name := tool.Name()
	if name == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "tool name is empty")
	}
	if name == entity.ToolUserInput {
		return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("tool name %q is reserved", name))
	}
	if _, exists := r.tools[name]; exists {
		return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("tool %q already registered", name))
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *ToolRegistryImpl) Get(name entity.ToolName) (output.ToolPort, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistryImpl) Descriptors() []entity.ToolDescriptor {
	result := make([]entity.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		result = append(result, entity.ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Args:        tool.Arguments(),
		})
	}
	return result
}

type renderedArg struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description,omitempty"`
}

type renderedTool struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Arguments   *yaml.Node `yaml:"arguments"`
}

// Render emits the catalogue as YAML. Arguments are written as an ordered
// mapping so the text matches the declaration order of each tool.
func (r *ToolRegistryImpl) Render() (string, error) {
	docs := make([]renderedTool, 0, len(r.order))
	for _, d := range r.Descriptors() {
		args := &yaml.Node{Kind: yaml.MappingNode}
		for _, a := range d.Args {
			typ := a.Type
			if typ == "" {
				typ = "string"
			}
			var val yaml.Node
			if err := val.Encode(renderedArg{Type: typ, Required: a.Required, Description: a.Description}); err != nil {
				return "", fmt.Errorf("failed to encode argument %s.%s: %w", d.Name, a.Name, err)
			}
			args.Content = append(args.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: a.Name},
				&val,
			)
		}
		docs = append(docs, renderedTool{
			Name:        d.Name.String(),
			Description: d.Description,
			Arguments:   args,
		})
	}

	out, err := yaml.Marshal(map[string]any{"tools": docs})
	if err != nil {
		return "", fmt.Errorf("failed to render tool registry: %w", err)
	}
	return string(out), nil
}

// Invoke validates the call against the tool's argument schema and runs it.
// A panicking tool is reported as an error instead of taking the run down.
func (r *ToolRegistryImpl) Invoke(ctx context.Context, call entity.ToolCall) (string, error) {
	tool, ok := r.tools[entity.ToolName(call.Name)]
	if !ok {
		return "", apperrors.New(apperrors.CodeToolNotFound,
			fmt.Sprintf("unknown tool '%s'", call.Name),
			apperrors.WithMetadata("tool", call.Name))
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArguments(tool, args); err != nil {
		return "", err
	}

	r.logger.Info("Executing tool", "name", call.Name, "callId", call.ID)

	var (
		result  string
		execErr error
		catcher panics.Catcher
	)
	catcher.Try(func() {
		result, execErr = tool.Execute(ctx, args)
	})
	if rec := catcher.Recovered(); rec != nil {
		r.logger.Error("Tool panicked", "name", call.Name, "panic", rec.String())
		return "", fmt.Errorf("tool %s panicked: %w", call.Name, rec.AsError())
	}
	if execErr != nil {
		r.logger.Error("Tool execution failed", "name", call.Name, "error", execErr)
		return "", execErr
	}

	result = truncateObservation(result)
	r.logger.Debug("Tool completed", "name", call.Name, "resultLen", len(result))
	return result, nil
}

// truncateObservation caps s at maxObservationLen bytes without splitting a
// UTF-8 sequence.
func truncateObservation(s string) string {
	if len(s) <= maxObservationLen {
		return s
	}
	cut := maxObservationLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}

func validateArguments(tool output.ToolPort, args map[string]any) error {
	desc := entity.ToolDescriptor{Name: tool.Name(), Args: tool.Arguments()}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(desc.JSONSchema()),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArgumentMismatch, err, "argument validation failed")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return apperrors.New(apperrors.CodeArgumentMismatch,
		fmt.Sprintf("invalid arguments for %s: %s", tool.Name(), strings.Join(problems, "; ")),
		apperrors.WithMetadata("tool", tool.Name().String()))
}
