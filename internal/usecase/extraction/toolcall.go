package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/infrastructure/prompts"
)

var (
	toolCallPattern  = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)
	openFencePattern = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	closeFence       = regexp.MustCompile("\\s*```$")
)

// ExtractToolCall looks for a <tool_call> block in text. The boolean is false
// when no block is present. A found block always goes through one repair
// pass against toolSchemas, and any malformed result is a fatal error.
func (p *Pipeline) ExtractToolCall(ctx context.Context, text, toolSchemas string) (*entity.ToolCall, bool, error) {
	m := toolCallPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false, nil
	}
	raw := strings.TrimSpace(m[1])

	prompt, err := prompts.GenerateToolCallRepairPrompt(prompts.ToolCallRepairData{
		ToolSchemas: toolSchemas,
		Input:       raw,
	})
	if err != nil {
		return nil, true, fmt.Errorf("failed to render tool call repair prompt: %w", err)
	}

	resp, err := p.llm.Complete(ctx, output.CompletionRequest{
		Messages: []entity.Message{entity.UserText(prompt)},
	})
	if err != nil {
		return nil, true, apperrors.Wrap(apperrors.CodeCompletionService, err, "tool call repair completion failed")
	}

	cleaned := stripFences(resp.Text)
	p.logger.Debug("Tool call repaired", "raw", raw, "repaired", cleaned)

	call, err := decodeToolCall(raw, cleaned)
	if err != nil {
		return nil, true, err
	}
	return call, true, nil
}

func decodeToolCall(raw, cleaned string) (*entity.ToolCall, error) {
	invalid := func(msg string) error {
		return apperrors.New(apperrors.CodeSchemaValidationFailure, msg,
			apperrors.WithMetadata("original", raw),
			apperrors.WithMetadata("repaired", cleaned))
	}

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSchemaValidationFailure, err,
			fmt.Sprintf("repaired tool call is not valid JSON; original: %s; repaired: %s", raw, cleaned))
	}
	if decoded == nil {
		return nil, invalid("tool call could not be repaired")
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, invalid(fmt.Sprintf("tool call must be an object, got %T", decoded))
	}

	name, ok := payload["name"].(string)
	if !ok || name == "" {
		return nil, invalid(fmt.Sprintf("invalid or missing tool name: %v", payload["name"]))
	}

	args, err := decodeArguments(payload["arguments"])
	if err != nil {
		return nil, invalid(err.Error())
	}

	return &entity.ToolCall{
		ID:        NewCallID(),
		Name:      name,
		Arguments: args,
	}, nil
}

// decodeArguments accepts an object, null, or a JSON string holding an object.
func decodeArguments(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case string:
		var inner any
		if err := json.Unmarshal([]byte(a), &inner); err != nil {
			return nil, fmt.Errorf("arguments string is not valid JSON: %s", a)
		}
		if m, ok := inner.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("tool arguments must be an object: %s", a)
	default:
		return nil, fmt.Errorf("tool arguments must be an object: %v", v)
	}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = openFencePattern.ReplaceAllString(s, "")
	s = closeFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// NewCallID returns an identifier of the form call_<32 hex chars>.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
