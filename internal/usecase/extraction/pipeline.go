// Package extraction turns unreliable model text into validated objects.
// Local extraction and parsing are tried first; the model is only asked to
// repair its output when they fail.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/domain/entity"
	apperrors "github.com/Idsl-group/code-agent/internal/errors"
	"github.com/Idsl-group/code-agent/internal/infrastructure/prompts"
	"github.com/Idsl-group/code-agent/internal/usecase/retry"
)

const (
	DefaultMaxAttempts = 5

	remediation = "check that the model is instructed to reply with a single JSON object, " +
		"or lower the temperature"
)

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*(.*?)```")
	bracePattern = regexp.MustCompile(`(?s)\{.*\}`)
)

type Options struct {
	// RequiredKeys must equal the parsed object's key set. Empty accepts any object.
	RequiredKeys []string
	// ToolSchemas is echoed into the repair prompt as the authoritative catalogue.
	ToolSchemas string
	// LocalOnly disables model-assisted repair.
	LocalOnly bool
}

type Pipeline struct {
	llm         output.CompletionPort
	logger      output.LoggerPort
	maxAttempts int
}

func New(llm output.CompletionPort, logger output.LoggerPort, maxAttempts int) *Pipeline {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Pipeline{
		llm:         llm,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Parse returns the object found in text. Input that already parses and has
// the required keys is returned without any completion call.
func (p *Pipeline) Parse(ctx context.Context, text string, opts Options) (map[string]any, error) {
	obj, localErr := parseLocal(text, opts.RequiredKeys)
	if localErr == nil {
		return obj, nil
	}
	p.logger.Debug("Local extraction failed", "error", localErr, "requiredKeys", opts.RequiredKeys)

	if opts.LocalOnly {
		return nil, apperrors.Wrap(apperrors.CodeExtractionFailure, localErr, "local extraction failed",
			apperrors.WithMetadata("input", text))
	}

	latest := text
	lastErr := localErr
	out := retry.Bounded(ctx, p.maxAttempts, func(ctx context.Context, attempt int) (map[string]any, error) {
		prompt, err := prompts.GenerateJSONRepairPrompt(prompts.JSONRepairData{
			RequiredKeys: opts.RequiredKeys,
			ToolSchemas:  opts.ToolSchemas,
			Problem:      lastErr.Error(),
			Input:        latest,
		})
		if err != nil {
			return nil, retry.Fatal(fmt.Errorf("failed to render repair prompt: %w", err))
		}

		resp, err := p.llm.Complete(ctx, output.CompletionRequest{
			SystemPrompt: prompts.JSONRepairSystemPrompt,
			Messages:     []entity.Message{entity.UserText(prompt)},
			Constraints:  output.Constraints{JSONOnly: true},
		})
		if err != nil {
			return nil, retry.Fatal(apperrors.Wrap(apperrors.CodeCompletionService, err, "repair completion failed"))
		}

		latest = resp.Text
		obj, err := parseLocal(latest, opts.RequiredKeys)
		if err != nil {
			lastErr = err
			p.logger.Warn("Repair attempt failed", "attempt", attempt, "maxAttempts", p.maxAttempts, "error", err)
			return nil, err
		}
		p.logger.Info("Repair attempt succeeded", "attempt", attempt)
		return obj, nil
	})

	if out.Ok() {
		return out.Value, nil
	}
	if apperrors.IsCode(out.Err, apperrors.CodeCompletionService) || ctx.Err() != nil {
		return nil, out.Err
	}
	return nil, exhausted(text, out.Attempts, out.Err)
}

func exhausted(original string, attempts int, last error) error {
	return apperrors.Wrap(apperrors.CodeExtractionFailure, last,
		fmt.Sprintf("no valid object after %d repair attempts; original input: %q; %s",
			attempts, original, remediation),
		apperrors.WithMetadata("input", original),
		apperrors.WithMetadata("attempts", strconv.Itoa(attempts)),
		apperrors.WithMetadata("guidance", remediation),
	)
}

func parseLocal(text string, required []string) (map[string]any, error) {
	candidate := extractCandidate(text)
	obj, err := parseObject(candidate)
	if err != nil {
		// The widest span may swallow braces from trailing prose; retry on
		// the first balanced object.
		first, ok := firstObject(text)
		if !ok || first == candidate {
			return nil, err
		}
		if obj, err = parseObject(first); err != nil {
			return nil, err
		}
	}
	if err := validateKeys(obj, required); err != nil {
		return nil, err
	}
	return obj, nil
}

// extractCandidate prefers a fenced block, then the widest brace span, then
// the trimmed text itself.
func extractCandidate(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		if inner := strings.TrimSpace(m[1]); inner != "" {
			return inner
		}
	}
	if m := bracePattern.FindString(text); m != "" {
		return m
	}
	return strings.TrimSpace(text)
}

// firstObject returns the first brace-balanced span of text. Braces inside
// single or double quoted strings are ignored.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	var (
		depth   int
		quote   byte
		escaped bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func parseObject(candidate string) (map[string]any, error) {
	var obj map[string]any
	strictErr := json.Unmarshal([]byte(candidate), &obj)
	if strictErr == nil && obj != nil {
		return obj, nil
	}

	obj, err := parseLiteral(candidate)
	if err != nil {
		if strictErr == nil {
			strictErr = fmt.Errorf("not a JSON object")
		}
		return nil, apperrors.Wrap(apperrors.CodeSchemaValidationFailure, strictErr,
			"output is neither JSON nor an object literal")
	}
	return obj, nil
}

func validateKeys(obj map[string]any, required []string) error {
	if len(required) == 0 {
		return nil
	}

	want := make(map[string]bool, len(required))
	for _, k := range required {
		want[k] = true
	}

	var missing, unexpected []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range obj {
		if !want[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	sort.Strings(unexpected)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing keys: "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected keys: "+strings.Join(unexpected, ", "))
	}
	return apperrors.New(apperrors.CodeSchemaValidationFailure, strings.Join(parts, "; "))
}
