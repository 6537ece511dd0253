package agent

import (
	"context"
	"errors"
	"strings"
)

const (
	modelErrorGeneric   = "the model request failed"
	maxLoggedValueChars = 200
)

// SummarizeModelError turns a model failure into a short user-facing reason.
func SummarizeModelError(err error) string {
	if err == nil {
		return modelErrorGeneric
	}
	if errors.Is(err, context.Canceled) {
		return "the request was canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the model request timed out"
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "the model request timed out"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return "the model request was rate-limited"
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "529"), strings.Contains(msg, "503"):
		return "the model service is overloaded"
	case strings.Contains(msg, "401"), strings.Contains(msg, "authentication"), strings.Contains(msg, "api key"):
		return "the model rejected the configured credentials"
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"), strings.Contains(msg, "dial"), strings.Contains(msg, "refused"), strings.Contains(msg, "reset"):
		return "there was a network issue reaching the model"
	default:
		return modelErrorGeneric
	}
}

// toolArgsSummary picks loggable fields out of tool input. File contents and
// free text are reduced to sizes.
func toolArgsSummary(toolName string, params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}

	out := make(map[string]any)
	for _, key := range []string{"filePath", "path", "query", "url", "command"} {
		if v, ok := params[key].(string); ok && strings.TrimSpace(v) != "" {
			out[key] = truncateString(strings.TrimSpace(v), maxLoggedValueChars)
		}
	}
	for _, key := range []string{"content", "text", "newString", "oldString"} {
		if v, ok := params[key].(string); ok {
			out[key+"_len"] = len(v)
		}
	}
	switch toolName {
	case ToolCreateFile, ToolReplaceFile:
		out["fallback_eligible"] = true
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
