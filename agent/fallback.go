package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quailyquaily/slackrelay/llm"
)

// Tools that need an editor authoring context and fail when called from the
// relay. Their file effect is applied directly instead.
const (
	ToolCreateFile  = "copilot_createFile"
	ToolReplaceFile = "copilot_replaceFile"
)

// structuralFallback reports whether call is eligible and, if so, writes the
// file the tool describes.
func (e *Engine) structuralFallback(call llm.ToolCallPart) (string, bool, error) {
	var verb string
	switch call.Name {
	case ToolCreateFile:
		verb = "Created"
	case ToolReplaceFile:
		verb = "Replaced"
	default:
		return "", false, nil
	}
	path, _ := call.Input["filePath"].(string)
	path = strings.TrimSpace(path)
	if path == "" {
		return "", true, fmt.Errorf("filePath is required")
	}
	content, ok := call.Input["content"].(string)
	if !ok {
		return "", true, fmt.Errorf("content is required")
	}
	resolved := resolveWorkspacePath(e.roots, path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", true, fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return "", true, fmt.Errorf("write file: %w", err)
	}
	return fmt.Sprintf("%s file %s", verb, resolved), true, nil
}

// resolveWorkspacePath joins a relative path onto the first workspace root.
// Without roots the path is used as given.
func resolveWorkspacePath(roots []string, path string) string {
	path = strings.TrimPrefix(path, "file://")
	if filepath.IsAbs(path) || len(roots) == 0 {
		return filepath.Clean(path)
	}
	return filepath.Join(roots[0], path)
}
