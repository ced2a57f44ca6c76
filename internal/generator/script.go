package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtractScript pulls the Python source out of a model reply. Replies usually
// wrap the code in a ```python fence surrounded by prose; when no fence is
// present the trimmed reply is returned. Only fences that start a line count,
// so indented backticks inside a docstring stay part of the code. The result
// always ends with a newline and extracting it again returns it unchanged.
func ExtractScript(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	open := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			open = i
			break
		}
	}
	if open == -1 {
		return strings.TrimSpace(content) + "\n"
	}
	body := lines[open+1:]
	for i, line := range body {
		if strings.TrimRight(line, " \t\r") == "```" {
			body = body[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(body, "\n")) + "\n"
}

// WriteScript writes the extracted script to <dir>/<sessionID>.py and returns
// the file path.
func WriteScript(dir, sessionID, content string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("session id is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, sessionID+".py")
	if err := os.WriteFile(path, []byte(ExtractScript(content)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
