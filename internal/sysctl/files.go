package sysctl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps how much of a file ReadFile returns.
const maxReadBytes = 100 * 1024

// resolvePath maps path into the workspace. Absolute paths are accepted
// only when they already lie inside it.
func (c *Controller) resolvePath(path string) (string, error) {
	root, err := filepath.Abs(c.workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	if path == "" {
		path = "."
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return abs, nil
}

// WriteFile creates or overwrites path with content, creating parent
// directories as needed.
func (c *Controller) WriteFile(path, content string) string {
	abs, err := c.resolvePath(path)
	if err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
}

// ReadFile returns the contents of path.
func (c *Controller) ReadFile(path string) string {
	abs, err := c.resolvePath(path)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n\n[... file truncated ...]"
	}
	return string(data)
}

// ListFiles lists the entries of a directory, directories suffixed with "/".
func (c *Controller) ListFiles(path string) string {
	abs, err := c.resolvePath(path)
	if err != nil {
		return fmt.Sprintf("Error listing files: %v", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Sprintf("Error listing files: %v", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty.", path)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Files in %s:\n%s", path, strings.Join(names, "\n"))
}

// ReplaceText replaces every occurrence of search in path with replace.
func (c *Controller) ReplaceText(path, search, replace string) string {
	if search == "" {
		return "Error replacing text: search_text is empty"
	}
	abs, err := c.resolvePath(path)
	if err != nil {
		return fmt.Sprintf("Error replacing text: %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error replacing text: %v", err)
	}

	n := strings.Count(string(data), search)
	if n == 0 {
		return fmt.Sprintf("Error: Text '%s' not found in %s", search, path)
	}
	updated := strings.ReplaceAll(string(data), search, replace)

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Sprintf("Error replacing text: %v", err)
	}
	if err := os.WriteFile(abs, []byte(updated), info.Mode().Perm()); err != nil {
		return fmt.Sprintf("Error replacing text: %v", err)
	}
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", n, path)
}
