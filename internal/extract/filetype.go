package extract

import (
	"path/filepath"
	"strings"
)

// PlainText is the file type reported when neither the extension nor the content is recognised.
const PlainText = "plaintext"

var extensionTypes = map[string]string{
	".js":    "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".tsx":   "tsx",
	".py":    "python",
	".java":  "java",
	".c":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".cs":    "csharp",
	".go":    "go",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".rs":    "rust",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".scala": "scala",
	".dart":  "dart",
	".html":  "html",
	".css":   "css",
	".json":  "json",
	".xml":   "xml",
	".yaml":  "yaml",
	".yml":   "yaml",
	".md":    "markdown",
	".sh":    "shell",
	".sql":   "sql",
}

// DetectFileType classifies a document by its file extension, falling back to
// a coarse look at the content.
func DetectFileType(filename, content string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	switch {
	case strings.Contains(content, "function") && strings.Contains(content, "{") && strings.Contains(content, "}"):
		return "javascript"
	case strings.Contains(content, "class") && strings.Contains(content, "{") && strings.Contains(content, "public"):
		return "java"
	case strings.Contains(content, "def ") && strings.Contains(content, ":"):
		return "python"
	}
	return PlainText
}
