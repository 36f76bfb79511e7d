package chunk

import (
	"path/filepath"
	"strings"
)

// extToLanguage maps file extensions to language names for search
// filtering and display.
var extToLanguage = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".lua":   "lua",
	".r":     "r",
	".pl":    "perl",
	".ex":    "elixir",
	".exs":   "elixir",
	".zig":   "zig",
	".proto": "protobuf",

	".md":       "markdown",
	".markdown": "markdown",
	".mdx":      "markdown",
	".rst":      "restructuredtext",
	".txt":      "text",
	".adoc":     "asciidoc",

	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".env":   "dotenv",
	".mk":    "make",
	".cmake": "cmake",
}

// markdownExtensions are treated as markdown content.
var markdownExtensions = map[string]bool{
	".md": true, ".markdown": true, ".mdx": true,
}

// textExtensions are prose rather than code.
var textExtensions = map[string]bool{
	".txt": true, ".rst": true, ".adoc": true, ".log": true,
}

// DetectLanguage returns the language name for a path, or "" when the
// extension is unknown.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extToLanguage[ext]; ok {
		return lang
	}
	base := strings.ToLower(filepath.Base(path))
	switch base {
	case "makefile", "gnumakefile":
		return "make"
	case "dockerfile":
		return "dockerfile"
	}
	return ""
}

// DetectContentType classifies a path as code, markdown or plain text.
func DetectContentType(path string) ContentType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case markdownExtensions[ext]:
		return ContentTypeMarkdown
	case textExtensions[ext]:
		return ContentTypeText
	case ext == "":
		// Makefile, Dockerfile and friends
		if DetectLanguage(path) != "" {
			return ContentTypeCode
		}
		return ContentTypeText
	default:
		return ContentTypeCode
	}
}
