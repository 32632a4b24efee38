package parser

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var todoIcons = map[string]string{
	"completed":   "✓",
	"in_progress": "→",
	"pending":     "○",
}

// formatToolCall renders a tool invocation as a short readable
// header plus, for commands, the command line. input may be absent.
func formatToolCall(name string, input gjson.Result) string {
	switch name {
	case "Read", "read_file":
		return fmt.Sprintf("[Read: %s]", argValue(input, "file_path", "absolute_path", "path"))
	case "Glob", "glob":
		return fmt.Sprintf("[Glob: %s in %s]",
			input.Get("pattern").Str,
			orDefault(argValue(input, "path", "dir_path"), "."))
	case "Grep", "search_file_content":
		return fmt.Sprintf("[Grep: %s]", input.Get("pattern").Str)
	case "Edit", "MultiEdit", "replace":
		return fmt.Sprintf("[Edit: %s]", argValue(input, "file_path", "path"))
	case "Write", "write_file":
		return fmt.Sprintf("[Write: %s]", argValue(input, "file_path", "path"))
	case "Bash", "PowerShell", "run_shell_command":
		return formatCommand(name, input)
	case "Task", "Agent":
		return fmt.Sprintf("[Task: %s (%s)]",
			input.Get("description").Str,
			input.Get("subagent_type").Str)
	case "TodoWrite":
		return formatTodoWrite(input)
	case "WebFetch", "web_fetch":
		return fmt.Sprintf("[Web: %s]", argValue(input, "url", "prompt"))
	case "apply_patch":
		return formatPatch(input)
	}
	if input.Exists() {
		if flat := collapseSpace(input.Raw); flat != "" {
			return fmt.Sprintf("[Tool: %s]\n%s", name, truncateRunes(flat, 220))
		}
	}
	return fmt.Sprintf("[Tool: %s]", name)
}

func formatCommand(name string, input gjson.Result) string {
	cmd := argValue(input, "command", "cmd")
	desc := input.Get("description").Str
	label := "Bash"
	if name == "PowerShell" {
		label = name
	}
	if desc != "" {
		return fmt.Sprintf("[%s: %s]\n$ %s", label, desc, cmd)
	}
	return fmt.Sprintf("[%s]\n$ %s", label, cmd)
}

func formatTodoWrite(input gjson.Result) string {
	lines := []string{"[Todo List]"}
	input.Get("todos").ForEach(func(_, todo gjson.Result) bool {
		icon := todoIcons[todo.Get("status").Str]
		if icon == "" {
			icon = "○"
		}
		lines = append(lines, fmt.Sprintf(
			"  %s %s", icon, todo.Get("content").Str,
		))
		return true
	})
	return strings.Join(lines, "\n")
}

// formatPatch lists the files an apply_patch call touches.
func formatPatch(input gjson.Result) string {
	patch := input.Get("patch").Str
	if patch == "" && input.Type == gjson.String {
		patch = input.Str
	}
	var files []string
	for line := range strings.SplitSeq(patch, "\n") {
		for _, prefix := range []string{
			"*** Add File: ",
			"*** Update File: ",
			"*** Delete File: ",
		} {
			if f, ok := strings.CutPrefix(line, prefix); ok {
				files = append(files, strings.TrimSpace(f))
			}
		}
	}
	if len(files) == 0 {
		return "[Edit]"
	}
	return "[Edit: " + strings.Join(files, ", ") + "]"
}

// toolResultText flattens a tool result, given as a string or an
// array of text blocks.
func toolResultText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		if content.Exists() {
			return content.Raw
		}
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if t := block.Get("text").Str; t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// argValue returns the first non-empty string field of args.
func argValue(args gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(args.Get(k).Str); v != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
