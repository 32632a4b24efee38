package parser

// NormalizeToolCategory maps a raw tool name to a normalized
// category. Categories: Read, Edit, Write, Bash, Grep, Glob,
// Task, Web, Other. The category is stored as the Label of
// tool_call blocks.
func NormalizeToolCategory(rawName string) string {
	switch rawName {
	// Claude Code tools
	case "Read", "LS":
		return "Read"
	case "Edit", "MultiEdit":
		return "Edit"
	case "Write", "NotebookEdit":
		return "Write"
	case "Bash", "BashOutput", "KillShell", "PowerShell":
		return "Bash"
	case "Grep":
		return "Grep"
	case "Glob":
		return "Glob"
	case "Task", "Agent":
		return "Task"
	case "WebFetch", "WebSearch":
		return "Web"

	// Codex tools
	case "shell_command", "exec_command",
		"write_stdin", "shell", "local_shell":
		return "Bash"
	case "apply_patch":
		return "Edit"
	case "web_search":
		return "Web"

	// Gemini tools
	case "read_file", "read_many_files", "list_directory":
		return "Read"
	case "write_file":
		return "Write"
	case "replace", "edit_file":
		return "Edit"
	case "run_shell_command":
		return "Bash"
	case "search_file_content", "grep":
		return "Grep"
	case "glob":
		return "Glob"
	case "web_fetch", "google_web_search":
		return "Web"

	default:
		return "Other"
	}
}

// toolShell returns the shell a tool call implies by its name
// alone, or "".
func toolShell(name string) string {
	switch name {
	case "Bash":
		return "bash"
	case "PowerShell":
		return "powershell"
	}
	return ""
}
